package domain

// Purchase rule type constants.
const (
	RuleAllOf             = "all_of"
	RuleAnyOf             = "any_of"
	RuleMinQuantity       = "min_quantity"
	RuleMaxQuantity       = "max_quantity"
	RuleMinAge            = "min_age"
	RuleForbiddenCategory = "forbidden_category"
	RuleExpression        = "expression"
)

// Discount rule type constants.
const (
	DiscountPercentage  = "percentage"
	DiscountFixedAmount = "fixed_amount"
	DiscountBuyXGetY    = "buy_x_get_y"
)

// PurchaseRule is one node of a store's purchase policy tree. The zero value
// has no type and accepts every basket.
//
// Quantity rules apply to ProductID when set, otherwise to Category when
// set, otherwise to the whole basket. MinAge applies only when Category is
// present in the basket, or always when Category is empty.
type PurchaseRule struct {
	Type        string         `json:"type" validate:"omitempty,oneof=all_of any_of min_quantity max_quantity min_age forbidden_category expression"`
	Description string         `json:"description,omitempty"`
	ProductID   string         `json:"product_id,omitempty"`
	Category    string         `json:"category,omitempty"`
	Quantity    int            `json:"quantity,omitempty" validate:"gte=0"`
	Age         int            `json:"age,omitempty" validate:"gte=0"`
	Expression  string         `json:"expression,omitempty"`
	Rules       []PurchaseRule `json:"rules,omitempty" validate:"dive"`
}

// IsEmpty reports whether the rule imposes nothing.
func (r PurchaseRule) IsEmpty() bool {
	return r.Type == ""
}

// DiscountRule is one price adjustment. Rules apply in ascending Priority;
// rules with equal priority keep their position in the policy.
//
// Percentage discounts apply to ProductID lines when set, otherwise to
// Category lines when set, otherwise to the running total. Condition is an
// optional boolean expression gating the rule.
type DiscountRule struct {
	ID              string `json:"id"`
	Type            string `json:"type" validate:"required,oneof=percentage fixed_amount buy_x_get_y"`
	Priority        int    `json:"priority"`
	ProductID       string `json:"product_id,omitempty"`
	Category        string `json:"category,omitempty"`
	Percent         int    `json:"percent,omitempty" validate:"gte=0,lte=100"`
	Amount          int64  `json:"amount,omitempty" validate:"gte=0"`
	MinBasketAmount int64  `json:"min_basket_amount,omitempty" validate:"gte=0"`
	BuyQuantity     int    `json:"buy_quantity,omitempty" validate:"gte=0"`
	FreeQuantity    int    `json:"free_quantity,omitempty" validate:"gte=0"`
	Condition       string `json:"condition,omitempty"`
}
