package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Cart ---

func TestCart_SetQuantityAndRemove(t *testing.T) {
	c := NewCart("u-1")
	c.SetQuantity("s-2", "p-1", 3)
	c.SetQuantity("s-1", "p-9", 1)
	c.SetQuantity("s-1", "p-2", 2)

	assert.Equal(t, []string{"s-1", "s-2"}, c.StoreIDs())
	assert.Equal(t, []string{"p-2", "p-9"}, c.Baskets["s-1"].ProductIDs())
	assert.Equal(t, 6, c.ItemCount())
	assert.Equal(t, 3, c.Version)

	c.SetQuantity("s-2", "p-1", 0)
	_, ok := c.Baskets["s-2"]
	assert.False(t, ok, "emptied basket should be dropped")

	assert.True(t, c.Remove("s-1", "p-9"))
	assert.False(t, c.Remove("s-1", "p-9"))
	assert.False(t, c.IsEmpty())

	c.Remove("s-1", "p-2")
	assert.True(t, c.IsEmpty())
}

func TestCart_CloneIsDeep(t *testing.T) {
	c := NewCart("u-1")
	c.SetQuantity("s-1", "p-1", 1)

	cp := c.Clone()
	cp.SetQuantity("s-1", "p-1", 5)

	assert.Equal(t, 1, c.Quantity("s-1", "p-1"))
	assert.Equal(t, 5, cp.Quantity("s-1", "p-1"))
}

// --- Transaction ---

func TestTransaction_Advance(t *testing.T) {
	tx := NewTransaction("tx-1", "u-1")

	require.NoError(t, tx.Advance(StatusPriced))
	require.NoError(t, tx.Advance(StatusReserved))
	assert.Error(t, tx.Advance(StatusPriced), "cannot move backwards")
	require.NoError(t, tx.Advance(StatusPaid))
	require.NoError(t, tx.Advance(StatusSupplied))
	require.NoError(t, tx.Advance(StatusCommitted))

	assert.True(t, tx.IsTerminal())
	assert.Error(t, tx.Advance(StatusCommitted))
}

func TestTransaction_Abort(t *testing.T) {
	tx := NewTransaction("tx-1", "u-1")
	require.NoError(t, tx.Advance(StatusPriced))

	tx.Abort(AbortSupplyFailed, "carrier offline")
	assert.Equal(t, StatusAborted, tx.Status)
	assert.True(t, tx.NeedsReconciliation())

	tx.Abort(AbortPaymentFailed, "ignored")
	assert.Equal(t, AbortSupplyFailed, tx.AbortReason, "terminal state is sticky")
}

func TestTransaction_Steps(t *testing.T) {
	tx := NewTransaction("tx-1", "u-1")
	tx.BeginStep(SagaStepReserveInventory).Complete()
	tx.BeginStep(SagaStepChargePayment).Fail("declined")
	tx.Step(SagaStepReserveInventory).Compensate()

	assert.Equal(t, SagaStepCompensated, tx.Step(SagaStepReserveInventory).Status)
	assert.Equal(t, "declined", tx.Step(SagaStepChargePayment).Error)
	assert.Nil(t, tx.Step(SagaStepDispatchSupply))
}

func TestStoreBasket_Totals(t *testing.T) {
	b := &StoreBasket{Lines: []LineItem{
		{ProductID: "p-1", UnitPrice: 250, Quantity: 2},
		{ProductID: "p-2", UnitPrice: 1000, Quantity: 1},
	}}
	assert.Equal(t, int64(1500), b.Subtotal())
	assert.Equal(t, 3, b.TotalQuantity())
}

func TestProductQuery_Matches(t *testing.T) {
	p := &Product{Name: "Blue Widget", Category: "Tools", Keywords: []string{"metal", "Gadget"}}

	assert.True(t, ProductQuery{}.Matches(p))
	assert.True(t, ProductQuery{Name: "widget"}.Matches(p))
	assert.True(t, ProductQuery{Category: "tools", Keyword: "gadget"}.Matches(p))
	assert.False(t, ProductQuery{Category: "food"}.Matches(p))
	assert.False(t, ProductQuery{Keyword: "wood"}.Matches(p))
}
