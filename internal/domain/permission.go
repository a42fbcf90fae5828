package domain

import (
	"encoding/json"
	"fmt"
	"math/bits"
	"strings"
)

// Capability is a single named store permission.
type Capability uint8

// Capability vocabulary. The set is closed; PermissionSet relies on it fitting in 16 bits.
const (
	CapManageInventory Capability = iota
	CapViewStaff
	CapViewCustomerQuestions
	CapEditPurchasePolicy
	CapEditDiscountPolicy
	CapViewPurchaseHistory
	CapOpenCloseStore

	capabilityCount
)

var capabilityNames = [capabilityCount]string{
	CapManageInventory:       "manage-inventory",
	CapViewStaff:             "view-staff",
	CapViewCustomerQuestions: "view-customer-questions",
	CapEditPurchasePolicy:    "edit-purchase-policy",
	CapEditDiscountPolicy:    "edit-discount-policy",
	CapViewPurchaseHistory:   "view-purchase-history",
	CapOpenCloseStore:        "open-close-store",
}

// String returns the wire name of the capability.
func (c Capability) String() string {
	if c >= capabilityCount {
		return fmt.Sprintf("capability(%d)", uint8(c))
	}
	return capabilityNames[c]
}

// ParseCapability resolves a wire name into a Capability.
func ParseCapability(name string) (Capability, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	for i, n := range capabilityNames {
		if n == name {
			return Capability(i), nil
		}
	}
	return 0, fmt.Errorf("unknown capability %q", name)
}

// AllCapabilities returns the full vocabulary in declaration order.
func AllCapabilities() []Capability {
	caps := make([]Capability, capabilityCount)
	for i := range caps {
		caps[i] = Capability(i)
	}
	return caps
}

// PermissionSet is a bitset over the capability vocabulary.
type PermissionSet uint16

// Well-known permission sets.
var (
	FullPermissions = NewPermissionSet(AllCapabilities()...)

	// ManagerDefaultPermissions is what a freshly appointed manager receives.
	ManagerDefaultPermissions = NewPermissionSet(CapManageInventory)

	// ManagerCeiling is the widest set a manager may ever hold.
	ManagerCeiling = FullPermissions &^ NewPermissionSet(CapOpenCloseStore, CapEditPurchasePolicy, CapEditDiscountPolicy)
)

// NewPermissionSet builds a set containing exactly the given capabilities.
func NewPermissionSet(caps ...Capability) PermissionSet {
	var p PermissionSet
	for _, c := range caps {
		p = p.With(c)
	}
	return p
}

// Has reports whether c is granted.
func (p PermissionSet) Has(c Capability) bool {
	return c < capabilityCount && p&(1<<c) != 0
}

// With returns a copy of p with c granted.
func (p PermissionSet) With(c Capability) PermissionSet {
	if c >= capabilityCount {
		return p
	}
	return p | 1<<c
}

// Without returns a copy of p with c removed.
func (p PermissionSet) Without(c Capability) PermissionSet {
	return p &^ (1 << c)
}

// Beyond returns the capabilities of p that fall outside ceiling.
func (p PermissionSet) Beyond(ceiling PermissionSet) PermissionSet {
	return p &^ ceiling
}

// Len returns the number of granted capabilities.
func (p PermissionSet) Len() int {
	return bits.OnesCount16(uint16(p))
}

// Capabilities lists the granted capabilities in declaration order.
func (p PermissionSet) Capabilities() []Capability {
	caps := make([]Capability, 0, p.Len())
	for _, c := range AllCapabilities() {
		if p.Has(c) {
			caps = append(caps, c)
		}
	}
	return caps
}

// Names lists the granted capability names in declaration order.
func (p PermissionSet) Names() []string {
	names := make([]string, 0, p.Len())
	for _, c := range p.Capabilities() {
		names = append(names, c.String())
	}
	return names
}

func (p PermissionSet) String() string {
	return "{" + strings.Join(p.Names(), ",") + "}"
}

// ParsePermissionSet builds a set from capability names.
func ParsePermissionSet(names []string) (PermissionSet, error) {
	var p PermissionSet
	for _, n := range names {
		c, err := ParseCapability(n)
		if err != nil {
			return 0, err
		}
		p = p.With(c)
	}
	return p, nil
}

// MarshalJSON encodes the set as a list of capability names.
func (p PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Names())
}

// UnmarshalJSON decodes a list of capability names.
func (p *PermissionSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	set, err := ParsePermissionSet(names)
	if err != nil {
		return err
	}
	*p = set
	return nil
}
