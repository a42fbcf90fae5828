package store

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/marketplace/internal/domain"
)

func newTestDirectory(t *testing.T) *StaffDirectory {
	t.Helper()
	return NewStaffDirectory("store-1", "founder")
}

func TestStaffDirectory_FounderHoldsEverything(t *testing.T) {
	d := newTestDirectory(t)

	for _, c := range domain.AllCapabilities() {
		assert.True(t, d.HasPermission("founder", c), c.String())
	}
	assert.False(t, d.HasPermission("stranger", domain.CapManageInventory))
}

func TestStaffDirectory_Appoint(t *testing.T) {
	d := newTestDirectory(t)

	owner, err := d.Appoint("founder", "owner", domain.RoleOwner)
	require.NoError(t, err)
	assert.Equal(t, "founder", owner.Appointer)
	assert.Equal(t, domain.FullPermissions, owner.Permissions)

	manager, err := d.Appoint("owner", "manager", domain.RoleManager)
	require.NoError(t, err)
	assert.Equal(t, domain.ManagerDefaultPermissions, manager.Permissions)
	assert.True(t, d.HasPermission("manager", domain.CapManageInventory))
	assert.False(t, d.HasPermission("manager", domain.CapViewStaff))
}

func TestStaffDirectory_Appoint_Errors(t *testing.T) {
	d := newTestDirectory(t)
	_, err := d.Appoint("founder", "manager", domain.RoleManager)
	require.NoError(t, err)

	tests := []struct {
		name      string
		appointer string
		newStaff  string
		role      domain.Role
		want      error
	}{
		{"stranger cannot appoint", "stranger", "x", domain.RoleManager, domain.ErrNotAuthorized},
		{"manager cannot appoint", "manager", "x", domain.RoleManager, domain.ErrNotAuthorized},
		{"nobody appoints a founder", "founder", "x", domain.RoleFounder, domain.ErrNotAuthorized},
		{"already appointed", "founder", "manager", domain.RoleOwner, domain.ErrAlreadyAppointed},
		{"founder already appointed", "founder", "founder", domain.RoleOwner, domain.ErrAlreadyAppointed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Appoint(tt.appointer, tt.newStaff, tt.role)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
	assert.Equal(t, 2, d.Len())
}

func TestStaffDirectory_Revoke_Cascades(t *testing.T) {
	d := newTestDirectory(t)
	mustAppoint(t, d, "founder", "o1", domain.RoleOwner)
	mustAppoint(t, d, "o1", "o2", domain.RoleOwner)
	mustAppoint(t, d, "o1", "m1", domain.RoleManager)
	mustAppoint(t, d, "o2", "m2", domain.RoleManager)
	mustAppoint(t, d, "founder", "m3", domain.RoleManager)

	removed, err := d.Revoke("founder", "o1")
	require.NoError(t, err)
	assert.Equal(t, []string{"o1", "o2", "m1", "m2"}, removed)

	for _, id := range removed {
		_, ok := d.Appointment(id)
		assert.False(t, ok, id)
	}
	_, ok := d.Appointment("m3")
	assert.True(t, ok)
	assert.Equal(t, 2, d.Len())
}

func TestStaffDirectory_Revoke_RequiresAncestry(t *testing.T) {
	d := newTestDirectory(t)
	mustAppoint(t, d, "founder", "o1", domain.RoleOwner)
	mustAppoint(t, d, "founder", "o2", domain.RoleOwner)
	mustAppoint(t, d, "o1", "m1", domain.RoleManager)

	tests := []struct {
		name    string
		revoker string
		target  string
	}{
		{"sibling owner", "o2", "m1"},
		{"descendant revoking ancestor", "o1", "founder"},
		{"self revocation", "o1", "o1"},
		{"stranger", "stranger", "m1"},
		{"founder cannot be revoked", "founder", "founder"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Revoke(tt.revoker, tt.target)
			assert.True(t, errors.Is(err, domain.ErrNotAuthorized), "got %v", err)
		})
	}

	// Transitive ancestors may revoke.
	removed, err := d.Revoke("founder", "m1")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, removed)
}

func TestStaffDirectory_SetPermissions(t *testing.T) {
	d := newTestDirectory(t)
	mustAppoint(t, d, "founder", "owner", domain.RoleOwner)
	mustAppoint(t, d, "owner", "manager", domain.RoleManager)

	widened := domain.NewPermissionSet(domain.CapManageInventory, domain.CapViewPurchaseHistory)
	require.NoError(t, d.SetPermissions("owner", "manager", widened))
	assert.True(t, d.HasPermission("manager", domain.CapViewPurchaseHistory))

	// Full replacement: unlisted capabilities reset.
	require.NoError(t, d.SetPermissions("owner", "manager", domain.NewPermissionSet(domain.CapViewStaff)))
	assert.False(t, d.HasPermission("manager", domain.CapManageInventory))
	assert.True(t, d.HasPermission("manager", domain.CapViewStaff))

	// Only the direct appointer.
	err := d.SetPermissions("founder", "manager", widened)
	assert.True(t, errors.Is(err, domain.ErrNotAuthorized))

	// Owner grants are immutable.
	err = d.SetPermissions("founder", "owner", domain.NewPermissionSet(domain.CapViewStaff))
	assert.True(t, errors.Is(err, domain.ErrNotAuthorized))
}

func TestStaffDirectory_PermissionCeiling(t *testing.T) {
	d := newTestDirectory(t)
	mustAppoint(t, d, "founder", "manager", domain.RoleManager)

	for _, c := range []domain.Capability{domain.CapOpenCloseStore, domain.CapEditPurchasePolicy, domain.CapEditDiscountPolicy} {
		err := d.SetPermissions("founder", "manager", domain.NewPermissionSet(domain.CapManageInventory, c))
		assert.True(t, errors.Is(err, domain.ErrInvalidPermission), c.String())
	}
	err := d.SetPermissions("founder", "manager", domain.FullPermissions)
	assert.True(t, errors.Is(err, domain.ErrInvalidPermission))

	a, ok := d.Appointment("manager")
	require.True(t, ok)
	assert.Equal(t, domain.ManagerDefaultPermissions, a.Permissions, "rejected requests leave the grant untouched")
	assert.False(t, d.HasPermission("manager", domain.CapOpenCloseStore))
	assert.False(t, d.HasPermission("manager", domain.CapEditPurchasePolicy))
}

func TestStaffDirectory_SnapshotAndDiscard(t *testing.T) {
	d := newTestDirectory(t)
	mustAppoint(t, d, "founder", "o1", domain.RoleOwner)
	mustAppoint(t, d, "o1", "m1", domain.RoleManager)

	snap := d.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, domain.RoleFounder, snap[0].Role)

	removed := d.Discard()
	assert.ElementsMatch(t, []string{"founder", "o1", "m1"}, removed)
	assert.Zero(t, d.Len())
	assert.False(t, d.HasPermission("founder", domain.CapManageInventory))
}

func TestStaffDirectory_ConcurrentAppointments(t *testing.T) {
	d := newTestDirectory(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var succeeded int
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.Appoint("founder", "same-person", domain.RoleManager); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 2, d.Len())
}

func mustAppoint(t *testing.T, d *StaffDirectory, appointer, staff string, role domain.Role) {
	t.Helper()
	_, err := d.Appoint(appointer, staff, role)
	require.NoError(t, err)
}
