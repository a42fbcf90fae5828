package store

import (
	"slices"
	"sync"
	"time"

	"github.com/utafrali/marketplace/internal/domain"
)

// StaffDirectory holds the appointment forest of one store. Each member has
// exactly one appointer; the founder is the only root. Structural changes
// are serialized by the directory's own mutex.
type StaffDirectory struct {
	mu       sync.RWMutex
	storeID  string
	founder  string
	members  map[string]*domain.Appointment
	children map[string][]string
}

// NewStaffDirectory creates a directory rooted at founder.
func NewStaffDirectory(storeID, founder string) *StaffDirectory {
	d := &StaffDirectory{
		storeID:  storeID,
		founder:  founder,
		members:  make(map[string]*domain.Appointment),
		children: make(map[string][]string),
	}
	d.members[founder] = &domain.Appointment{
		StoreID:     storeID,
		Staff:       founder,
		Role:        domain.RoleFounder,
		Permissions: domain.RoleFounder.DefaultPermissions(),
		AppointedAt: time.Now().UTC(),
	}
	return d
}

// Appoint adds newStaff under appointer with the role's default permissions.
func (d *StaffDirectory) Appoint(appointer, newStaff string, role domain.Role) (domain.Appointment, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	parent, ok := d.members[appointer]
	if !ok || !parent.Role.CanAppoint(role) {
		return domain.Appointment{}, domain.NotAuthorized(d.storeID, appointer, "appoint "+string(role))
	}
	if _, exists := d.members[newStaff]; exists {
		return domain.Appointment{}, domain.AlreadyAppointed(d.storeID, newStaff)
	}

	a := &domain.Appointment{
		StoreID:     d.storeID,
		Staff:       newStaff,
		Appointer:   appointer,
		Role:        role,
		Permissions: role.DefaultPermissions(),
		AppointedAt: time.Now().UTC(),
	}
	d.members[newStaff] = a
	d.children[appointer] = append(d.children[appointer], newStaff)
	return *a, nil
}

// Revoke removes target and everyone appointed beneath it. The revoker must
// be a strict ancestor of target. The removed identities are returned in
// breadth-first order starting with target.
func (d *StaffDirectory) Revoke(revoker, target string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.members[revoker]; !ok || revoker == target || !d.isAncestor(revoker, target) {
		return nil, domain.NotAuthorized(d.storeID, revoker, "revoke "+target)
	}

	removed := d.subtree(target)
	parent := d.members[target].Appointer
	d.children[parent] = slices.DeleteFunc(d.children[parent], func(id string) bool { return id == target })
	if len(d.children[parent]) == 0 {
		delete(d.children, parent)
	}
	for _, id := range removed {
		delete(d.members, id)
		delete(d.children, id)
	}
	return removed, nil
}

// SetPermissions replaces a manager's grant. Only the manager's direct
// appointer may do so, and the grant must stay under the manager ceiling.
func (d *StaffDirectory) SetPermissions(actor, target string, requested domain.PermissionSet) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	a, ok := d.members[target]
	if !ok || actor == target || a.Appointer != actor || a.Role != domain.RoleManager {
		return domain.NotAuthorized(d.storeID, actor, "set permissions of "+target)
	}
	if extra := requested.Beyond(domain.ManagerCeiling); extra != 0 {
		return domain.InvalidPermission(d.storeID, target, extra)
	}
	a.Permissions = requested
	return nil
}

// HasPermission reports whether identity holds c. Unknown identities hold nothing.
func (d *StaffDirectory) HasPermission(identity string, c domain.Capability) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	a, ok := d.members[identity]
	return ok && a.Has(c)
}

// Appointment returns identity's appointment.
func (d *StaffDirectory) Appointment(identity string) (domain.Appointment, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	a, ok := d.members[identity]
	if !ok {
		return domain.Appointment{}, false
	}
	return *a, true
}

// Snapshot returns every appointment, founder first, then by appointment time.
func (d *StaffDirectory) Snapshot() []domain.Appointment {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]domain.Appointment, 0, len(d.members))
	for _, id := range d.subtree(d.founder) {
		out = append(out, *d.members[id])
	}
	return out
}

// Discard removes every member, founder included, and returns who was removed.
func (d *StaffDirectory) Discard() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := d.subtree(d.founder)
	d.members = make(map[string]*domain.Appointment)
	d.children = make(map[string][]string)
	d.founder = ""
	return removed
}

// Len returns the number of members.
func (d *StaffDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.members)
}

// isAncestor walks target's parent chain looking for ancestor. Caller holds the lock.
func (d *StaffDirectory) isAncestor(ancestor, target string) bool {
	cur, ok := d.members[target]
	for ok && cur.Appointer != "" {
		if cur.Appointer == ancestor {
			return true
		}
		cur, ok = d.members[cur.Appointer]
	}
	return false
}

// subtree lists root and its descendants breadth-first. Caller holds the lock.
func (d *StaffDirectory) subtree(root string) []string {
	if _, ok := d.members[root]; !ok {
		return nil
	}
	out := []string{root}
	for i := 0; i < len(out); i++ {
		out = append(out, d.children[out[i]]...)
	}
	return out
}
