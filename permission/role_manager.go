package permission

import (
	"errors"
	"sync"
)

var (
	ErrRoleManagerFrozen = errors.New("role manager frozen")
	ErrEmptyRole         = errors.New("role name empty")
	ErrDuplicateRole     = errors.New("role already registered")
	ErrUnknownPermission = errors.New("permission not registered")
)

// RoleManager composes registered permissions into per-role masks.
type RoleManager struct {
	registry *Registry

	mu     sync.RWMutex
	roles  map[string]Mask64
	frozen bool
}

func NewRoleManager(registry *Registry) *RoleManager {
	return &RoleManager{
		registry: registry,
		roles:    make(map[string]Mask64),
	}
}

// RegisterRole grants the named permissions to roleName. With root set the role
// also receives the registry's root bit and so passes every check.
func (rm *RoleManager) RegisterRole(roleName string, permissionNames []string, root bool) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.frozen {
		return ErrRoleManagerFrozen
	}
	if roleName == "" {
		return ErrEmptyRole
	}
	if _, exists := rm.roles[roleName]; exists {
		return ErrDuplicateRole
	}

	var mask Mask64
	for _, perm := range permissionNames {
		bit, ok := rm.registry.Bit(perm)
		if !ok {
			return errors.Join(ErrUnknownPermission, errors.New(perm))
		}
		mask.Set(bit)
	}
	if root {
		if bit, ok := rm.registry.RootBit(); ok {
			mask.Set(bit)
		}
	}

	rm.roles[roleName] = mask
	return nil
}

func (rm *RoleManager) GetMask(roleName string) (Mask64, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	mask, ok := rm.roles[roleName]
	return mask, ok
}

// Allows reports whether roleName holds permission. Unknown roles and unknown
// permissions are denied.
func (rm *RoleManager) Allows(roleName, permission string) bool {
	mask, ok := rm.GetMask(roleName)
	if !ok {
		return false
	}
	bit, ok := rm.registry.Bit(permission)
	if !ok {
		return false
	}
	_, rootReserved := rm.registry.RootBit()
	return mask.Has(bit, rootReserved)
}

func (rm *RoleManager) Freeze() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.frozen = true
}

func (rm *RoleManager) Count() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.roles)
}
