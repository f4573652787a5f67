package permission

import (
	"errors"
	"sync"
)

const maxBits = 64

var (
	ErrRegistryFrozen      = errors.New("registry frozen")
	ErrEmptyPermission     = errors.New("permission name cannot be empty")
	ErrDuplicatePermission = errors.New("permission already registered")
	ErrPermissionLimit     = errors.New("permission limit exceeded")
)

// Registry assigns stable bit positions to permission names.
type Registry struct {
	rootReserved bool
	rootBit      int

	mu        sync.RWMutex
	nameToBit map[string]int
	bitToName map[int]string
	frozen    bool
}

// NewRegistry creates an empty registry. With rootReserved the highest bit is kept
// back as a grant-all bit and is never handed out by Register.
func NewRegistry(rootReserved bool) *Registry {
	r := &Registry{
		rootReserved: rootReserved,
		rootBit:      -1,
		nameToBit:    make(map[string]int),
		bitToName:    make(map[int]string),
	}
	if rootReserved {
		r.rootBit = maxBits - 1
	}
	return r
}

func (r *Registry) Register(name string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return -1, ErrRegistryFrozen
	}
	if name == "" {
		return -1, ErrEmptyPermission
	}
	if _, exists := r.nameToBit[name]; exists {
		return -1, ErrDuplicatePermission
	}

	nextBit := len(r.nameToBit)
	if r.rootReserved && nextBit >= r.rootBit {
		return -1, ErrPermissionLimit
	}
	if nextBit >= maxBits {
		return -1, ErrPermissionLimit
	}

	r.nameToBit[name] = nextBit
	r.bitToName[nextBit] = name

	return nextBit, nil
}

func (r *Registry) Bit(name string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bit, ok := r.nameToBit[name]
	return bit, ok
}

func (r *Registry) Name(bit int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.bitToName[bit]
	return name, ok
}

func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nameToBit)
}

func (r *Registry) RootBit() (int, bool) {
	if !r.rootReserved {
		return -1, false
	}
	return r.rootBit, true
}
