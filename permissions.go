package txengine

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// OriginInternal marks requests initiated by the wallet itself rather than by
// a connected site.
const OriginInternal = "blank"

// PermissionChecker decides whether an origin may send transactions from an
// address. Internal-origin requests are validated against the selected
// account before this check runs.
type PermissionChecker interface {
	Allowed(origin string, from common.Address) bool
}

// PermissionRegistry is the default PermissionChecker: an explicit grant
// table keyed by origin and address.
type PermissionRegistry struct {
	mu     sync.RWMutex
	grants map[string]map[common.Address]struct{}
}

// NewPermissionRegistry creates an empty registry. Until grants are added,
// every external origin is denied.
func NewPermissionRegistry() *PermissionRegistry {
	return &PermissionRegistry{grants: make(map[string]map[common.Address]struct{})}
}

// Grant allows origin to send transactions from addr.
func (p *PermissionRegistry) Grant(origin string, addr common.Address) {
	origin = normalizeOrigin(origin)
	p.mu.Lock()
	defer p.mu.Unlock()
	addrs, ok := p.grants[origin]
	if !ok {
		addrs = make(map[common.Address]struct{})
		p.grants[origin] = addrs
	}
	addrs[addr] = struct{}{}
}

// Revoke removes a grant.
func (p *PermissionRegistry) Revoke(origin string, addr common.Address) {
	origin = normalizeOrigin(origin)
	p.mu.Lock()
	defer p.mu.Unlock()
	if addrs, ok := p.grants[origin]; ok {
		delete(addrs, addr)
		if len(addrs) == 0 {
			delete(p.grants, origin)
		}
	}
}

// Allowed reports whether origin holds a grant for addr.
func (p *PermissionRegistry) Allowed(origin string, from common.Address) bool {
	origin = normalizeOrigin(origin)
	p.mu.RLock()
	defer p.mu.RUnlock()
	addrs, ok := p.grants[origin]
	if !ok {
		return false
	}
	_, ok = addrs[from]
	return ok
}

func normalizeOrigin(origin string) string {
	return strings.ToLower(strings.TrimSuffix(origin, "/"))
}
