// Package permissions keeps the per-origin grants of provider methods.
package permissions

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/quantumauth-io/quantum-go-utils/log"

	"github.com/quantumauth-io/quantum-wallet/internal/core"
)

const DefaultTTL = 24 * time.Hour

// ConnectSiteMethods is the grant issued when a site connects without asking
// for a specific method set.
var ConnectSiteMethods = []string{
	"eth_accounts",
	"eth_chainId",
	"personal_sign",
	"eth_sendTransaction",
	"wallet_switchEthereumChain",
}

type Permission struct {
	Origin    string     `json:"origin"`
	Methods   []string   `json:"methods"`
	GrantedAt time.Time  `json:"grantedAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func (p Permission) expired(now time.Time) bool {
	return p.ExpiresAt != nil && !now.Before(*p.ExpiresAt)
}

type Granted struct {
	Origin  string
	Methods []string
}

type Revoked struct {
	Origin string
}

type entry struct {
	perm    Permission
	methods map[string]struct{}
}

// Store is the authoritative per-origin grant table. None of its operations
// fail: unknown or expired origins simply have no permissions.
type Store struct {
	mu         sync.Mutex
	entries    map[string]*entry
	now        func() time.Time
	defaultTTL time.Duration

	grantedFeed event.FeedOf[Granted]
	revokedFeed event.FeedOf[Revoked]
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithDefaultTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.defaultTTL = ttl
		}
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		entries:    make(map[string]*entry),
		now:        time.Now,
		defaultTTL: DefaultTTL,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) SubscribeGranted(ch chan<- Granted) event.Subscription {
	return s.grantedFeed.Subscribe(ch)
}

func (s *Store) SubscribeRevoked(ch chan<- Revoked) event.Subscription {
	return s.revokedFeed.Subscribe(ch)
}

// Grant replaces whatever origin had with exactly methods. A ttl <= 0 uses
// the default TTL.
func (s *Store) Grant(origin string, methods []string, ttl time.Duration) Permission {
	origin = core.NormalizeOrigin(origin)
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	e := &entry{methods: make(map[string]struct{}, len(methods))}
	for _, m := range methods {
		m = strings.TrimSpace(m)
		if m != "" {
			e.methods[m] = struct{}{}
		}
	}
	now := s.now()
	expires := now.Add(ttl)
	e.perm = Permission{
		Origin:    origin,
		Methods:   sortedKeys(e.methods),
		GrantedAt: now,
		ExpiresAt: &expires,
	}

	s.mu.Lock()
	s.entries[origin] = e
	s.mu.Unlock()

	s.grantedFeed.Send(Granted{Origin: origin, Methods: e.perm.Methods})
	return e.perm
}

// Revoke removes origin's grant. It reports whether anything was removed.
func (s *Store) Revoke(origin string) bool {
	origin = core.NormalizeOrigin(origin)

	s.mu.Lock()
	_, ok := s.entries[origin]
	delete(s.entries, origin)
	s.mu.Unlock()

	if ok {
		s.revokedFeed.Send(Revoked{Origin: origin})
	}
	return ok
}

// Has reports whether origin may call method. An expired grant is revoked
// as a side effect.
func (s *Store) Has(origin, method string) bool {
	origin = core.NormalizeOrigin(origin)

	s.mu.Lock()
	e, ok := s.entries[origin]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if e.perm.expired(s.now()) {
		delete(s.entries, origin)
		s.mu.Unlock()
		s.revokedFeed.Send(Revoked{Origin: origin})
		return false
	}
	_, allowed := e.methods[method]
	s.mu.Unlock()
	return allowed
}

// Permissions returns the live grant for origin, if any.
func (s *Store) Permissions(origin string) (Permission, bool) {
	origin = core.NormalizeOrigin(origin)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[origin]
	if !ok || e.perm.expired(s.now()) {
		return Permission{}, false
	}
	return clonePermission(e.perm), true
}

// SweepExpired revokes every expired grant and returns how many were removed.
func (s *Store) SweepExpired() int {
	now := s.now()

	s.mu.Lock()
	var removed []string
	for origin, e := range s.entries {
		if e.perm.expired(now) {
			delete(s.entries, origin)
			removed = append(removed, origin)
		}
	}
	s.mu.Unlock()

	for _, origin := range removed {
		s.revokedFeed.Send(Revoked{Origin: origin})
	}
	return len(removed)
}

// List returns the live grants ordered by origin.
func (s *Store) List() []Permission {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Permission, 0, len(s.entries))
	for _, e := range s.entries {
		if !e.perm.expired(now) {
			out = append(out, clonePermission(e.perm))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Origin < out[j].Origin })
	return out
}

func (s *Store) Count() int {
	return len(s.List())
}

// Run sweeps expired grants every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.SweepExpired(); n > 0 {
				log.Info("expired permissions swept", "count", n)
			}
		}
	}
}

// replace swaps the whole table, dropping anything already expired.
func (s *Store) replace(perms []Permission) {
	now := s.now()
	next := make(map[string]*entry, len(perms))
	for _, p := range perms {
		origin := core.NormalizeOrigin(p.Origin)
		if origin == "" || p.expired(now) {
			continue
		}
		e := &entry{perm: clonePermission(p), methods: make(map[string]struct{}, len(p.Methods))}
		e.perm.Origin = origin
		for _, m := range p.Methods {
			e.methods[m] = struct{}{}
		}
		next[origin] = e
	}
	s.mu.Lock()
	s.entries = next
	s.mu.Unlock()
}

func clonePermission(p Permission) Permission {
	p.Methods = append([]string(nil), p.Methods...)
	if p.ExpiresAt != nil {
		t := *p.ExpiresAt
		p.ExpiresAt = &t
	}
	return p
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
