// Package session issues and verifies per-origin session credentials.
package session

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/google/uuid"
	"github.com/quantumauth-io/quantum-go-utils/log"

	"github.com/quantumauth-io/quantum-wallet/internal/backoff"
	"github.com/quantumauth-io/quantum-wallet/internal/core"
	"github.com/quantumauth-io/quantum-wallet/internal/ethwallet/wtypes"
)

const SessionTTL = 24 * time.Hour

type Mode string

const (
	ModeSigned Mode = "signed"
	ModeBasic  Mode = "basic"
)

var ErrSignerUnavailable = errors.Mark(errors.New("signing capability unavailable"), core.ErrInvalidInput)

// Auth is a time-bounded proof that Address authorized Origin. In basic mode
// Message and Signature are empty.
type Auth struct {
	ID        string       `json:"id"`
	Origin    string       `json:"origin"`
	Address   string       `json:"address"`
	ChainID   core.ChainID `json:"chainId,omitempty"`
	Message   string       `json:"message"`
	Signature string       `json:"signature"`
	CreatedAt time.Time    `json:"createdAt"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

// VerificationFailed is a diagnostic for a signature that did not recover to
// the claimed address.
type VerificationFailed struct {
	Origin  string
	Address string
	Err     error
}

type Config struct {
	Mode Mode          `mapstructure:"Mode"`
	TTL  time.Duration `mapstructure:"TTL"`
}

type Option func(*Authenticator)

func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) { a.now = now }
}

// WithChainID supplies the chain id embedded in sign-in messages.
func WithChainID(f func() core.ChainID) Option {
	return func(a *Authenticator) { a.chainID = f }
}

type Authenticator struct {
	mode   Mode
	ttl    time.Duration
	signer wtypes.Signer
	retry  *backoff.Coordinator
	health *HealthMonitor

	now     func() time.Time
	chainID func() core.ChainID

	mu       sync.RWMutex
	sessions map[string]Auth

	failedFeed event.FeedOf[VerificationFailed]
}

// NewAuthenticator builds an authenticator. signer may be nil in basic mode;
// retry backs HandleConnectionFailure.
func NewAuthenticator(cfg Config, signer wtypes.Signer, retry *backoff.Coordinator, opts ...Option) *Authenticator {
	if cfg.Mode == "" {
		cfg.Mode = ModeSigned
	}
	if cfg.TTL <= 0 {
		cfg.TTL = SessionTTL
	}
	a := &Authenticator{
		mode:     cfg.Mode,
		ttl:      cfg.TTL,
		signer:   signer,
		retry:    retry,
		now:      time.Now,
		chainID:  func() core.ChainID { return "0x1" },
		sessions: make(map[string]Auth),
	}
	for _, o := range opts {
		o(a)
	}
	a.health = NewHealthMonitor(a.now)
	return a
}

func (a *Authenticator) Mode() Mode { return a.mode }

func (a *Authenticator) Health() *HealthMonitor { return a.health }

func (a *Authenticator) SubscribeVerificationFailed(ch chan<- VerificationFailed) event.Subscription {
	return a.failedFeed.Subscribe(ch)
}

// Authenticate creates a session for (origin, address). In signed mode the
// challenge is signed through the signer; a signer failure fails the call.
func (a *Authenticator) Authenticate(ctx context.Context, origin, address string) (Auth, error) {
	origin = core.NormalizeOrigin(origin)
	if origin == "" {
		return Auth{}, errors.Mark(errors.New("origin is required"), core.ErrInvalidInput)
	}
	if !common.IsHexAddress(address) {
		return Auth{}, errors.Mark(errors.Newf("invalid address %q", address), core.ErrInvalidInput)
	}
	addr := common.HexToAddress(address)
	now := a.now()

	auth := Auth{
		ID:        uuid.NewString(),
		Origin:    origin,
		Address:   addr.Hex(),
		ChainID:   a.chainID(),
		CreatedAt: now,
		ExpiresAt: now.Add(a.ttl),
	}

	if a.mode == ModeSigned {
		if a.signer == nil {
			return Auth{}, ErrSignerUnavailable
		}
		nonce, err := newNonce()
		if err != nil {
			return Auth{}, err
		}
		auth.Message = SignInMessage(origin, addr, auth.ChainID, nonce, now)
		sig, err := a.signer.SignMessage(ctx, addr, []byte(auth.Message))
		if err != nil {
			return Auth{}, errors.Wrapf(err, "sign session challenge for %s", origin)
		}
		auth.Signature = sig
	}

	a.mu.Lock()
	a.sessions[origin] = auth
	a.mu.Unlock()

	log.Info("session authenticated", "origin", origin, "address", auth.Address, "mode", string(a.mode))
	return auth, nil
}

// Verify reports whether auth is unexpired and, in signed mode, whether its
// signature recovers to its address. It never fails.
func (a *Authenticator) Verify(auth Auth) bool {
	if a.now().After(auth.ExpiresAt) {
		return false
	}
	if a.mode != ModeSigned {
		return true
	}

	signer, err := RecoverSigner(auth.Message, auth.Signature)
	if err == nil && !strings.EqualFold(signer.Hex(), auth.Address) {
		err = errors.Newf("recovered %s", signer.Hex())
	}
	if err != nil {
		a.failedFeed.Send(VerificationFailed{
			Origin:  auth.Origin,
			Address: auth.Address,
			Err:     errors.Mark(err, core.ErrSignatureVerificationFailed),
		})
		return false
	}
	return true
}

// Session returns the valid session for origin, dropping it if it no longer
// verifies.
func (a *Authenticator) Session(origin string) (Auth, bool) {
	origin = core.NormalizeOrigin(origin)
	a.mu.RLock()
	auth, ok := a.sessions[origin]
	a.mu.RUnlock()
	if !ok {
		return Auth{}, false
	}
	if !a.Verify(auth) {
		a.mu.Lock()
		if cur, ok := a.sessions[origin]; ok && cur.ID == auth.ID {
			delete(a.sessions, origin)
		}
		a.mu.Unlock()
		return Auth{}, false
	}
	return auth, true
}

// Sessions lists stored sessions ordered by origin.
func (a *Authenticator) Sessions() []Auth {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Auth, 0, len(a.sessions))
	for _, s := range a.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Origin < out[j].Origin })
	return out
}

// Adopt installs a session minted elsewhere (another tab, storage) if it
// verifies and is newer than what is held for its origin.
func (a *Authenticator) Adopt(auth Auth) bool {
	auth.Origin = core.NormalizeOrigin(auth.Origin)
	if !a.Verify(auth) {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if cur, ok := a.sessions[auth.Origin]; ok && !auth.CreatedAt.After(cur.CreatedAt) {
		return false
	}
	a.sessions[auth.Origin] = auth
	return true
}

func (a *Authenticator) Revoke(origin string) bool {
	origin = core.NormalizeOrigin(origin)
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.sessions[origin]
	delete(a.sessions, origin)
	return ok
}

// HandleConnectionFailure records a failed connection for key and returns how
// long the caller should wait before reconnecting.
func (a *Authenticator) HandleConnectionFailure(key string) (time.Duration, error) {
	return a.retry.Fail(connectionKey(key))
}

// ConnectionRestored clears the failure count for key.
func (a *Authenticator) ConnectionRestored(key string) {
	a.retry.Succeed(connectionKey(key))
}

func (a *Authenticator) Cleanup() {
	a.mu.Lock()
	clear(a.sessions)
	a.mu.Unlock()
	a.health.Reset()
}

func connectionKey(key string) string {
	return "connection:" + key
}
