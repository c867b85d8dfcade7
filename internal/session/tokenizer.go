package session

import (
	"context"
	"crypto/rand"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"

	"github.com/quantumauth-io/quantum-wallet/internal/core"
	"github.com/quantumauth-io/quantum-wallet/internal/storage"
)

const AudienceSessionSync = "session:sync"

var ErrInvalidToken = errors.New("invalid session token")

type SyncClaims struct {
	jwt.RegisteredClaims
	Origin    string `json:"origin"`
	ChainID   string `json:"chainId,omitempty"`
	Message   string `json:"message,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// Tokenizer wraps sessions in HS256 tokens so that only holders of the
// installation's shared secret can hand sessions to sibling tabs.
type Tokenizer struct {
	secret []byte
}

func NewTokenizer(secret []byte) (*Tokenizer, error) {
	if len(secret) < 32 {
		return nil, errors.New("session secret must be at least 32 bytes")
	}
	return &Tokenizer{secret: append([]byte(nil), secret...)}, nil
}

// LoadOrCreateSecret returns the installation's session secret, creating and
// storing one on first use.
func LoadOrCreateSecret(ctx context.Context, st storage.Store) ([]byte, error) {
	secret, err := st.Get(ctx, storage.KeySessionKey)
	if err == nil && len(secret) >= 32 {
		return secret, nil
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, errors.Wrap(err, "load session secret")
	}

	secret = make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, errors.Wrap(err, "generate session secret")
	}
	if err := st.Set(ctx, storage.KeySessionKey, secret); err != nil {
		return nil, errors.Wrap(err, "store session secret")
	}
	return secret, nil
}

func (t *Tokenizer) SessionToToken(a Auth) (string, error) {
	claims := SyncClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.Address,
			ID:        a.ID,
			IssuedAt:  jwt.NewNumericDate(a.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(a.ExpiresAt),
			Audience:  jwt.ClaimStrings{AudienceSessionSync},
		},
		Origin:    a.Origin,
		ChainID:   string(a.ChainID),
		Message:   a.Message,
		Signature: a.Signature,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign session token")
	}
	return signed, nil
}

func (t *Tokenizer) TokenToSession(token string) (Auth, error) {
	parsed, err := jwt.ParseWithClaims(token, &SyncClaims{}, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Newf("unexpected signing method: %v", tok.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithAudience(AudienceSessionSync), jwt.WithIssuedAt())
	if err != nil {
		return Auth{}, errors.Wrap(err, "parse session token")
	}
	if !parsed.Valid {
		return Auth{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*SyncClaims)
	if !ok || claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return Auth{}, ErrInvalidToken
	}

	return Auth{
		ID:        claims.ID,
		Origin:    claims.Origin,
		Address:   claims.Subject,
		ChainID:   core.ChainID(claims.ChainID),
		Message:   claims.Message,
		Signature: claims.Signature,
		CreatedAt: claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
