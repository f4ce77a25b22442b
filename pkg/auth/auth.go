package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwt"
)

var ErrInvalidCredential = errors.New("invalid credential")

// Identity is the caller a verified credential names.
type Identity struct {
	UserID string
	Email  string
}

type Config struct {
	CurrentSigningKey string        `split_words:"true" required:"true"`
	NextSigningKey    string        `split_words:"true"`
	Issuer            string        `split_words:"true"`
	Skew              time.Duration `split_words:"true" default:"30s"`
}

// Verifier checks HS256 bearer tokens. Tokens signed with either the current
// or the next key are accepted so keys can rotate without downtime.
type Verifier struct {
	keys   [][]byte
	issuer string
	skew   time.Duration
}

func NewVerifier(cfg Config) (*Verifier, error) {
	current := strings.TrimSpace(cfg.CurrentSigningKey)
	if current == "" {
		return nil, errors.New("auth signing key is required")
	}

	v := &Verifier{
		keys:   [][]byte{[]byte(current)},
		issuer: strings.TrimSpace(cfg.Issuer),
		skew:   cfg.Skew,
	}
	if next := strings.TrimSpace(cfg.NextSigningKey); next != "" && next != current {
		v.keys = append(v.keys, []byte(next))
	}
	if v.skew < 0 {
		v.skew = 0
	}
	return v, nil
}

func MustNew(cfg Config) *Verifier {
	v, err := NewVerifier(cfg)
	if err != nil {
		panic(err)
	}
	return v
}

// Verify validates credential and extracts the caller. The user id comes from
// the "sub" claim, or "user_id" when sub is absent.
func (v *Verifier) Verify(_ context.Context, credential string) (Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Identity{}, fmt.Errorf("%w: token is empty", ErrInvalidCredential)
	}

	var (
		tok     jwt.Token
		lastErr error
	)
	for _, key := range v.keys {
		opts := []jwt.ParseOption{
			jwt.WithKey(jwa.HS256(), key),
			jwt.WithValidate(true),
			jwt.WithAcceptableSkew(v.skew),
		}
		if v.issuer != "" {
			opts = append(opts, jwt.WithIssuer(v.issuer))
		}

		parsed, err := jwt.ParseString(credential, opts...)
		if err == nil {
			tok = parsed
			break
		}
		lastErr = err
	}
	if tok == nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidCredential, lastErr)
	}

	userID, _ := tok.Subject()
	if strings.TrimSpace(userID) == "" {
		var claim string
		if err := tok.Get("user_id", &claim); err == nil {
			userID = claim
		}
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", ErrInvalidCredential)
	}

	var email string
	if err := tok.Get("email", &email); err != nil || strings.TrimSpace(email) == "" {
		email = userID + "@example.com"
	}

	return Identity{UserID: userID, Email: strings.TrimSpace(email)}, nil
}
