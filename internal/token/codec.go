// Package token encodes capabilities as signed bearer tokens so they can
// cross the API boundary. A token is base64url(payload) + "." +
// base64url(HMAC-SHA256(payload)); the payload is JSON. Possession of a
// valid token is possession of the capability -- the vault keeper still
// enforces single use and fund binding when the decoded capability is
// presented.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"

	"github.com/harborfund/vaultd/internal/domain"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	// macKeyLen is the derived signing key length in bytes.
	macKeyLen = 32

	kindWithdraw = "withdraw"
	kindTrade    = "trade"
)

var (
	// ErrMalformed is returned when a token is not two base64url segments
	// of valid JSON.
	ErrMalformed = errors.New("token: malformed")

	// ErrBadSignature is returned when the signature does not verify.
	ErrBadSignature = errors.New("token: bad signature")

	// ErrWrongKind is returned when a token of one capability kind is
	// presented where the other is expected.
	ErrWrongKind = errors.New("token: wrong capability kind")
)

// payload is the signed token body.
type payload struct {
	Kind     string    `json:"kind"`
	ID       uuid.UUID `json:"id"`
	FundID   uuid.UUID `json:"fund_id"`
	Amount   uint64    `json:"amount,omitempty"`
	TraderID uuid.UUID `json:"trader_id,omitempty"`
	IssuedAt time.Time `json:"iat"`
}

// Codec signs and verifies capability tokens with a key derived from the
// configured secret. The same secret must be configured on every process
// that issues or accepts tokens.
type Codec struct {
	key []byte
}

// NewCodec derives the signing key from secret and salt using
// PBKDF2-HMAC-SHA256. The salt need not be secret but must be stable across
// restarts; it namespaces the derived key per deployment.
func NewCodec(secret, salt string) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("token: secret must not be empty")
	}
	if salt == "" {
		return nil, errors.New("token: salt must not be empty")
	}
	key := pbkdf2.Key([]byte(secret), []byte(salt), pbkdf2Iterations, macKeyLen, sha256.New)
	return &Codec{key: key}, nil
}

// EncodeWithdraw issues a bearer token for a withdraw capability.
func (c *Codec) EncodeWithdraw(wc domain.WithdrawCap) (string, error) {
	return c.encode(payload{
		Kind:     kindWithdraw,
		ID:       wc.ID,
		FundID:   wc.FundID,
		Amount:   wc.Amount,
		IssuedAt: time.Now().UTC(),
	})
}

// EncodeTrade issues a bearer token for a trade capability.
func (c *Codec) EncodeTrade(tc domain.TradeCap) (string, error) {
	return c.encode(payload{
		Kind:     kindTrade,
		ID:       tc.ID,
		FundID:   tc.FundID,
		TraderID: tc.TraderID,
		IssuedAt: time.Now().UTC(),
	})
}

// DecodeWithdraw verifies a token and returns the withdraw capability it
// carries.
func (c *Codec) DecodeWithdraw(tok string) (domain.WithdrawCap, error) {
	p, err := c.decode(tok)
	if err != nil {
		return domain.WithdrawCap{}, err
	}
	if p.Kind != kindWithdraw {
		return domain.WithdrawCap{}, fmt.Errorf("got %q: %w", p.Kind, ErrWrongKind)
	}
	return domain.WithdrawCap{ID: p.ID, FundID: p.FundID, Amount: p.Amount}, nil
}

// DecodeTrade verifies a token and returns the trade capability it carries.
func (c *Codec) DecodeTrade(tok string) (domain.TradeCap, error) {
	p, err := c.decode(tok)
	if err != nil {
		return domain.TradeCap{}, err
	}
	if p.Kind != kindTrade {
		return domain.TradeCap{}, fmt.Errorf("got %q: %w", p.Kind, ErrWrongKind)
	}
	return domain.TradeCap{ID: p.ID, FundID: p.FundID, TraderID: p.TraderID}, nil
}

func (c *Codec) encode(p payload) (string, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("token: encoding payload: %w", err)
	}
	sig := c.sign(body)
	return base64.RawURLEncoding.EncodeToString(body) + "." +
		base64.RawURLEncoding.EncodeToString(sig), nil
}

func (c *Codec) decode(tok string) (payload, error) {
	bodyPart, sigPart, ok := strings.Cut(tok, ".")
	if !ok {
		return payload{}, ErrMalformed
	}
	body, err := base64.RawURLEncoding.DecodeString(bodyPart)
	if err != nil {
		return payload{}, fmt.Errorf("decoding body: %w", ErrMalformed)
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigPart)
	if err != nil {
		return payload{}, fmt.Errorf("decoding signature: %w", ErrMalformed)
	}
	if !hmac.Equal(sig, c.sign(body)) {
		return payload{}, ErrBadSignature
	}
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return payload{}, fmt.Errorf("parsing payload: %w", ErrMalformed)
	}
	return p, nil
}

func (c *Codec) sign(body []byte) []byte {
	mac := hmac.New(sha256.New, c.key)
	mac.Write(body)
	return mac.Sum(nil)
}
