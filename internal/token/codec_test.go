package token

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/harborfund/vaultd/internal/domain"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := NewCodec("test-secret", "test-salt")
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	return c
}

func TestCodecRoundTrip(t *testing.T) {
	c := newTestCodec(t)

	t.Run("withdraw", func(t *testing.T) {
		wc := domain.WithdrawCap{ID: uuid.New(), FundID: uuid.New(), Amount: 12345}
		tok, err := c.EncodeWithdraw(wc)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		got, err := c.DecodeWithdraw(tok)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got != wc {
			t.Fatalf("got %+v, want %+v", got, wc)
		}
	})

	t.Run("trade", func(t *testing.T) {
		tc := domain.TradeCap{ID: uuid.New(), FundID: uuid.New(), TraderID: uuid.New()}
		tok, err := c.EncodeTrade(tc)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		got, err := c.DecodeTrade(tok)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got != tc {
			t.Fatalf("got %+v, want %+v", got, tc)
		}
	})
}

func TestCodecRejects(t *testing.T) {
	c := newTestCodec(t)
	wc := domain.WithdrawCap{ID: uuid.New(), FundID: uuid.New(), Amount: 1}
	tok, err := c.EncodeWithdraw(wc)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	t.Run("tampered payload", func(t *testing.T) {
		body, sig, _ := strings.Cut(tok, ".")
		forged := body[:len(body)-2] + "AA." + sig
		if _, err := c.DecodeWithdraw(forged); err == nil {
			t.Fatal("tampered token accepted")
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		other, _ := NewCodec("other-secret", "test-salt")
		if _, err := other.DecodeWithdraw(tok); !errors.Is(err, ErrBadSignature) {
			t.Fatalf("err = %v, want ErrBadSignature", err)
		}
	})

	t.Run("missing separator", func(t *testing.T) {
		if _, err := c.DecodeWithdraw("notatoken"); !errors.Is(err, ErrMalformed) {
			t.Fatalf("err = %v, want ErrMalformed", err)
		}
	})

	t.Run("kind confusion", func(t *testing.T) {
		if _, err := c.DecodeTrade(tok); !errors.Is(err, ErrWrongKind) {
			t.Fatalf("err = %v, want ErrWrongKind", err)
		}
	})
}

func TestNewCodecValidation(t *testing.T) {
	if _, err := NewCodec("", "salt"); err == nil {
		t.Fatal("empty secret accepted")
	}
	if _, err := NewCodec("secret", ""); err == nil {
		t.Fatal("empty salt accepted")
	}
}
