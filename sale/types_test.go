package sale

import (
	"errors"
	"testing"
)

func TestParseAddress(t *testing.T) {
	canonical := "0x1111111111111111111111111111111111111111"
	for _, raw := range []string{
		canonical,
		"1111111111111111111111111111111111111111",
		"  " + canonical + " ",
	} {
		addr, err := ParseAddress(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if addr.Hex() != canonical {
			t.Fatalf("parse %q = %s", raw, addr.Hex())
		}
	}

	for _, raw := range []string{"", "0x1234", "0xzz11111111111111111111111111111111111111"} {
		if _, err := ParseAddress(raw); !errors.Is(err, ErrInvalidAddress) {
			t.Fatalf("parse %q: expected invalid address, got %v", raw, err)
		}
	}

	var zero Address
	if !zero.IsZero() {
		t.Fatalf("zero address not reported as zero")
	}
	parsed, _ := ParseAddress(canonical)
	if parsed.IsZero() {
		t.Fatalf("non-zero address reported as zero")
	}
}

func TestParsePool(t *testing.T) {
	cases := map[string]Pool{
		"buyer":    PoolBuyer,
		"Referrer": PoolReferrer,
		" BUYER ":  PoolBuyer,
	}
	for raw, want := range cases {
		pool, err := ParsePool(raw)
		if err != nil || pool != want {
			t.Fatalf("parse %q = %v, %v", raw, pool, err)
		}
		if !pool.Valid() {
			t.Fatalf("pool %v not valid", pool)
		}
	}
	if _, err := ParsePool("operator"); !errors.Is(err, ErrInvalidPool) {
		t.Fatalf("expected invalid pool error, got %v", err)
	}
	if Pool(9).Valid() {
		t.Fatalf("out-of-range pool reported valid")
	}
	if got := Pool(9).String(); got != "unknown" {
		t.Fatalf("out-of-range pool string = %q", got)
	}
}
