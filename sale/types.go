package sale

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Address identifies a participant account.
type Address [20]byte

var zeroAddress Address

// ParseAddress decodes a 20-byte hex address, with or without an 0x prefix.
func ParseAddress(raw string) (Address, error) {
	var out Address
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(decoded) != len(out) {
		return out, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidAddress, len(out), len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}

// Hex renders the address as 0x-prefixed lowercase hex.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

// IsZero reports whether the address is the all-zero sentinel.
func (a Address) IsZero() bool {
	return a == zeroAddress
}

// Pool selects one of the two vested reward pools.
type Pool uint8

const (
	// PoolBuyer is the pool distributed across owned units.
	PoolBuyer Pool = iota
	// PoolReferrer is the pool distributed across referral-attributed units.
	PoolReferrer
)

// Valid reports whether the pool value is one of the known pools.
func (p Pool) Valid() bool {
	return p == PoolBuyer || p == PoolReferrer
}

func (p Pool) String() string {
	switch p {
	case PoolBuyer:
		return "buyer"
	case PoolReferrer:
		return "referrer"
	default:
		return "unknown"
	}
}

// ParsePool maps the wire name of a pool back to its identifier.
func ParsePool(raw string) (Pool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buyer":
		return PoolBuyer, nil
	case "referrer":
		return PoolReferrer, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidPool, raw)
	}
}
