package ledger

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// AddressSize is the length in bytes of a player address.
const AddressSize = 20

// Address identifies a player. Addresses are compared byte-wise; the
// textual form is lowercase hex with a 0x prefix, and parsing is
// case-insensitive.
type Address [AddressSize]byte

var zeroAddress Address

// ParseAddress decodes a hex address with or without a 0x prefix.
func ParseAddress(s string) (Address, error) {
	var addr Address
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	s = strings.TrimPrefix(s, "0X")
	b, err := hex.DecodeString(strings.ToLower(s))
	if err != nil {
		return addr, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if len(b) != AddressSize {
		return addr, fmt.Errorf("invalid address length: got %d bytes, want %d", len(b), AddressSize)
	}
	copy(addr[:], b)
	return addr, nil
}

// MustParseAddress is ParseAddress for test fixtures and constants.
func MustParseAddress(s string) Address {
	addr, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// IsZero reports whether the address is the all-zero value, which is
// never a valid participant.
func (a Address) IsZero() bool {
	return a == zeroAddress
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	addr, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = addr
	return nil
}
