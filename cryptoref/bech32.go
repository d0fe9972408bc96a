package cryptoref

import (
	"fmt"

	"github.com/btcsuite/btcutil/bech32"

	"mlm/types"
)

// AddressPrefix is the human-readable prefix for a bech32-rendered
// validator address (used only for logs/config, never for wire equality —
// callers always compare types.Address's raw bytes).
const AddressPrefix = "mlm"

// Bech32 renders addr as a bech32 string for logging and config files.
func Bech32(addr types.Address) string {
	conv, err := bech32.ConvertBits([]byte(addr), 8, 5, true)
	if err != nil {
		return addr.String()
	}
	encoded, err := bech32.Encode(AddressPrefix, conv)
	if err != nil {
		return addr.String()
	}
	return encoded
}

// ParseBech32 decodes a bech32 address string produced by Bech32.
func ParseBech32(s string) (types.Address, error) {
	prefix, decoded, err := bech32.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("cryptoref: invalid bech32 address: %w", err)
	}
	if prefix != AddressPrefix {
		return nil, fmt.Errorf("cryptoref: unexpected address prefix %q", prefix)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("cryptoref: bad bech32 payload: %w", err)
	}
	return types.Address(conv), nil
}
