// Package codecref is a reference implementation of the types.Codec[T]
// collaborator, using go-ethereum's RLP encoding, the same wire format the
// reference engine uses for its persisted consensus metadata.
package codecref

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// Codec round-trips any RLP-encodable T. Hosts whose block type is not
// directly RLP-encodable (e.g. it holds a map or an interface field) should
// supply their own Codec; this one covers the common case of a struct of
// plain fields and byte slices.
type Codec[T any] struct{}

// New constructs a Codec for T.
func New[T any]() Codec[T] {
	return Codec[T]{}
}

// Encode RLP-encodes v.
func (Codec[T]) Encode(v T) ([]byte, error) {
	b, err := rlp.EncodeToBytes(v)
	if err != nil {
		return nil, fmt.Errorf("codecref: encode: %w", err)
	}
	return b, nil
}

// Decode RLP-decodes b into a T.
func (Codec[T]) Decode(b []byte) (T, error) {
	var v T
	if err := rlp.DecodeBytes(b, &v); err != nil {
		return v, fmt.Errorf("codecref: decode: %w", err)
	}
	return v, nil
}
