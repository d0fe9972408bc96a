// Package cryptoref is a reference implementation of the types.Crypto
// collaborator, using go-ethereum's secp256k1 recovery-signature scheme and
// Keccak256 hashing. A host may substitute any other implementation; this
// one exists so the engine is runnable and testable standalone.
package cryptoref

import (
	"crypto/ecdsa"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"mlm/types"
)

// Crypto signs and verifies with a single secp256k1 keypair, recovering
// the signer's address from the signature rather than carrying a public
// key alongside it — the same scheme the reference BFT engine uses for
// individual votes and proposals.
type Crypto struct {
	priv *ecdsa.PrivateKey
}

// New constructs a Crypto collaborator from a raw secp256k1 private key
// (32 bytes, as produced by ethcrypto.GenerateKey().D.Bytes() or
// ethcrypto.FromECDSA).
func New(privBytes []byte) (*Crypto, error) {
	key, err := ethcrypto.ToECDSA(privBytes)
	if err != nil {
		return nil, fmt.Errorf("cryptoref: invalid private key: %w", err)
	}
	return &Crypto{priv: key}, nil
}

// Address returns the address this Crypto signs on behalf of.
func (c *Crypto) Address() types.Address {
	return ethcrypto.PubkeyToAddress(c.priv.PublicKey).Bytes()
}

// Hash is Keccak256, the reference engine's hash over encoded payloads.
func (c *Crypto) Hash(b []byte) types.Hash {
	return types.Hash(ethcrypto.Keccak256Hash(b))
}

// Sign produces a 65-byte recoverable secp256k1 signature over h.
func (c *Crypto) Sign(h types.Hash) (types.Signature, error) {
	sig, err := ethcrypto.Sign(h[:], c.priv)
	if err != nil {
		return types.Signature{}, fmt.Errorf("cryptoref: sign: %w", err)
	}
	return types.Signature{Bytes: sig}, nil
}

// VerifySignature recovers the signer's address from sig and checks it
// against addr.
func (c *Crypto) VerifySignature(sig types.Signature, h types.Hash, addr types.Address) error {
	if len(sig.Bytes) != 65 {
		return fmt.Errorf("cryptoref: invalid signature length %d", len(sig.Bytes))
	}
	pub, err := ethcrypto.SigToPub(h[:], sig.Bytes)
	if err != nil {
		return fmt.Errorf("cryptoref: recover failed: %w", err)
	}
	recovered := types.Address(ethcrypto.PubkeyToAddress(*pub).Bytes())
	if !recovered.Equal(addr) {
		return fmt.Errorf("cryptoref: signature address mismatch")
	}
	return nil
}

// AggregateSignatures concatenates the per-voter signatures in the order
// supplied (the collector supplies them in the roster's canonical address
// order). This is a reference, non-BLS aggregate scheme: verification
// re-checks every individual signature rather than performing true
// signature aggregation, which the pack's dependency set has no BLS
// library to support (see the dependency ledger).
func (c *Crypto) AggregateSignatures(sigs []types.SignatureWithAddress) (types.AggregateSignature, error) {
	if len(sigs) == 0 {
		return types.AggregateSignature{}, fmt.Errorf("cryptoref: no signatures to aggregate")
	}
	var buf []byte
	for _, s := range sigs {
		if len(s.Signature.Bytes) != 65 {
			return types.AggregateSignature{}, fmt.Errorf("cryptoref: invalid signature length for %s", s.Address)
		}
		buf = append(buf, s.Signature.Bytes...)
	}
	return types.AggregateSignature{Aggregate: buf}, nil
}

// VerifyAggregatedSignature splits agg.Aggregate back into its 65-byte
// signatures and checks each recovers to the corresponding entry of
// voters, in the same order AggregateSignatures concatenated them.
func (c *Crypto) VerifyAggregatedSignature(agg types.AggregateSignature, h types.Hash, voters []types.Address) error {
	const sigLen = 65
	if len(agg.Aggregate) != sigLen*len(voters) {
		return fmt.Errorf("cryptoref: aggregate length %d does not match %d voters", len(agg.Aggregate), len(voters))
	}
	for i, voter := range voters {
		sig := types.Signature{Bytes: agg.Aggregate[i*sigLen : (i+1)*sigLen]}
		if err := c.VerifySignature(sig, h, voter); err != nil {
			return fmt.Errorf("cryptoref: voter %s: %w", voter, err)
		}
	}
	return nil
}
