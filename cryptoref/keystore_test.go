package cryptoref

import (
	"path/filepath"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadKeystoreRoundTrip(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	raw := ethcrypto.FromECDSA(key)

	path := filepath.Join(t.TempDir(), "validator.keystore")
	require.NoError(t, SaveKeystore(path, raw, "hunter2"))

	loaded, err := LoadKeystore(path, "hunter2")
	require.NoError(t, err)
	require.Equal(t, ethcrypto.PubkeyToAddress(key.PublicKey).Bytes(), []byte(loaded.Address()))
}

func TestLoadKeystoreRejectsWrongPassphrase(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "validator.keystore")
	require.NoError(t, SaveKeystore(path, ethcrypto.FromECDSA(key), "hunter2"))

	_, err = LoadKeystore(path, "wrong")
	require.Error(t, err)
}

func TestBech32RoundTrip(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	c, err := New(ethcrypto.FromECDSA(key))
	require.NoError(t, err)

	encoded := Bech32(c.Address())
	decoded, err := ParseBech32(encoded)
	require.NoError(t, err)
	require.True(t, decoded.Equal(c.Address()))
}
