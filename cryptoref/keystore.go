package cryptoref

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// SaveKeystore encrypts the raw secp256k1 key behind passphrase and writes
// it as an Ethereum v3 keystore file at path, the on-disk form a validator
// operator hands to cmd/mlmnode rather than keeping a plaintext key file.
func SaveKeystore(path string, privBytes []byte, passphrase string) error {
	if path == "" {
		return errors.New("cryptoref: empty keystore path")
	}
	key, err := ethcrypto.ToECDSA(privBytes)
	if err != nil {
		return fmt.Errorf("cryptoref: invalid private key: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmpDir, err := os.MkdirTemp(dir, "keystore-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	ks := keystore.NewKeyStore(tmpDir, keystore.StandardScryptN, keystore.StandardScryptP)
	if _, err := ks.ImportECDSA(key, passphrase); err != nil {
		return err
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return errors.New("cryptoref: failed to create keystore file")
	}
	src := filepath.Join(tmpDir, entries[0].Name())
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Rename(src, path); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}

// LoadKeystore decrypts an Ethereum v3 keystore file and constructs a
// Crypto collaborator from the recovered key.
func LoadKeystore(path, passphrase string) (*Crypto, error) {
	if path == "" {
		return nil, errors.New("cryptoref: empty keystore path")
	}
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	decrypted, err := keystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		return nil, fmt.Errorf("cryptoref: decrypt keystore: %w", err)
	}
	return &Crypto{priv: decrypted.PrivateKey}, nil
}
