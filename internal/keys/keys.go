// Package keys manages the secp256k1 key files used to sign requests.
package keys

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrAddressMismatch means a key file's address is not the one its private
// key derives.
var ErrAddressMismatch = errors.New("key file address does not match its private key")

type KeyFile struct {
	PublicKey  string `json:"public_key"`
	Address    string `json:"address"`
	PrivateKey string `json:"private_key"`
}

// GenerateKeyFile writes a new key file to path. An existing file is never
// overwritten.
func GenerateKeyFile(path string) error {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}

	keyFile := KeyFile{
		PublicKey:  hex.EncodeToString(crypto.FromECDSAPub(&privateKey.PublicKey)),
		Address:    crypto.PubkeyToAddress(privateKey.PublicKey).Hex(),
		PrivateKey: hex.EncodeToString(crypto.FromECDSA(privateKey)),
	}
	data, err := json.MarshalIndent(keyFile, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(data)
	return err
}

// LoadPrivateKey reads a key file and returns its private key and address.
func LoadPrivateKey(path string) (*ecdsa.PrivateKey, common.Address, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, common.Address{}, err
	}

	var keyFile KeyFile
	if err := json.Unmarshal(data, &keyFile); err != nil {
		return nil, common.Address{}, fmt.Errorf("failed to parse key file: %w", err)
	}

	privateKey, err := crypto.HexToECDSA(keyFile.PrivateKey)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("invalid private key: %w", err)
	}
	address := crypto.PubkeyToAddress(privateKey.PublicKey)
	if keyFile.Address != "" && common.HexToAddress(keyFile.Address) != address {
		return nil, common.Address{}, fmt.Errorf("%w: file says %s, key derives %s", ErrAddressMismatch, keyFile.Address, address.Hex())
	}
	return privateKey, address, nil
}
