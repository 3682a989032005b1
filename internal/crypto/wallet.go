package crypto

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// Wallet is a parsed signing key and the address it controls.
type Wallet struct {
	Key     *ecdsa.PrivateKey
	Address string
}

// ParseWallet parses a hex secp256k1 key and derives its checksummed
// address.
func ParseWallet(keyHex string) (Wallet, error) {
	raw, err := normalizeKey(keyHex)
	if err != nil {
		return Wallet{}, err
	}
	pk, err := crypto.ToECDSA(raw)
	if err != nil {
		return Wallet{}, fmt.Errorf("crypto: parse key: %w", err)
	}
	return Wallet{Key: pk, Address: crypto.PubkeyToAddress(pk.PublicKey).Hex()}, nil
}

// LoadWallet resolves src and parses the result.
func LoadWallet(src KeySource) (Wallet, error) {
	k, err := Resolve(src)
	if err != nil {
		return Wallet{}, err
	}
	return ParseWallet(k)
}
