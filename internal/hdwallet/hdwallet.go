// Package hdwallet derives ghost-wallet signing keypairs from a master seed.
//
// Derivation is plain BIP32 over secp256k1 at the fixed path
// m/44'/60'/0'/0/index — the wallet index is the last (external chain)
// component. This path is part of the stored-data contract: changing it would
// orphan every wallet derived before the change, so treat it as frozen.
package hdwallet

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tyler-smith/go-bip39"

	"ghosttrader/internal/domain"
)

// SeedSize is the required master seed length in bytes.
const SeedSize = 32

const (
	purpose  = 44
	coinType = 60
	account  = 0
	change   = 0
)

// DeriveKeypair computes the signing keypair for (seed, index).
// The mapping is a pure deterministic function: the same inputs always
// reproduce the identical keypair, and distinct indices yield independent
// keypairs with no linkage observable from the public keys.
func DeriveKeypair(seed []byte, index uint32) (domain.Keypair, error) {
	if len(seed) != SeedSize {
		return domain.Keypair{}, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}

	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return domain.Keypair{}, fmt.Errorf("failed to build master key: %w", err)
	}

	path := []uint32{
		hdkeychain.HardenedKeyStart + purpose,
		hdkeychain.HardenedKeyStart + coinType,
		hdkeychain.HardenedKeyStart + account,
		change,
		index,
	}
	key := master
	for _, step := range path {
		key, err = key.Derive(step)
		if err != nil {
			return domain.Keypair{}, fmt.Errorf("failed to derive child %d: %w", step, err)
		}
	}

	priv, err := key.ECPrivKey()
	if err != nil {
		return domain.Keypair{}, fmt.Errorf("failed to extract private key: %w", err)
	}
	pub, err := key.ECPubKey()
	if err != nil {
		return domain.Keypair{}, fmt.Errorf("failed to extract public key: %w", err)
	}

	return domain.Keypair{
		PrivateKey: priv.Serialize(),
		PublicKey:  fmt.Sprintf("%x", pub.SerializeCompressed()),
	}, nil
}

// Mnemonic encodes raw seed entropy as a standard BIP39 phrase for backup.
// 32 bytes of entropy encode as 24 words.
func Mnemonic(entropy []byte) (string, error) {
	phrase, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("failed to encode mnemonic: %w", err)
	}
	return phrase, nil
}
