// Package signer derives the withdrawal executor's EVM signing key from an
// operator-supplied BIP39 mnemonic, using the same HD derivation idiom the
// wallet package uses for its multi-chain keys.
package signer

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tyler-smith/go-bip39"
)

// derivationPurpose/CoinType follow BIP44; 60 is Ethereum's registered coin
// type (SLIP-44).
const (
	derivationPurpose  = 44
	derivationCoinType = 60
)

// EVMKey derives the EVM signing key for (account, index) from mnemonic.
// passphrase may be empty. Uses m/44'/60'/account'/0/index.
func EVMKey(mnemonic, passphrase string, account, index uint32) (*ecdsa.PrivateKey, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}

	seed := bip39.NewSeed(mnemonic, passphrase)

	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("derive master key: %w", err)
	}

	purposeKey, err := master.Derive(hdkeychain.HardenedKeyStart + derivationPurpose)
	if err != nil {
		return nil, fmt.Errorf("derive purpose: %w", err)
	}
	coinKey, err := purposeKey.Derive(hdkeychain.HardenedKeyStart + derivationCoinType)
	if err != nil {
		return nil, fmt.Errorf("derive coin type: %w", err)
	}
	accountKey, err := coinKey.Derive(hdkeychain.HardenedKeyStart + account)
	if err != nil {
		return nil, fmt.Errorf("derive account: %w", err)
	}
	changeKey, err := accountKey.Derive(0)
	if err != nil {
		return nil, fmt.Errorf("derive change: %w", err)
	}
	addressKey, err := changeKey.Derive(index)
	if err != nil {
		return nil, fmt.Errorf("derive address index: %w", err)
	}

	privKey, err := addressKey.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("extract ec private key: %w", err)
	}

	return privKey.ToECDSA(), nil
}
