package wallet

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	bip39 "github.com/cosmos/go-bip39"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// HDWallet derives one-time gas sponsor accounts on the standard Ethereum
// path m/44'/60'/0'/0/index. Keys are reconstructed on demand from the
// stored index; nothing but the mnemonic-loaded master key lives in memory.
type HDWallet struct {
	masterKey *hdkeychain.ExtendedKey
}

func NewHDWallet(mnemonic string) (*HDWallet, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid sponsor mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, "")
	masterKey, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}
	return &HDWallet{masterKey: masterKey}, nil
}

// DeriveKey reconstructs the private key at m/44'/60'/0'/0/index.
func (w *HDWallet) DeriveKey(index uint32) (*ecdsa.PrivateKey, error) {
	path := []uint32{
		hdkeychain.HardenedKeyStart + 44,
		hdkeychain.HardenedKeyStart + 60,
		hdkeychain.HardenedKeyStart + 0,
		0,
		index,
	}
	key := w.masterKey
	var err error
	for _, step := range path {
		key, err = key.Derive(step)
		if err != nil {
			return nil, fmt.Errorf("failed to derive key at index %d: %w", index, err)
		}
	}
	ecPrivKey, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("failed to extract ec private key at index %d: %w", index, err)
	}
	return ecPrivKey.ToECDSA(), nil
}

// DeriveAddress returns the Ethereum address at the given index.
func (w *HDWallet) DeriveAddress(index uint32) (common.Address, error) {
	key, err := w.DeriveKey(index)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}
