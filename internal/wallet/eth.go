package wallet

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/olehkaliuzhnyi/wave-portal/pkg/models"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/sha3"
)

// ethCoinType is the SLIP-44 coin type for Ethereum.
const ethCoinType = 60

var errInvalidMnemonic = errors.New("invalid mnemonic")

var (
	_ Generator = (*ETHGenerator)(nil)
	_ Signer    = (*ETHSigner)(nil)
)

// SeedFromMnemonic validates a BIP-39 mnemonic and returns its seed.
func SeedFromMnemonic(mnemonic, passphrase string) ([]byte, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errInvalidMnemonic
	}
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, fmt.Errorf("seed: %w", err)
	}
	return seed, nil
}

// ETHGenerator generates Ethereum accounts using BIP-44 derivation.
// Derivation path: m/44'/60'/0'/0/{index}
type ETHGenerator struct{}

// NewETHGenerator returns a new Ethereum account generator.
func NewETHGenerator() *ETHGenerator {
	return &ETHGenerator{}
}

// GenerateFromSeed derives an Ethereum account from a BIP-39 seed.
func (g *ETHGenerator) GenerateFromSeed(seed []byte, index uint32) (*DerivedAddress, error) {
	key, err := g.DeriveKey(seed, index)
	if err != nil {
		return nil, err
	}
	_, pubKey := btcec.PrivKeyFromBytes(key)
	pubBytes := pubKey.SerializeUncompressed()

	return &DerivedAddress{
		Account:        AccountFromPublicKey(pubBytes),
		DerivationPath: fmt.Sprintf("m/44'/60'/0'/0/%d", index),
		PublicKey:      hex.EncodeToString(pubBytes),
	}, nil
}

// DeriveKey returns the 32-byte private key at m/44'/60'/0'/0/{index}.
func (g *ETHGenerator) DeriveKey(seed []byte, index uint32) ([]byte, error) {
	key, err := deriveKey(seed, ethCoinType, index)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// AccountFromPublicKey maps an uncompressed secp256k1 public key to its
// checksummed account: last 20 bytes of Keccak256(X||Y).
func AccountFromPublicKey(uncompressed []byte) models.Account {
	hash := keccak256(uncompressed[1:]) // skip 0x04 prefix
	return models.Account(common.BytesToAddress(hash[12:]).Hex())
}

// ETHSigner signs Ethereum transactions with EIP-155 replay protection.
type ETHSigner struct {
	chainID *big.Int
}

// NewETHSigner returns a new Ethereum transaction signer with the given chain ID.
func NewETHSigner(chainID *big.Int) *ETHSigner {
	return &ETHSigner{chainID: new(big.Int).Set(chainID)}
}

// ChainID returns the chain the signer protects against replay on.
func (s *ETHSigner) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// Sign signs tx with the raw secp256k1 private key.
func (s *ETHSigner) Sign(ctx context.Context, tx *types.Transaction, privateKey []byte) (*types.Transaction, error) {
	if len(privateKey) != btcec.PrivKeyBytesLen {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", btcec.PrivKeyBytesLen, len(privateKey))
	}
	priv, _ := btcec.PrivKeyFromBytes(privateKey)

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), priv.ToECDSA())
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	return signed, nil
}

// --- helpers ---

// deriveKey derives a child private key from a BIP-39 seed using BIP-32/BIP-44.
// Path: m/44'/{coinType}'/0'/0/{index}
func deriveKey(seed []byte, coinType uint32, index uint32) ([]byte, error) {
	masterKey, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("master key: %w", err)
	}

	path := []struct {
		name  string
		child uint32
	}{
		{"purpose", bip32.FirstHardenedChild + 44},
		{"coin", bip32.FirstHardenedChild + coinType},
		{"account", bip32.FirstHardenedChild + 0},
		{"change", 0},
		{"child", index},
	}

	key := masterKey
	for _, step := range path {
		key, err = key.NewChildKey(step.child)
		if err != nil {
			return nil, fmt.Errorf("derive %s: %w", step.name, err)
		}
	}
	return key.Key, nil
}

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}
