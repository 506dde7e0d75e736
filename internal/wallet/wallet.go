package wallet

import (
	"context"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/olehkaliuzhnyi/wave-portal/pkg/models"
)

// DerivedAddress holds a generated account with its derivation path.
type DerivedAddress struct {
	Account        models.Account `json:"account"`
	DerivationPath string         `json:"derivation_path"`
	PublicKey      string         `json:"public_key"`
}

// Generator derives accounts from HD seed bytes.
type Generator interface {
	// GenerateFromSeed derives an address from HD seed bytes at the given index
	GenerateFromSeed(seed []byte, index uint32) (*DerivedAddress, error)
}

// Signer defines the interface for transaction signing.
// The key agent is the only caller; browser-style agents sign on their side.
type Signer interface {
	// Sign returns a signed copy of tx.
	Sign(ctx context.Context, tx *types.Transaction, privateKey []byte) (*types.Transaction, error)
}
