// Package ledger is the in-process runtime the treasury program executes
// against: an account store, a single-writer transaction boundary, signer
// rules and the system transfer primitive.
package ledger

import (
	"context"

	"github.com/devrev/treasury/internal/model"
	"github.com/gagliardetto/solana-go"
)

// AccountStore persists accounts. Implementations must apply every write of
// an entry or none of them.
type AccountStore interface {
	// Get returns a copy of the account, or nil if nothing was ever written at address
	Get(ctx context.Context, address solana.PublicKey) (*model.Account, error)

	// Apply atomically writes the accounts of one committed transaction
	Apply(ctx context.Context, entry *model.CommitLogEntry) error

	// List returns copies of every stored account ordered by address
	List(ctx context.Context) ([]*model.Account, error)

	// LastSequence returns the sequence number of the last applied entry
	LastSequence() uint64

	Close() error
}
