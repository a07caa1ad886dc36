package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/devrev/treasury/internal/errors"
	"github.com/devrev/treasury/internal/metrics"
	"github.com/devrev/treasury/internal/model"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

// Receipt describes a committed transaction
type Receipt struct {
	Sequence    uint64   `json:"sequence"`
	Instruction string   `json:"instruction"`
	Logs        []string `json:"logs"`
	Lamports    uint64   `json:"lamports_moved"`
}

// Ledger runs transactions one at a time against an AccountStore
type Ledger struct {
	store   AccountStore
	metrics *metrics.Metrics
	logger  *zap.Logger
	mu      sync.Mutex
	now     func() time.Time
}

// NewLedger creates a ledger over store
func NewLedger(store AccountStore, m *metrics.Metrics, logger *zap.Logger) *Ledger {
	m.LedgerSequence.Set(float64(store.LastSequence()))
	return &Ledger{
		store:   store,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Execute runs fn inside a transaction signed by signers. Every write fn
// stages is applied atomically when fn returns nil; on error, or when ctx is
// done before the commit, nothing is applied.
func (l *Ledger) Execute(
	ctx context.Context,
	instruction string,
	signers []solana.PublicKey,
	fn func(tx *Tx) error,
) (*Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := newTx(ctx, l.store, signers)

	if err := fn(tx); err != nil {
		l.rollback(instruction, err)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		l.rollback(instruction, err)
		return nil, err
	}

	receipt := &Receipt{
		Sequence:    l.store.LastSequence(),
		Instruction: instruction,
		Logs:        tx.Logs(),
		Lamports:    tx.Moved(),
	}

	writes := tx.writes()
	if len(writes) == 0 {
		return receipt, nil
	}

	entry := &model.CommitLogEntry{
		SequenceNumber: receipt.Sequence + 1,
		Instruction:    instruction,
		Timestamp:      l.now().UnixNano(),
		Writes:         writes,
	}
	if err := l.store.Apply(ctx, entry); err != nil {
		l.rollback(instruction, err)
		return nil, err
	}

	receipt.Sequence = entry.SequenceNumber
	l.metrics.RecordCommit(entry.SequenceNumber)
	l.logger.Debug("Committed ledger transaction",
		zap.Uint64("sequence", entry.SequenceNumber),
		zap.String("instruction", instruction),
		zap.Int("writes", len(writes)))

	return receipt, nil
}

func (l *Ledger) rollback(instruction string, cause error) {
	l.metrics.RecordRollback()
	l.logger.Debug("Rolled back ledger transaction",
		zap.String("instruction", instruction),
		zap.String("code", errors.GetCode(cause).String()),
		zap.Error(cause))
}

// Allocation is a faucet credit
type Allocation struct {
	Address  solana.PublicKey
	Lamports uint64
}

// Fund credits lamports to a system account. It is the ledger's genesis
// faucet and cannot touch program-owned accounts.
func (l *Ledger) Fund(ctx context.Context, address solana.PublicKey, lamports uint64) (*Receipt, error) {
	return l.FundAll(ctx, "fund", []Allocation{{Address: address, Lamports: lamports}})
}

// FundAll applies every allocation in one transaction: either all accounts
// are credited or none are.
func (l *Ledger) FundAll(ctx context.Context, instruction string, allocations []Allocation) (*Receipt, error) {
	return l.Execute(ctx, instruction, nil, func(tx *Tx) error {
		for _, a := range allocations {
			if err := tx.credit(a.Address, a.Lamports); err != nil {
				return err
			}
			tx.Log("Funded %s with %d lamports", a.Address, a.Lamports)
		}
		return nil
	})
}

// Account returns the committed state of address
func (l *Ledger) Account(ctx context.Context, address solana.PublicKey) (*model.Account, error) {
	acct, err := l.store.Get(ctx, address)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return model.NewSystemAccount(address), nil
	}
	return acct, nil
}

// Accounts returns every stored account
func (l *Ledger) Accounts(ctx context.Context) ([]*model.Account, error) {
	accounts, err := l.store.List(ctx)
	if err != nil {
		return nil, err
	}
	l.metrics.UpdateAccounts(len(accounts))
	return accounts, nil
}

// Sequence returns the last committed sequence number
func (l *Ledger) Sequence() uint64 {
	return l.store.LastSequence()
}
