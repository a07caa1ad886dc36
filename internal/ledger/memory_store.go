package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/devrev/treasury/internal/errors"
	"github.com/devrev/treasury/internal/model"
	"github.com/devrev/treasury/internal/storage/memtable"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

// MemoryStore keeps accounts in an ordered skip list. With a commit log it is
// durable: every entry is logged before it becomes visible, and Recover
// rebuilds the index from the log.
type MemoryStore struct {
	mu      sync.RWMutex
	index   *memtable.SkipList
	log     *CommitLog
	lastSeq uint64
	logger  *zap.Logger
}

// NewMemoryStore creates a memory store. log may be nil for a volatile store.
func NewMemoryStore(log *CommitLog, logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		index:  memtable.NewSkipList(),
		log:    log,
		logger: logger,
	}
}

// Recover replays the commit log into the index
func (s *MemoryStore) Recover(ctx context.Context) (int, error) {
	if s.log == nil {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.log.Recover(ctx, func(entry *model.CommitLogEntry) error {
		s.applyLocked(entry)
		return nil
	})
}

// Get returns a copy of the account at address
func (s *MemoryStore) Get(ctx context.Context, address solana.PublicKey) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.index.Get(address.String())
	if !ok {
		return nil, nil
	}
	return acct.Clone(), nil
}

// Apply logs entry and then makes its writes visible
func (s *MemoryStore) Apply(ctx context.Context, entry *model.CommitLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.SequenceNumber != s.lastSeq+1 {
		return errors.InternalError(
			fmt.Sprintf("entry sequence %d does not follow %d", entry.SequenceNumber, s.lastSeq), nil)
	}

	if s.log != nil {
		if err := s.log.Append(ctx, entry); err != nil {
			return err
		}
	}

	s.applyLocked(entry)
	return nil
}

func (s *MemoryStore) applyLocked(entry *model.CommitLogEntry) {
	for _, acct := range entry.Writes {
		s.index.Put(acct.Clone())
	}
	s.lastSeq = entry.SequenceNumber
}

// List returns every account ordered by base58 address
func (s *MemoryStore) List(ctx context.Context) ([]*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]*model.Account, 0, s.index.Len())
	it := s.index.Iterator()
	for it.Next() {
		accounts = append(accounts, it.Account().Clone())
	}
	return accounts, nil
}

// LastSequence returns the sequence of the last applied entry
func (s *MemoryStore) LastSequence() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeq
}

// Close closes the commit log, if any
func (s *MemoryStore) Close() error {
	if s.log != nil {
		return s.log.Close()
	}
	return nil
}
