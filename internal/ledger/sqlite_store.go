package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/devrev/treasury/internal/errors"
	"github.com/devrev/treasury/internal/model"
	"github.com/gagliardetto/solana-go"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// SQLiteStore persists accounts in a SQLite database. Each entry is applied
// in one SQL transaction together with the ledger sequence.
type SQLiteStore struct {
	db      *sql.DB
	lastSeq uint64
	logger  *zap.Logger
}

// NewSQLiteStore opens (creating if needed) the database at path
func NewSQLiteStore(ctx context.Context, path string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, errors.StorageFailed("failed to open sqlite database", err)
	}
	// one writer; the ledger serializes transactions anyway
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createTables(ctx); err != nil {
		db.Close()
		return nil, errors.StorageFailed("failed to create sqlite schema", err)
	}

	if err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(sequence), 0) FROM ledger_meta").Scan(&s.lastSeq); err != nil {
		db.Close()
		return nil, errors.StorageFailed("failed to read ledger sequence", err)
	}

	logger.Info("Opened sqlite account store",
		zap.String("path", path),
		zap.Uint64("last_sequence", s.lastSeq))

	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		address TEXT PRIMARY KEY,
		lamports TEXT NOT NULL,
		owner TEXT NOT NULL,
		data BLOB
	);

	CREATE TABLE IF NOT EXISTS ledger_meta (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		sequence INTEGER NOT NULL,
		instruction TEXT NOT NULL,
		committed_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_owner ON accounts(owner);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Get returns the account at address, or nil if none was stored
func (s *SQLiteStore) Get(ctx context.Context, address solana.PublicKey) (*model.Account, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT address, lamports, owner, data FROM accounts WHERE address = ?",
		address.String())

	acct, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.StorageFailed(fmt.Sprintf("failed to read account %s", address), err)
	}
	return acct, nil
}

// Apply writes every account of entry and advances the sequence atomically
func (s *SQLiteStore) Apply(ctx context.Context, entry *model.CommitLogEntry) error {
	if entry.SequenceNumber != s.lastSeq+1 {
		return errors.InternalError(
			fmt.Sprintf("entry sequence %d does not follow %d", entry.SequenceNumber, s.lastSeq), nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.StorageFailed("failed to begin sqlite transaction", err)
	}
	defer tx.Rollback()

	for _, acct := range entry.Writes {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO accounts (address, lamports, owner, data) VALUES (?, ?, ?, ?)
			 ON CONFLICT(address) DO UPDATE SET
			   lamports = excluded.lamports,
			   owner = excluded.owner,
			   data = excluded.data`,
			acct.Address.String(),
			strconv.FormatUint(acct.Lamports, 10),
			acct.Owner.String(),
			acct.Data,
		)
		if err != nil {
			return errors.StorageFailed(fmt.Sprintf("failed to write account %s", acct.Address), err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO ledger_meta (id, sequence, instruction, committed_at) VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   sequence = excluded.sequence,
		   instruction = excluded.instruction,
		   committed_at = excluded.committed_at`,
		entry.SequenceNumber, entry.Instruction, entry.Timestamp)
	if err != nil {
		return errors.StorageFailed("failed to advance ledger sequence", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.StorageFailed("failed to commit sqlite transaction", err)
	}

	s.lastSeq = entry.SequenceNumber
	return nil
}

// List returns every account ordered by address
func (s *SQLiteStore) List(ctx context.Context) ([]*model.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT address, lamports, owner, data FROM accounts ORDER BY address")
	if err != nil {
		return nil, errors.StorageFailed("failed to list accounts", err)
	}
	defer rows.Close()

	var accounts []*model.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, errors.StorageFailed("failed to scan account", err)
		}
		accounts = append(accounts, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageFailed("failed to list accounts", err)
	}
	return accounts, nil
}

// LastSequence returns the sequence of the last applied entry
func (s *SQLiteStore) LastSequence() uint64 {
	return s.lastSeq
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*model.Account, error) {
	var address, lamports, owner string
	var data []byte
	if err := row.Scan(&address, &lamports, &owner, &data); err != nil {
		return nil, err
	}

	acct := &model.Account{Data: data}
	var err error
	if acct.Address, err = solana.PublicKeyFromBase58(address); err != nil {
		return nil, fmt.Errorf("bad address %q: %w", address, err)
	}
	if acct.Owner, err = solana.PublicKeyFromBase58(owner); err != nil {
		return nil, fmt.Errorf("bad owner %q: %w", owner, err)
	}
	if acct.Lamports, err = strconv.ParseUint(lamports, 10, 64); err != nil {
		return nil, fmt.Errorf("bad lamports %q: %w", lamports, err)
	}
	return acct, nil
}
