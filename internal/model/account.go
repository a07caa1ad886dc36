package model

import (
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// Account is a ledger account: a lamport balance plus optional data owned by a program
type Account struct {
	Address  solana.PublicKey `json:"address"`
	Lamports uint64           `json:"lamports"`
	Owner    solana.PublicKey `json:"owner"`
	Data     []byte           `json:"data,omitempty"`
}

// NewSystemAccount returns an empty account as the runtime sees an address nobody has written to
func NewSystemAccount(address solana.PublicKey) *Account {
	return &Account{
		Address: address,
		Owner:   solana.SystemProgramID,
	}
}

// Clone returns a deep copy so callers never share Data with the store
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	if a.Data != nil {
		c.Data = append([]byte(nil), a.Data...)
	}
	return &c
}

// IsAllocated reports whether a program has claimed the account
func (a *Account) IsAllocated() bool {
	return !a.Owner.Equals(solana.SystemProgramID) || len(a.Data) > 0
}

// OwnedBy reports whether the account belongs to the given program
func (a *Account) OwnedBy(programID solana.PublicKey) bool {
	return a.Owner.Equals(programID)
}

// CommitLogEntry is one committed ledger transaction
type CommitLogEntry struct {
	SequenceNumber uint64     `json:"seq"`
	Instruction    string     `json:"instruction"`
	Timestamp      int64      `json:"ts"`
	Writes         []*Account `json:"writes"`
	Checksum       uint32     `json:"checksum"`
}

// LamportsToSOL converts a lamport amount to SOL without rounding
func LamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -9)
}
