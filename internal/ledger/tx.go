package ledger

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/devrev/treasury/internal/errors"
	"github.com/devrev/treasury/internal/model"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
)

// Tx is one ledger transaction. Reads go through to the store; writes are
// staged in an overlay and reach the store only when the ledger commits.
type Tx struct {
	ctx      context.Context
	store    AccountStore
	signers  map[solana.PublicKey]struct{}
	accounts map[solana.PublicKey]*model.Account
	dirty    map[solana.PublicKey]struct{}
	logs     []string
	moved    uint64
}

func newTx(ctx context.Context, store AccountStore, signers []solana.PublicKey) *Tx {
	tx := &Tx{
		ctx:      ctx,
		store:    store,
		signers:  make(map[solana.PublicKey]struct{}, len(signers)),
		accounts: make(map[solana.PublicKey]*model.Account),
		dirty:    make(map[solana.PublicKey]struct{}),
	}
	for _, s := range signers {
		tx.signers[s] = struct{}{}
	}
	return tx
}

// IsSigner reports whether key signed the transaction
func (tx *Tx) IsSigner(key solana.PublicKey) bool {
	_, ok := tx.signers[key]
	return ok
}

// Account returns a copy of the account as this transaction sees it.
// Addresses nobody has written to read as empty system accounts.
func (tx *Tx) Account(address solana.PublicKey) (*model.Account, error) {
	acct, err := tx.load(address)
	if err != nil {
		return nil, err
	}
	return acct.Clone(), nil
}

func (tx *Tx) load(address solana.PublicKey) (*model.Account, error) {
	if acct, ok := tx.accounts[address]; ok {
		return acct, nil
	}
	if err := tx.ctx.Err(); err != nil {
		return nil, err
	}

	acct, err := tx.store.Get(tx.ctx, address)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		acct = model.NewSystemAccount(address)
	}
	tx.accounts[address] = acct
	return acct, nil
}

func (tx *Tx) markDirty(address solana.PublicKey) {
	tx.dirty[address] = struct{}{}
}

// CreateAccount allocates a program-owned account at a derived address.
// The program proves ownership of the address with its seeds, the same way
// it signs for transfers out of it. Lamports already at the address are kept.
func (tx *Tx) CreateAccount(address, owner solana.PublicKey, seeds [][]byte, data []byte) error {
	if err := checkDerived(address, owner, seeds); err != nil {
		return err
	}

	acct, err := tx.load(address)
	if err != nil {
		return err
	}
	if acct.IsAllocated() {
		return errors.AlreadyInitialized(address.String())
	}

	acct.Owner = owner
	acct.Data = append([]byte(nil), data...)
	tx.markDirty(address)
	return nil
}

// Invoke executes a system transfer whose funding account signed the transaction
func (tx *Tx) Invoke(ix *system.Transfer) error {
	from, to, amount, err := decodeTransfer(ix)
	if err != nil {
		return err
	}
	if !tx.IsSigner(from) {
		return errors.MissingSignature(from.String())
	}
	return tx.transfer(from, to, amount)
}

// InvokeSigned executes a system transfer out of a program derived address.
// The address recomputed from seeds and programID is the only account granted
// signer privilege, so the funding account must equal it.
func (tx *Tx) InvokeSigned(ix *system.Transfer, programID solana.PublicKey, seeds [][]byte) error {
	from, to, amount, err := decodeTransfer(ix)
	if err != nil {
		return err
	}
	if err := checkDerived(from, programID, seeds); err != nil {
		return err
	}
	return tx.transfer(from, to, amount)
}

func (tx *Tx) transfer(from, to solana.PublicKey, amount uint64) error {
	if amount == 0 || from.Equals(to) {
		// still fails when the source cannot cover the amount
		src, err := tx.load(from)
		if err != nil {
			return err
		}
		if src.Lamports < amount {
			return errors.InsufficientFunds(from.String(), src.Lamports, amount)
		}
		return nil
	}

	src, err := tx.load(from)
	if err != nil {
		return err
	}
	dst, err := tx.load(to)
	if err != nil {
		return err
	}

	if src.Lamports < amount {
		return errors.InsufficientFunds(from.String(), src.Lamports, amount)
	}
	if dst.Lamports > math.MaxUint64-amount {
		return errors.ArithmeticOverflow(to.String(), dst.Lamports, amount)
	}

	src.Lamports -= amount
	dst.Lamports += amount
	tx.markDirty(from)
	tx.markDirty(to)
	tx.moved += amount
	return nil
}

// credit adds lamports outside of a transfer; used for genesis funding only
func (tx *Tx) credit(address solana.PublicKey, amount uint64) error {
	acct, err := tx.load(address)
	if err != nil {
		return err
	}
	if !acct.OwnedBy(solana.SystemProgramID) {
		return errors.InvalidAccountOwner(address.String(), acct.Owner.String())
	}
	if acct.Lamports > math.MaxUint64-amount {
		return errors.ArithmeticOverflow(address.String(), acct.Lamports, amount)
	}
	acct.Lamports += amount
	tx.markDirty(address)
	tx.moved += amount
	return nil
}

// Log appends a line to the transaction log returned in the receipt
func (tx *Tx) Log(format string, args ...interface{}) {
	tx.logs = append(tx.logs, fmt.Sprintf(format, args...))
}

// Logs returns the lines logged so far
func (tx *Tx) Logs() []string {
	return append([]string(nil), tx.logs...)
}

// Moved returns the lamports moved by this transaction
func (tx *Tx) Moved() uint64 {
	return tx.moved
}

// writes returns the modified accounts ordered by address
func (tx *Tx) writes() []*model.Account {
	out := make([]*model.Account, 0, len(tx.dirty))
	for addr := range tx.dirty {
		out = append(out, tx.accounts[addr].Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.String() < out[j].Address.String()
	})
	return out
}

func decodeTransfer(ix *system.Transfer) (from, to solana.PublicKey, amount uint64, err error) {
	if ix == nil {
		return from, to, 0, errors.InvalidArgument("transfer instruction is nil", nil)
	}
	if err := ix.Validate(); err != nil {
		return from, to, 0, errors.InvalidArgument("malformed transfer instruction", err)
	}
	return ix.GetFundingAccount().PublicKey, ix.GetRecipientAccount().PublicKey, *ix.Lamports, nil
}

func checkDerived(address, programID solana.PublicKey, seeds [][]byte) error {
	derived, err := solana.CreateProgramAddress(seeds, programID)
	if err != nil {
		return errors.DerivationMismatch(address.String(), "<invalid seeds>").
			WithDetail("reason", err.Error())
	}
	if !derived.Equals(address) {
		return errors.DerivationMismatch(address.String(), derived.String())
	}
	return nil
}
