package service

import (
	"context"
	"testing"

	"github.com/devrev/treasury/internal/derivation"
	"github.com/devrev/treasury/internal/errors"
	"github.com/devrev/treasury/internal/ledger"
	"github.com/devrev/treasury/internal/metrics"
	"github.com/devrev/treasury/internal/model"
	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testProgramID = solana.MustPublicKeyFromBase58("4tXE3MBtiraiLALMezP1YmMm22QFofDraqzRAeUqB8dx")

type fixture struct {
	ctx       context.Context
	ledger    *ledger.Ledger
	deriver   *derivation.Deriver
	transfers *TransferService
	svc       *TreasuryService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m := metrics.NewMetrics("test", prometheus.NewRegistry())
	l := ledger.NewLedger(ledger.NewMemoryStore(nil, zap.NewNop()), m, zap.NewNop())
	d := derivation.NewDeriver(testProgramID)
	transfers := NewTransferService(d, m, zap.NewNop())

	return &fixture{
		ctx:       context.Background(),
		ledger:    l,
		deriver:   d,
		transfers: transfers,
		svc:       NewTreasuryService(l, d, transfers, m, zap.NewNop()),
	}
}

func (f *fixture) fund(t *testing.T, addr solana.PublicKey, lamports uint64) {
	t.Helper()
	_, err := f.ledger.Fund(f.ctx, addr, lamports)
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, addr solana.PublicKey) uint64 {
	t.Helper()
	acct, err := f.svc.Balance(f.ctx, addr)
	require.NoError(t, err)
	return acct.Lamports
}

func (f *fixture) initialize(t *testing.T, authority solana.PublicKey) solana.PublicKey {
	t.Helper()
	res, err := f.svc.InitializeTreasury(f.ctx, &InitializeRequest{
		Authority: authority,
		Signers:   []solana.PublicKey{authority},
	})
	require.NoError(t, err)
	return res.Treasury.Address
}

func (f *fixture) deposit(t *testing.T, depositor, treasury solana.PublicKey, amount uint64) {
	t.Helper()
	_, err := f.svc.Deposit(f.ctx, &DepositRequest{
		Depositor: depositor,
		Treasury:  treasury,
		Amount:    amount,
		Signers:   []solana.PublicKey{depositor},
	})
	require.NoError(t, err)
}

func newKey() solana.PublicKey {
	return solana.NewWallet().PublicKey()
}

func TestInitializeTreasury(t *testing.T) {
	f := newFixture(t)
	authority := newKey()

	res, err := f.svc.InitializeTreasury(f.ctx, &InitializeRequest{
		Authority: authority,
		Signers:   []solana.PublicKey{authority},
	})
	require.NoError(t, err)

	vault, bump, err := f.deriver.TreasuryVault(authority)
	require.NoError(t, err)
	assert.True(t, res.Treasury.Address.Equals(vault))
	assert.Equal(t, bump, res.Treasury.Bump)
	assert.True(t, res.Treasury.Authority.Equals(authority))
	assert.Equal(t, []string{"Treasury initialized for authority: " + authority.String()}, res.Receipt.Logs)

	acct, err := f.svc.Balance(f.ctx, vault)
	require.NoError(t, err)
	assert.True(t, acct.OwnedBy(testProgramID))
	record, err := model.UnmarshalTreasuryRecord(acct.Data)
	require.NoError(t, err)
	assert.True(t, record.Authority.Equals(authority))
	assert.Equal(t, bump, record.Bump)
}

func TestInitializeTreasury_Twice(t *testing.T) {
	f := newFixture(t)
	authority := newKey()
	vault := f.initialize(t, authority)

	before, err := f.svc.GetTreasury(f.ctx, vault)
	require.NoError(t, err)

	_, err = f.svc.InitializeTreasury(f.ctx, &InitializeRequest{
		Authority: authority,
		Signers:   []solana.PublicKey{authority},
	})
	assert.Equal(t, errors.ErrCodeAlreadyInitialized, errors.GetCode(err))

	after, err := f.svc.GetTreasury(f.ctx, vault)
	require.NoError(t, err)
	assert.Equal(t, before.Bump, after.Bump)
	assert.True(t, after.Authority.Equals(authority))
}

func TestInitializeTreasury_RequiresSignature(t *testing.T) {
	f := newFixture(t)
	authority := newKey()

	_, err := f.svc.InitializeTreasury(f.ctx, &InitializeRequest{
		Authority: authority,
		Signers:   []solana.PublicKey{newKey()},
	})
	assert.Equal(t, errors.ErrCodeMissingSignature, errors.GetCode(err))

	view, err := f.svc.FindTreasury(f.ctx, authority)
	require.NoError(t, err)
	assert.False(t, view.Initialized)
}

func TestInitializeTreasury_KeepsPrefundedLamports(t *testing.T) {
	f := newFixture(t)
	authority, donor := newKey(), newKey()
	vault, _, err := f.deriver.TreasuryVault(authority)
	require.NoError(t, err)

	f.fund(t, donor, 50)
	_, err = f.svc.TransferDirect(f.ctx, &TransferRequest{
		Sender: donor, Recipient: vault, Amount: 50, Signers: []solana.PublicKey{donor},
	})
	require.NoError(t, err)

	f.initialize(t, authority)
	view, err := f.svc.GetTreasury(f.ctx, vault)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), view.Lamports)
}

func TestDeposit_Conservation(t *testing.T) {
	f := newFixture(t)
	authority, depositor := newKey(), newKey()
	vault := f.initialize(t, authority)
	f.fund(t, depositor, 5000)

	res, err := f.svc.Deposit(f.ctx, &DepositRequest{
		Depositor: depositor,
		Treasury:  vault,
		Amount:    1234,
		Signers:   []solana.PublicKey{depositor},
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(1234), res.Treasury.Lamports)
	assert.Equal(t, uint64(1234), f.balance(t, vault))
	assert.Equal(t, uint64(5000-1234), f.balance(t, depositor))
	assert.Equal(t, []string{"Deposited 1234 lamports (0.000001234 SOL) into treasury " + vault.String()}, res.Receipt.Logs)
}

func TestDeposit_Failures(t *testing.T) {
	f := newFixture(t)
	authority, depositor := newKey(), newKey()
	vault := f.initialize(t, authority)
	f.fund(t, depositor, 100)

	otherProgram := newKey()
	foreignAddr, foreignBump, err := derivation.NewDeriver(otherProgram).TreasuryVault(authority)
	require.NoError(t, err)
	_, err = f.ledger.Execute(f.ctx, "foreign", nil, func(tx *ledger.Tx) error {
		return tx.CreateAccount(foreignAddr, otherProgram,
			derivation.Seeds(derivation.TreasurySeed, authority, foreignBump), []byte{1})
	})
	require.NoError(t, err)

	tests := []struct {
		name     string
		treasury solana.PublicKey
		signers  []solana.PublicKey
		amount   uint64
		wantCode errors.ErrorCode
	}{
		{"unsigned", vault, []solana.PublicKey{authority}, 10, errors.ErrCodeMissingSignature},
		{"insufficient", vault, []solana.PublicKey{depositor}, 101, errors.ErrCodeInsufficientFunds},
		{"not a treasury", newKey(), []solana.PublicKey{depositor}, 10, errors.ErrCodeAccountNotFound},
		{"foreign program", foreignAddr, []solana.PublicKey{depositor}, 10, errors.ErrCodeInvalidAccountOwner},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Deposit(f.ctx, &DepositRequest{
				Depositor: depositor,
				Treasury:  tt.treasury,
				Amount:    tt.amount,
				Signers:   tt.signers,
			})
			assert.Equal(t, tt.wantCode, errors.GetCode(err))
			assert.Equal(t, uint64(100), f.balance(t, depositor))
			assert.Equal(t, uint64(0), f.balance(t, vault))
		})
	}
}

func TestDistribute_ByAuthority(t *testing.T) {
	f := newFixture(t)
	authority, depositor, recipient := newKey(), newKey(), newKey()
	vault := f.initialize(t, authority)
	f.fund(t, depositor, 1000)
	f.deposit(t, depositor, vault, 1000)

	res, err := f.svc.Distribute(f.ctx, &DistributeRequest{
		Authority: authority,
		Treasury:  vault,
		Recipient: recipient,
		Amount:    1000,
		Signers:   []solana.PublicKey{authority},
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(0), res.Treasury.Lamports)
	assert.Equal(t, uint64(1000), f.balance(t, recipient))
	assert.Equal(t, uint64(0), f.balance(t, vault))
}

func TestDistribute_Failures(t *testing.T) {
	authority, intruder, depositor, recipient := newKey(), newKey(), newKey(), newKey()

	tests := []struct {
		name     string
		caller   solana.PublicKey
		signers  []solana.PublicKey
		amount   uint64
		wantCode errors.ErrorCode
	}{
		{"non-authority", intruder, []solana.PublicKey{intruder}, 1, errors.ErrCodeUnauthorized},
		{"non-authority signed by authority too", intruder, []solana.PublicKey{intruder, authority}, 1, errors.ErrCodeUnauthorized},
		{"authority did not sign", authority, []solana.PublicKey{intruder}, 1, errors.ErrCodeMissingSignature},
		{"more than balance", authority, []solana.PublicKey{authority}, 501, errors.ErrCodeInsufficientFunds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			vault := f.initialize(t, authority)
			f.fund(t, depositor, 500)
			f.deposit(t, depositor, vault, 500)

			_, err := f.svc.Distribute(f.ctx, &DistributeRequest{
				Authority: tt.caller,
				Treasury:  vault,
				Recipient: recipient,
				Amount:    tt.amount,
				Signers:   tt.signers,
			})
			assert.Equal(t, tt.wantCode, errors.GetCode(err))
			assert.Equal(t, uint64(500), f.balance(t, vault))
			assert.Equal(t, uint64(0), f.balance(t, recipient))
		})
	}
}

func TestDistribute_OtherAuthoritysTreasury(t *testing.T) {
	f := newFixture(t)
	alice, bob, depositor, recipient := newKey(), newKey(), newKey(), newKey()
	aliceVault := f.initialize(t, alice)
	f.initialize(t, bob)
	f.fund(t, depositor, 100)
	f.deposit(t, depositor, aliceVault, 100)

	_, err := f.svc.Distribute(f.ctx, &DistributeRequest{
		Authority: bob,
		Treasury:  aliceVault,
		Recipient: recipient,
		Amount:    100,
		Signers:   []solana.PublicKey{bob},
	})
	assert.Equal(t, errors.ErrCodeUnauthorized, errors.GetCode(err))
	assert.Equal(t, uint64(100), f.balance(t, aliceVault))
}

func TestDistribute_RecordAtWrongAddress(t *testing.T) {
	f := newFixture(t)
	authority, impostor, recipient := newKey(), newKey(), newKey()

	// a program-owned account whose record names a different authority
	vault, bump, err := f.deriver.TreasuryVault(authority)
	require.NoError(t, err)
	_, impostorBump, err := f.deriver.TreasuryVault(impostor)
	require.NoError(t, err)
	data, err := (&model.TreasuryRecord{Authority: impostor, Bump: impostorBump}).MarshalAccountData()
	require.NoError(t, err)
	_, err = f.ledger.Execute(f.ctx, "forge", nil, func(tx *ledger.Tx) error {
		return tx.CreateAccount(vault, testProgramID, derivation.Seeds(derivation.TreasurySeed, authority, bump), data)
	})
	require.NoError(t, err)

	_, err = f.svc.Distribute(f.ctx, &DistributeRequest{
		Authority: impostor,
		Treasury:  vault,
		Recipient: recipient,
		Amount:    0,
		Signers:   []solana.PublicKey{impostor},
	})
	assert.Equal(t, errors.ErrCodeDerivationMismatch, errors.GetCode(err))
}

func TestTransferFromVault_WrongBump(t *testing.T) {
	f := newFixture(t)
	authority, depositor, recipient := newKey(), newKey(), newKey()
	vault := f.initialize(t, authority)
	f.fund(t, depositor, 10)
	f.deposit(t, depositor, vault, 10)

	view, err := f.svc.GetTreasury(f.ctx, vault)
	require.NoError(t, err)

	_, err = f.ledger.Execute(f.ctx, "distribute", nil, func(tx *ledger.Tx) error {
		return f.transfers.TransferFromVault(tx, vault, recipient, authority, view.Bump-1, 5)
	})
	assert.Equal(t, errors.ErrCodeDerivationMismatch, errors.GetCode(err))

	_, err = f.ledger.Execute(f.ctx, "distribute", nil, func(tx *ledger.Tx) error {
		return f.transfers.TransferFromVault(tx, vault, recipient, newKey(), view.Bump, 5)
	})
	assert.Equal(t, errors.ErrCodeDerivationMismatch, errors.GetCode(err))
	assert.Equal(t, uint64(10), f.balance(t, vault))
}

func TestTransferDirect(t *testing.T) {
	f := newFixture(t)
	sender, recipient := newKey(), newKey()
	f.fund(t, sender, 10)

	_, err := f.svc.TransferDirect(f.ctx, &TransferRequest{
		Sender: sender, Recipient: recipient, Amount: 4, Signers: []solana.PublicKey{sender},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(6), f.balance(t, sender))
	assert.Equal(t, uint64(4), f.balance(t, recipient))

	_, err = f.svc.TransferDirect(f.ctx, &TransferRequest{
		Sender: sender, Recipient: recipient, Amount: 4, Signers: []solana.PublicKey{recipient},
	})
	assert.Equal(t, errors.ErrCodeMissingSignature, errors.GetCode(err))

	_, err = f.svc.TransferDirect(f.ctx, &TransferRequest{
		Sender: sender, Recipient: recipient, Amount: 7, Signers: []solana.PublicKey{sender},
	})
	assert.Equal(t, errors.ErrCodeInsufficientFunds, errors.GetCode(err))
	assert.Equal(t, uint64(6), f.balance(t, sender))
}

func TestTransferDirect_CannotDrainVault(t *testing.T) {
	f := newFixture(t)
	authority, depositor := newKey(), newKey()
	vault := f.initialize(t, authority)
	f.fund(t, depositor, 10)
	f.deposit(t, depositor, vault, 10)

	_, err := f.svc.TransferDirect(f.ctx, &TransferRequest{
		Sender: vault, Recipient: authority, Amount: 10, Signers: []solana.PublicKey{authority},
	})
	assert.Equal(t, errors.ErrCodeMissingSignature, errors.GetCode(err))
	assert.Equal(t, uint64(10), f.balance(t, vault))
}

func TestFindTreasury(t *testing.T) {
	f := newFixture(t)
	authority := newKey()

	view, err := f.svc.FindTreasury(f.ctx, authority)
	require.NoError(t, err)
	assert.False(t, view.Initialized)

	vault := f.initialize(t, authority)
	view, err = f.svc.FindTreasury(f.ctx, authority)
	require.NoError(t, err)
	assert.True(t, view.Initialized)
	assert.True(t, view.Address.Equals(vault))

	count, err := f.svc.CountTreasuries(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestScenario_DepositThenDistribute(t *testing.T) {
	f := newFixture(t)
	a, d, r := newKey(), newKey(), newKey()
	f.fund(t, d, 5000)

	vault := f.initialize(t, a)
	f.deposit(t, d, vault, 1000)

	res, err := f.svc.Distribute(f.ctx, &DistributeRequest{
		Authority: a,
		Treasury:  vault,
		Recipient: r,
		Amount:    400,
		Signers:   []solana.PublicKey{a},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Distributed 400 lamports (0.0000004 SOL) from treasury " + vault.String() + " to " + r.String(),
	}, res.Receipt.Logs)

	assert.Equal(t, uint64(600), f.balance(t, vault))
	assert.Equal(t, uint64(400), f.balance(t, r))
	assert.Equal(t, uint64(4000), f.balance(t, d))
}

func TestScenario_IntruderDistribution(t *testing.T) {
	f := newFixture(t)
	a, b, r := newKey(), newKey(), newKey()

	vault := f.initialize(t, a)
	_, err := f.svc.Distribute(f.ctx, &DistributeRequest{
		Authority: b,
		Treasury:  vault,
		Recipient: r,
		Amount:    1,
		Signers:   []solana.PublicKey{b},
	})

	assert.Equal(t, errors.ErrCodeUnauthorized, errors.GetCode(err))
	assert.Equal(t, uint64(0), f.balance(t, vault))
	assert.Equal(t, uint64(0), f.balance(t, r))
}
