package service

import (
	"context"
	"time"

	"github.com/devrev/treasury/internal/derivation"
	"github.com/devrev/treasury/internal/errors"
	"github.com/devrev/treasury/internal/ledger"
	"github.com/devrev/treasury/internal/metrics"
	"github.com/devrev/treasury/internal/model"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

// Instruction names as recorded in the commit log and metrics
const (
	InstructionInitialize = "initialize_treasury"
	InstructionDeposit    = "deposit"
	InstructionDistribute = "distribute"
	InstructionTransfer   = "transfer"
)

// TreasuryService implements the treasury program's instructions
type TreasuryService struct {
	ledger    *ledger.Ledger
	deriver   *derivation.Deriver
	transfers *TransferService
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewTreasuryService creates a new treasury service
func NewTreasuryService(
	l *ledger.Ledger,
	deriver *derivation.Deriver,
	transfers *TransferService,
	m *metrics.Metrics,
	logger *zap.Logger,
) *TreasuryService {
	return &TreasuryService{
		ledger:    l,
		deriver:   deriver,
		transfers: transfers,
		metrics:   m,
		logger:    logger,
	}
}

// InitializeRequest creates the treasury of Authority
type InitializeRequest struct {
	Authority solana.PublicKey
	Signers   []solana.PublicKey
}

// DepositRequest moves Amount from Depositor into the vault at Treasury
type DepositRequest struct {
	Depositor solana.PublicKey
	Treasury  solana.PublicKey
	Amount    uint64
	Signers   []solana.PublicKey
}

// DistributeRequest moves Amount from the vault at Treasury to Recipient
type DistributeRequest struct {
	Authority solana.PublicKey
	Treasury  solana.PublicKey
	Recipient solana.PublicKey
	Amount    uint64
	Signers   []solana.PublicKey
}

// TransferRequest moves Amount between two accounts without a treasury
type TransferRequest struct {
	Sender    solana.PublicKey
	Recipient solana.PublicKey
	Amount    uint64
	Signers   []solana.PublicKey
}

// TreasuryView is the read model of a treasury and its vault
type TreasuryView struct {
	Address     solana.PublicKey
	Authority   solana.PublicKey
	Bump        uint8
	Lamports    uint64
	Initialized bool
}

// OperationResult is returned by state-changing instructions
type OperationResult struct {
	Receipt  *ledger.Receipt
	Treasury *TreasuryView
}

// InitializeTreasury derives the authority's vault and allocates its record
func (s *TreasuryService) InitializeTreasury(ctx context.Context, req *InitializeRequest) (*OperationResult, error) {
	var view *TreasuryView

	receipt, err := s.execute(ctx, InstructionInitialize, req.Signers, func(tx *ledger.Tx) error {
		if !tx.IsSigner(req.Authority) {
			return errors.MissingSignature(req.Authority.String())
		}

		vault, bump, err := s.deriver.TreasuryVault(req.Authority)
		if err != nil {
			return err
		}

		record := &model.TreasuryRecord{Authority: req.Authority, Bump: bump}
		data, err := record.MarshalAccountData()
		if err != nil {
			return errors.InternalError("failed to encode treasury record", err)
		}

		seeds := derivation.Seeds(derivation.TreasurySeed, req.Authority, bump)
		if err := tx.CreateAccount(vault, s.deriver.ProgramID(), seeds, data); err != nil {
			return err
		}

		acct, err := tx.Account(vault)
		if err != nil {
			return err
		}

		tx.Log("Treasury initialized for authority: %s", req.Authority)
		view = &TreasuryView{
			Address:     vault,
			Authority:   req.Authority,
			Bump:        bump,
			Lamports:    acct.Lamports,
			Initialized: true,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordTreasuryCreated()
	s.logger.Info("Treasury initialized",
		zap.String("authority", req.Authority.String()),
		zap.String("treasury", view.Address.String()),
		zap.Uint8("bump", view.Bump),
		zap.Uint64("sequence", receipt.Sequence))

	return &OperationResult{Receipt: receipt, Treasury: view}, nil
}

// Deposit moves lamports from a signing depositor into a treasury vault
func (s *TreasuryService) Deposit(ctx context.Context, req *DepositRequest) (*OperationResult, error) {
	var view *TreasuryView

	receipt, err := s.execute(ctx, InstructionDeposit, req.Signers, func(tx *ledger.Tx) error {
		if !tx.IsSigner(req.Depositor) {
			return errors.MissingSignature(req.Depositor.String())
		}

		record, err := s.loadRecord(tx, req.Treasury)
		if err != nil {
			return err
		}

		if err := s.transfers.Transfer(tx, req.Depositor, req.Treasury, req.Amount); err != nil {
			return err
		}

		tx.Log("Deposited %d lamports (%s SOL) into treasury %s",
			req.Amount, model.LamportsToSOL(req.Amount), req.Treasury)

		view, err = s.txView(tx, req.Treasury, record)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Deposit committed",
		zap.String("depositor", req.Depositor.String()),
		zap.String("treasury", req.Treasury.String()),
		zap.Uint64("lamports", req.Amount),
		zap.String("sol", model.LamportsToSOL(req.Amount).String()),
		zap.Uint64("sequence", receipt.Sequence))

	return &OperationResult{Receipt: receipt, Treasury: view}, nil
}

// Distribute moves lamports out of a treasury vault. Only the authority
// stored in the treasury record may distribute, and the vault is signed for
// with the record's own authority and bump.
func (s *TreasuryService) Distribute(ctx context.Context, req *DistributeRequest) (*OperationResult, error) {
	var view *TreasuryView

	receipt, err := s.execute(ctx, InstructionDistribute, req.Signers, func(tx *ledger.Tx) error {
		if !tx.IsSigner(req.Authority) {
			return errors.MissingSignature(req.Authority.String())
		}

		record, err := s.loadRecord(tx, req.Treasury)
		if err != nil {
			return err
		}

		if !req.Authority.Equals(record.Authority) {
			s.logger.Warn("Distribution by non-authority rejected",
				zap.String("caller", req.Authority.String()),
				zap.String("authority", record.Authority.String()),
				zap.String("treasury", req.Treasury.String()))
			return errors.Unauthorized(req.Authority.String(), record.Authority.String())
		}

		if err := s.transfers.TransferFromVault(tx, req.Treasury, req.Recipient,
			record.Authority, record.Bump, req.Amount); err != nil {
			return err
		}

		tx.Log("Distributed %d lamports (%s SOL) from treasury %s to %s",
			req.Amount, model.LamportsToSOL(req.Amount), req.Treasury, req.Recipient)

		view, err = s.txView(tx, req.Treasury, record)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Distribution committed",
		zap.String("treasury", req.Treasury.String()),
		zap.String("recipient", req.Recipient.String()),
		zap.Uint64("lamports", req.Amount),
		zap.String("sol", model.LamportsToSOL(req.Amount).String()),
		zap.Uint64("sequence", receipt.Sequence))

	return &OperationResult{Receipt: receipt, Treasury: view}, nil
}

// TransferDirect moves lamports between two accounts with the sender's
// signature. It predates treasuries and touches no program state.
func (s *TreasuryService) TransferDirect(ctx context.Context, req *TransferRequest) (*OperationResult, error) {
	receipt, err := s.execute(ctx, InstructionTransfer, req.Signers, func(tx *ledger.Tx) error {
		if !tx.IsSigner(req.Sender) {
			return errors.MissingSignature(req.Sender.String())
		}

		if err := s.transfers.Transfer(tx, req.Sender, req.Recipient, req.Amount); err != nil {
			return err
		}

		tx.Log("Transferred %d lamports (%s SOL) from %s to %s",
			req.Amount, model.LamportsToSOL(req.Amount), req.Sender, req.Recipient)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Transfer committed",
		zap.String("sender", req.Sender.String()),
		zap.String("recipient", req.Recipient.String()),
		zap.Uint64("lamports", req.Amount),
		zap.String("sol", model.LamportsToSOL(req.Amount).String()),
		zap.Uint64("sequence", receipt.Sequence))

	return &OperationResult{Receipt: receipt}, nil
}

// GetTreasury reads the treasury at address
func (s *TreasuryService) GetTreasury(ctx context.Context, address solana.PublicKey) (*TreasuryView, error) {
	acct, err := s.ledger.Account(ctx, address)
	if err != nil {
		return nil, err
	}

	record, err := s.decodeRecord(acct)
	if err != nil {
		return nil, err
	}

	return &TreasuryView{
		Address:     address,
		Authority:   record.Authority,
		Bump:        record.Bump,
		Lamports:    acct.Lamports,
		Initialized: true,
	}, nil
}

// FindTreasury derives the treasury of authority and reads it if it exists
func (s *TreasuryService) FindTreasury(ctx context.Context, authority solana.PublicKey) (*TreasuryView, error) {
	vault, bump, err := s.deriver.TreasuryVault(authority)
	if err != nil {
		return nil, err
	}

	acct, err := s.ledger.Account(ctx, vault)
	if err != nil {
		return nil, err
	}

	view := &TreasuryView{
		Address:   vault,
		Authority: authority,
		Bump:      bump,
		Lamports:  acct.Lamports,
	}
	if !acct.IsAllocated() {
		return view, nil
	}

	if _, err := s.decodeRecord(acct); err != nil {
		return nil, err
	}
	view.Initialized = true
	return view, nil
}

// Balance returns the committed account at address
func (s *TreasuryService) Balance(ctx context.Context, address solana.PublicKey) (*model.Account, error) {
	return s.ledger.Account(ctx, address)
}

// CountTreasuries counts valid treasury records and refreshes the gauge
func (s *TreasuryService) CountTreasuries(ctx context.Context) (int, error) {
	accounts, err := s.ledger.Accounts(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, acct := range accounts {
		if !acct.OwnedBy(s.deriver.ProgramID()) {
			continue
		}
		if _, err := s.decodeRecord(acct); err == nil {
			count++
		}
	}
	s.metrics.SetTreasuries(count)
	return count, nil
}

// execute runs fn in a ledger transaction and records instruction metrics
func (s *TreasuryService) execute(
	ctx context.Context,
	instruction string,
	signers []solana.PublicKey,
	fn func(tx *ledger.Tx) error,
) (*ledger.Receipt, error) {
	start := time.Now()

	receipt, err := s.ledger.Execute(ctx, instruction, signers, fn)
	duration := time.Since(start).Seconds()

	if err != nil {
		code := errors.GetCode(err)
		s.metrics.RecordInstruction(instruction, metrics.OutcomeFailure, duration)
		s.metrics.RecordInstructionError(instruction, code.String())
		s.logger.Debug("Instruction failed",
			zap.String("instruction", instruction),
			zap.String("code", code.String()),
			zap.Error(err))
		return nil, err
	}

	s.metrics.RecordInstruction(instruction, metrics.OutcomeSuccess, duration)
	s.metrics.RecordLamportsMoved(instruction, receipt.Lamports)
	for _, line := range receipt.Logs {
		s.logger.Info("Program log", zap.String("instruction", instruction), zap.String("log", line))
	}
	return receipt, nil
}

// loadRecord reads and validates the treasury record inside tx
func (s *TreasuryService) loadRecord(tx *ledger.Tx, treasury solana.PublicKey) (*model.TreasuryRecord, error) {
	acct, err := tx.Account(treasury)
	if err != nil {
		return nil, err
	}
	return s.decodeRecord(acct)
}

// decodeRecord checks that acct holds a treasury record of this program
// located at the record's own derived address
func (s *TreasuryService) decodeRecord(acct *model.Account) (*model.TreasuryRecord, error) {
	address := acct.Address.String()

	if !acct.IsAllocated() {
		return nil, errors.AccountNotFound(address)
	}
	if !acct.OwnedBy(s.deriver.ProgramID()) {
		return nil, errors.InvalidAccountOwner(address, acct.Owner.String())
	}

	record, err := model.UnmarshalTreasuryRecord(acct.Data)
	if err != nil {
		return nil, errors.InvalidAccountData(address, err)
	}

	if !s.deriver.Verify(derivation.TreasurySeed, record.Authority, record.Bump, acct.Address) {
		s.metrics.RecordDerivationMismatch()
		s.logger.Error("Treasury record is not at its derived address",
			zap.String("treasury", address),
			zap.String("authority", record.Authority.String()),
			zap.Uint8("bump", record.Bump))
		derived, _ := s.deriver.Address(derivation.TreasurySeed, record.Authority, record.Bump)
		return nil, errors.DerivationMismatch(address, derived.String())
	}

	return record, nil
}

func (s *TreasuryService) txView(tx *ledger.Tx, treasury solana.PublicKey, record *model.TreasuryRecord) (*TreasuryView, error) {
	acct, err := tx.Account(treasury)
	if err != nil {
		return nil, err
	}
	return &TreasuryView{
		Address:     treasury,
		Authority:   record.Authority,
		Bump:        record.Bump,
		Lamports:    acct.Lamports,
		Initialized: true,
	}, nil
}
