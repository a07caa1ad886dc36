package service

import (
	"github.com/devrev/treasury/internal/derivation"
	"github.com/devrev/treasury/internal/errors"
	"github.com/devrev/treasury/internal/ledger"
	"github.com/devrev/treasury/internal/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"go.uber.org/zap"
)

// TransferService moves lamports inside a ledger transaction. It is the only
// path by which a vault balance changes.
type TransferService struct {
	deriver *derivation.Deriver
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewTransferService creates a new transfer service
func NewTransferService(deriver *derivation.Deriver, m *metrics.Metrics, logger *zap.Logger) *TransferService {
	return &TransferService{
		deriver: deriver,
		metrics: m,
		logger:  logger,
	}
}

// Transfer moves amount from a signing account to any account
func (s *TransferService) Transfer(tx *ledger.Tx, from, to solana.PublicKey, amount uint64) error {
	return tx.Invoke(system.NewTransferInstruction(amount, from, to))
}

// TransferFromVault moves amount out of a vault. The program signs for the
// vault with (authority, bump); the pair must reproduce the vault address.
func (s *TransferService) TransferFromVault(
	tx *ledger.Tx,
	vault, to, authority solana.PublicKey,
	bump uint8,
	amount uint64,
) error {
	if !s.deriver.Verify(derivation.TreasurySeed, authority, bump, vault) {
		s.metrics.RecordDerivationMismatch()
		derived, _ := s.deriver.Address(derivation.TreasurySeed, authority, bump)
		s.logger.Error("Vault does not match its derivation",
			zap.String("vault", vault.String()),
			zap.String("derived", derived.String()),
			zap.String("authority", authority.String()),
			zap.Uint8("bump", bump))
		return errors.DerivationMismatch(vault.String(), derived.String())
	}

	seeds := derivation.Seeds(derivation.TreasurySeed, authority, bump)
	return tx.InvokeSigned(system.NewTransferInstruction(amount, vault, to), s.deriver.ProgramID(), seeds)
}
