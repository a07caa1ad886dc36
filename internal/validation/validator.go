package validation

import (
	"fmt"
	"strings"

	"github.com/devrev/treasury/internal/errors"
	"github.com/gagliardetto/solana-go"
)

const (
	// MaxAddressLength is the longest base58 form of a 32-byte key
	MaxAddressLength = 44

	// MaxSignatureLength is the longest base58 form of a 64-byte signature
	MaxSignatureLength = 88
)

// Validator validates request fields before they reach the ledger
type Validator struct {
	maxAmount uint64
}

// NewValidator creates a validator without an amount cap
func NewValidator() *Validator {
	return &Validator{maxAmount: ^uint64(0)}
}

// NewValidatorWithLimits creates a validator that rejects amounts above maxAmount
func NewValidatorWithLimits(maxAmount uint64) *Validator {
	return &Validator{maxAmount: maxAmount}
}

// ParseAddress decodes a base58 account address
func (v *Validator) ParseAddress(field, value string) (solana.PublicKey, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return solana.PublicKey{}, errors.InvalidArgument(fmt.Sprintf("%s is required", field), nil).
			WithDetail("field", field)
	}
	if len(value) > MaxAddressLength {
		return solana.PublicKey{}, errors.InvalidArgument(
			fmt.Sprintf("%s exceeds %d characters", field, MaxAddressLength), nil).
			WithDetail("field", field)
	}

	key, err := solana.PublicKeyFromBase58(value)
	if err != nil {
		return solana.PublicKey{}, errors.InvalidArgument(fmt.Sprintf("%s is not a valid address", field), err).
			WithDetail("field", field)
	}
	return key, nil
}

// ValidateAmount checks a lamport amount. Zero is allowed and moves nothing.
func (v *Validator) ValidateAmount(amount uint64) error {
	if amount > v.maxAmount {
		return errors.InvalidArgument(fmt.Sprintf("amount %d exceeds limit %d", amount, v.maxAmount), nil).
			WithDetail("field", "amount")
	}
	return nil
}

// ValidateSignature checks the shape of a request signature and timestamp.
// Cryptographic verification happens in the auth package.
func (v *Validator) ValidateSignature(signature string, timestamp int64) error {
	if signature == "" {
		return errors.MissingSignature("request").WithDetail("reason", "signature is required")
	}
	if len(signature) > MaxSignatureLength {
		return errors.InvalidArgument(
			fmt.Sprintf("signature exceeds %d characters", MaxSignatureLength), nil).
			WithDetail("field", "signature")
	}
	if timestamp <= 0 {
		return errors.InvalidArgument("timestamp must be a positive unix time", nil).
			WithDetail("field", "timestamp")
	}
	return nil
}
