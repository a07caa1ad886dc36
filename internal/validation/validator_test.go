package validation

import (
	"testing"

	"github.com/devrev/treasury/internal/errors"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_ParseAddress(t *testing.T) {
	v := NewValidator()
	key := solana.NewWallet().PublicKey()

	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"valid", key.String(), false},
		{"surrounding space", " " + key.String() + " ", false},
		{"empty", "", true},
		{"not base58", "0OIl0OIl", true},
		{"too short", "abc", true},
		{"too long", key.String() + key.String(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.ParseAddress("recipient", tt.value)
			if tt.wantErr {
				assert.Equal(t, errors.ErrCodeInvalidArgument, errors.GetCode(err))
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equals(key))
		})
	}
}

func TestValidator_ValidateAmount(t *testing.T) {
	assert.NoError(t, NewValidator().ValidateAmount(0))
	assert.NoError(t, NewValidator().ValidateAmount(^uint64(0)))

	limited := NewValidatorWithLimits(100)
	assert.NoError(t, limited.ValidateAmount(100))
	assert.Equal(t, errors.ErrCodeInvalidArgument, errors.GetCode(limited.ValidateAmount(101)))
}

func TestValidator_ValidateSignature(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateSignature("5sig", 1700000000))
	assert.Equal(t, errors.ErrCodeMissingSignature, errors.GetCode(v.ValidateSignature("", 1700000000)))
	assert.Equal(t, errors.ErrCodeInvalidArgument, errors.GetCode(v.ValidateSignature("5sig", 0)))
}
