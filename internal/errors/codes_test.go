package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
)

func TestTreasuryError_Mappings(t *testing.T) {
	tests := []struct {
		name     string
		err      *TreasuryError
		code     ErrorCode
		grpcCode codes.Code
		httpCode int
	}{
		{"unauthorized", Unauthorized("a", "b"), ErrCodeUnauthorized, codes.PermissionDenied, http.StatusForbidden},
		{"missing signature", MissingSignature("a"), ErrCodeMissingSignature, codes.Unauthenticated, http.StatusUnauthorized},
		{"already initialized", AlreadyInitialized("a"), ErrCodeAlreadyInitialized, codes.AlreadyExists, http.StatusConflict},
		{"insufficient funds", InsufficientFunds("a", 1, 2), ErrCodeInsufficientFunds, codes.FailedPrecondition, http.StatusUnprocessableEntity},
		{"derivation mismatch", DerivationMismatch("a", "b"), ErrCodeDerivationMismatch, codes.DataLoss, http.StatusConflict},
		{"derivation exhausted", DerivationExhausted("a"), ErrCodeDerivationExhausted, codes.Internal, http.StatusInternalServerError},
		{"not found", AccountNotFound("a"), ErrCodeAccountNotFound, codes.NotFound, http.StatusNotFound},
		{"overflow", ArithmeticOverflow("a", 1, 2), ErrCodeArithmeticOverflow, codes.OutOfRange, http.StatusUnprocessableEntity},
		{"disk full", DiskFull(97.5, 10), ErrCodeDiskFull, codes.ResourceExhausted, http.StatusInsufficientStorage},
		{"replay cache full", ReplayCacheFull(10), ErrCodeReplayCacheFull, codes.ResourceExhausted, http.StatusServiceUnavailable},
		{"invalid argument", InvalidArgument("bad", nil), ErrCodeInvalidArgument, codes.InvalidArgument, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.grpcCode, tt.err.GRPCCode())
			assert.Equal(t, tt.grpcCode, tt.err.ToGRPCStatus().Code())
			assert.Equal(t, tt.httpCode, tt.err.HTTPStatus())
		})
	}
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrCodeOK, GetCode(nil))
	assert.Equal(t, ErrCodeInternal, GetCode(fmt.Errorf("plain")))

	wrapped := fmt.Errorf("handler: %w", InsufficientFunds("vault", 5, 10))
	assert.Equal(t, ErrCodeInsufficientFunds, GetCode(wrapped))
	assert.True(t, IsTreasuryError(wrapped))
	assert.True(t, HasCode(wrapped, ErrCodeInsufficientFunds))
	assert.False(t, HasCode(nil, ErrCodeOK))
}

func TestTreasuryError_IsAndUnwrap(t *testing.T) {
	cause := fmt.Errorf("disk gone")
	err := StorageFailed("apply failed", cause)

	assert.True(t, errors.Is(err, cause))
	assert.True(t, errors.Is(err, &TreasuryError{Code: ErrCodeStorageFailed}))
	assert.False(t, errors.Is(err, &TreasuryError{Code: ErrCodeInternal}))
	assert.Equal(t, "apply failed: disk gone", err.Error())
}

func TestErrorCode_String(t *testing.T) {
	assert.Equal(t, "UNAUTHORIZED", ErrCodeUnauthorized.String())
	assert.Equal(t, "DERIVATION_EXHAUSTED", ErrCodeDerivationExhausted.String())
	assert.Equal(t, "ERROR_42", ErrorCode(42).String())
}

func TestTreasuryError_Details(t *testing.T) {
	err := InsufficientFunds("vault", 5, 10)
	assert.Equal(t, "vault", err.Details["address"])
	assert.Equal(t, uint64(5), err.Details["balance"])
	assert.Equal(t, uint64(10), err.Details["amount"])
}
