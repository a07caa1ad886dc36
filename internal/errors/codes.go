package errors

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode represents internal error codes for treasury operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Authorization errors
	ErrCodeUnauthorized       ErrorCode = 1000
	ErrCodeMissingSignature   ErrorCode = 1001
	ErrCodeDerivationMismatch ErrorCode = 1002
	ErrCodeReplayedRequest    ErrorCode = 1003

	// Client errors
	ErrCodeInvalidArgument     ErrorCode = 1100
	ErrCodeAlreadyInitialized  ErrorCode = 1101
	ErrCodeInsufficientFunds   ErrorCode = 1102
	ErrCodeArithmeticOverflow  ErrorCode = 1103
	ErrCodeAccountNotFound     ErrorCode = 1104
	ErrCodeInvalidAccountData  ErrorCode = 1105
	ErrCodeInvalidAccountOwner ErrorCode = 1106

	// Server errors
	ErrCodeInternal            ErrorCode = 2000
	ErrCodeDerivationExhausted ErrorCode = 2001
	ErrCodeCommitLogFailed     ErrorCode = 2002
	ErrCodeStorageFailed       ErrorCode = 2003
	ErrCodeCorruptedData       ErrorCode = 2004
	ErrCodeDiskFull            ErrorCode = 2005
	ErrCodeReplayCacheFull     ErrorCode = 2006
)

var codeNames = map[ErrorCode]string{
	ErrCodeOK:                  "OK",
	ErrCodeUnauthorized:        "UNAUTHORIZED",
	ErrCodeMissingSignature:    "MISSING_SIGNATURE",
	ErrCodeDerivationMismatch:  "DERIVATION_MISMATCH",
	ErrCodeReplayedRequest:     "REPLAYED_REQUEST",
	ErrCodeInvalidArgument:     "INVALID_ARGUMENT",
	ErrCodeAlreadyInitialized:  "ALREADY_INITIALIZED",
	ErrCodeInsufficientFunds:   "INSUFFICIENT_FUNDS",
	ErrCodeArithmeticOverflow:  "ARITHMETIC_OVERFLOW",
	ErrCodeAccountNotFound:     "ACCOUNT_NOT_FOUND",
	ErrCodeInvalidAccountData:  "INVALID_ACCOUNT_DATA",
	ErrCodeInvalidAccountOwner: "INVALID_ACCOUNT_OWNER",
	ErrCodeInternal:            "INTERNAL_ERROR",
	ErrCodeDerivationExhausted: "DERIVATION_EXHAUSTED",
	ErrCodeCommitLogFailed:     "COMMIT_LOG_FAILED",
	ErrCodeStorageFailed:       "STORAGE_FAILED",
	ErrCodeCorruptedData:       "CORRUPTED_DATA",
	ErrCodeDiskFull:            "DISK_FULL",
	ErrCodeReplayCacheFull:     "REPLAY_CACHE_FULL",
}

// String returns the stable identifier used on the wire
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ERROR_%d", int(c))
}

// TreasuryError represents a structured error with code and context
type TreasuryError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *TreasuryError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *TreasuryError) Unwrap() error {
	return e.Cause
}

// Is matches another TreasuryError by code, so errors.Is(err, &TreasuryError{Code: X}) works.
func (e *TreasuryError) Is(target error) bool {
	t, ok := target.(*TreasuryError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// ToGRPCStatus converts TreasuryError to gRPC status
func (e *TreasuryError) ToGRPCStatus() *status.Status {
	return status.New(e.GRPCCode(), e.Error())
}

// GRPCCode maps internal error codes to gRPC codes
func (e *TreasuryError) GRPCCode() codes.Code {
	switch e.Code {
	case ErrCodeOK:
		return codes.OK
	case ErrCodeUnauthorized:
		return codes.PermissionDenied
	case ErrCodeMissingSignature:
		return codes.Unauthenticated
	case ErrCodeInvalidArgument:
		return codes.InvalidArgument
	case ErrCodeAlreadyInitialized, ErrCodeReplayedRequest:
		return codes.AlreadyExists
	case ErrCodeAccountNotFound:
		return codes.NotFound
	case ErrCodeInsufficientFunds, ErrCodeInvalidAccountData, ErrCodeInvalidAccountOwner:
		return codes.FailedPrecondition
	case ErrCodeArithmeticOverflow:
		return codes.OutOfRange
	case ErrCodeDerivationMismatch, ErrCodeCorruptedData:
		return codes.DataLoss
	case ErrCodeDiskFull, ErrCodeReplayCacheFull:
		return codes.ResourceExhausted
	default:
		return codes.Internal
	}
}

// HTTPStatus maps internal error codes to HTTP status codes
func (e *TreasuryError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeOK:
		return http.StatusOK
	case ErrCodeUnauthorized:
		return http.StatusForbidden
	case ErrCodeMissingSignature:
		return http.StatusUnauthorized
	case ErrCodeInvalidArgument:
		return http.StatusBadRequest
	case ErrCodeAccountNotFound:
		return http.StatusNotFound
	case ErrCodeAlreadyInitialized, ErrCodeReplayedRequest, ErrCodeDerivationMismatch:
		return http.StatusConflict
	case ErrCodeInsufficientFunds, ErrCodeArithmeticOverflow,
		ErrCodeInvalidAccountData, ErrCodeInvalidAccountOwner:
		return http.StatusUnprocessableEntity
	case ErrCodeDiskFull:
		return http.StatusInsufficientStorage
	case ErrCodeReplayCacheFull:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewTreasuryError creates a new TreasuryError
func NewTreasuryError(code ErrorCode, message string, cause error) *TreasuryError {
	return &TreasuryError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *TreasuryError) WithDetail(key string, value interface{}) *TreasuryError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func Unauthorized(caller, authority string) *TreasuryError {
	return NewTreasuryError(ErrCodeUnauthorized, fmt.Sprintf("signer %s is not the treasury authority", caller), nil).
		WithDetail("caller", caller).
		WithDetail("authority", authority)
}

func MissingSignature(account string) *TreasuryError {
	return NewTreasuryError(ErrCodeMissingSignature, fmt.Sprintf("missing required signature for %s", account), nil).
		WithDetail("account", account)
}

func DerivationMismatch(expected, actual string) *TreasuryError {
	return NewTreasuryError(ErrCodeDerivationMismatch, fmt.Sprintf("derived address %s does not match vault %s", actual, expected), nil).
		WithDetail("expected", expected).
		WithDetail("actual", actual)
}

func DerivationExhausted(authority string) *TreasuryError {
	return NewTreasuryError(ErrCodeDerivationExhausted, fmt.Sprintf("no canonical bump found for authority %s", authority), nil).
		WithDetail("authority", authority)
}

func ReplayedRequest(signature string) *TreasuryError {
	return NewTreasuryError(ErrCodeReplayedRequest, "request signature already used", nil).
		WithDetail("signature", signature)
}

func InvalidArgument(message string, cause error) *TreasuryError {
	return NewTreasuryError(ErrCodeInvalidArgument, message, cause)
}

func AlreadyInitialized(address string) *TreasuryError {
	return NewTreasuryError(ErrCodeAlreadyInitialized, fmt.Sprintf("account %s already initialized", address), nil).
		WithDetail("address", address)
}

func InsufficientFunds(address string, balance, amount uint64) *TreasuryError {
	return NewTreasuryError(ErrCodeInsufficientFunds,
		fmt.Sprintf("insufficient funds in %s: balance %d, requested %d", address, balance, amount), nil).
		WithDetail("address", address).
		WithDetail("balance", balance).
		WithDetail("amount", amount)
}

func ArithmeticOverflow(address string, balance, amount uint64) *TreasuryError {
	return NewTreasuryError(ErrCodeArithmeticOverflow,
		fmt.Sprintf("crediting %d lamports to %s overflows balance %d", amount, address, balance), nil).
		WithDetail("address", address).
		WithDetail("balance", balance).
		WithDetail("amount", amount)
}

func AccountNotFound(address string) *TreasuryError {
	return NewTreasuryError(ErrCodeAccountNotFound, fmt.Sprintf("account not found: %s", address), nil).
		WithDetail("address", address)
}

func InvalidAccountData(address string, cause error) *TreasuryError {
	return NewTreasuryError(ErrCodeInvalidAccountData, fmt.Sprintf("account %s is not a treasury record", address), cause).
		WithDetail("address", address)
}

func InvalidAccountOwner(address, owner string) *TreasuryError {
	return NewTreasuryError(ErrCodeInvalidAccountOwner, fmt.Sprintf("account %s is owned by %s", address, owner), nil).
		WithDetail("address", address).
		WithDetail("owner", owner)
}

func InternalError(message string, cause error) *TreasuryError {
	return NewTreasuryError(ErrCodeInternal, message, cause)
}

func CommitLogFailed(message string, cause error) *TreasuryError {
	return NewTreasuryError(ErrCodeCommitLogFailed, message, cause)
}

func StorageFailed(message string, cause error) *TreasuryError {
	return NewTreasuryError(ErrCodeStorageFailed, message, cause)
}

func CorruptedData(message string, cause error) *TreasuryError {
	return NewTreasuryError(ErrCodeCorruptedData, message, cause)
}

func DiskFull(usagePercent float64, availableBytes uint64) *TreasuryError {
	return NewTreasuryError(ErrCodeDiskFull, fmt.Sprintf("disk full: %.2f%% used, %d bytes available", usagePercent, availableBytes), nil).
		WithDetail("usage_percent", usagePercent).
		WithDetail("available_bytes", availableBytes)
}

func ReplayCacheFull(maxEntries int) *TreasuryError {
	return NewTreasuryError(ErrCodeReplayCacheFull,
		fmt.Sprintf("replay cache holds %d unexpired signatures, retry later", maxEntries), nil).
		WithDetail("max_entries", maxEntries)
}

// IsTreasuryError checks if an error is, or wraps, a TreasuryError
func IsTreasuryError(err error) bool {
	var te *TreasuryError
	return errors.As(err, &te)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var te *TreasuryError
	if errors.As(err, &te) {
		return te.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err carries the given code
func HasCode(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}
