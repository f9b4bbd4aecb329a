package models

import "fmt"

const (
	BadRequestErrorCode     = 400
	UnauthorizedErrorCode   = 401
	ForbiddenErrorCode      = 403
	NotFoundErrorCode       = 404
	ConflictErrorCode       = 409
	GoneErrorCode           = 410
	InternalServerErrorCode = 500
	BadGatewayErrorCode     = 502
	ServiceUnavailableCode  = 503
)

type AppError struct {
	Code    int
	Message string
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

func NewAppError(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Validation
var (
	ErrInvalidPayer      = NewAppError(BadRequestErrorCode, "invalid payer address")
	ErrDurationTooShort  = NewAppError(BadRequestErrorCode, "duration is shorter than the minimum")
	ErrDurationTooLong   = NewAppError(BadRequestErrorCode, "duration is too long")
	ErrInvalidEmail      = NewAppError(BadRequestErrorCode, "invalid email")
	ErrInvalidAmount     = NewAppError(BadRequestErrorCode, "amount is not a positive safe integer")
	ErrInvalidCID        = NewAppError(BadRequestErrorCode, "invalid cid")
	ErrInvalidSize       = NewAppError(BadRequestErrorCode, "invalid size")
	ErrInvalidSignature  = NewAppError(BadRequestErrorCode, "invalid transaction hash")
	ErrMissingFields     = NewAppError(BadRequestErrorCode, "missing required fields")
	ErrNoFiles           = NewAppError(BadRequestErrorCode, "no files provided")
	ErrTooManyFiles      = NewAppError(BadRequestErrorCode, "too many files")
	ErrInvalidFileName   = NewAppError(BadRequestErrorCode, "invalid file name")
	ErrMetadataTampered  = NewAppError(BadRequestErrorCode, "deposit metadata does not match the sealed quote")
	ErrContentMismatch   = NewAppError(BadRequestErrorCode, "uploaded files do not match the paid cid")
	ErrWrongProgram      = NewAppError(BadRequestErrorCode, "transaction does not invoke the escrow program on the deposit account")
	ErrPaymentMismatch   = NewAppError(BadRequestErrorCode, "escrow instruction does not match the quoted terms")
	ErrTransactionFailed = NewAppError(BadRequestErrorCode, "transaction failed on-chain")
)

// Ownership and lifecycle
var (
	ErrNotOwner        = NewAppError(ForbiddenErrorCode, "public key does not own this deposit")
	ErrDepositNotFound = NewAppError(NotFoundErrorCode, "deposit not found")
	ErrAlertNotFound   = NewAppError(NotFoundErrorCode, "alert not found or already resolved")
	ErrNotConfirmed    = NewAppError(ConflictErrorCode, "deposit is not confirmed yet")
	ErrSignatureUsed   = NewAppError(ConflictErrorCode, "transaction already recorded for another action")
	ErrConfirmRace     = NewAppError(ConflictErrorCode, "deposit is being confirmed concurrently, please retry")
	ErrDepositDeleted  = NewAppError(GoneErrorCode, "deposit has been deleted")
)

// Upstream and integrity
var (
	ErrIntegrityMismatch  = NewAppError(InternalServerErrorCode, "stored content does not match the paid cid")
	ErrUpstream           = NewAppError(BadGatewayErrorCode, "upstream service error, please retry")
	ErrTransactionPending = NewAppError(ServiceUnavailableCode, "transaction is not confirmed yet, please retry")
)
