package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	alertdomain "github.com/playgroundx/settlement/internal/alert/domain"
	apikeydomain "github.com/playgroundx/settlement/internal/apikey/domain"
	auditdomain "github.com/playgroundx/settlement/internal/audit/domain"
	"github.com/playgroundx/settlement/internal/authorization"
	bankreviewdomain "github.com/playgroundx/settlement/internal/bankreview/domain"
	feedomain "github.com/playgroundx/settlement/internal/fee/domain"
	idemdomain "github.com/playgroundx/settlement/internal/idempotency/domain"
	ingressdomain "github.com/playgroundx/settlement/internal/ingress/domain"
	ledgerdomain "github.com/playgroundx/settlement/internal/ledger/domain"
	paymentdomain "github.com/playgroundx/settlement/internal/payment/domain"
	paymentproviderdomain "github.com/playgroundx/settlement/internal/paymentprovider/domain"
	payoutdomain "github.com/playgroundx/settlement/internal/payout/domain"
	refunddomain "github.com/playgroundx/settlement/internal/refund/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

// errorClass is one row of the taxonomy. The first row whose sentinel matches wins.
type errorClass struct {
	status  int
	kind    string
	message string
	errs    []error
}

var errorClasses = []errorClass{
	{http.StatusUnauthorized, "unauthorized", "unauthorized", []error{
		ErrUnauthorized,
		apikeydomain.ErrUnauthorized,
		authorization.ErrInvalidActor,
		paymentdomain.ErrInvalidSignature,
	}},
	{http.StatusForbidden, "forbidden", "forbidden", []error{
		ErrForbidden,
		authorization.ErrForbidden,
		authorization.ErrInvalidRole,
	}},
	{http.StatusTooManyRequests, "rate_limited", "too many requests", []error{
		ingressdomain.ErrRateLimited,
	}},
	{http.StatusBadRequest, "validation_error", "validation error", []error{
		ErrInvalidRequest,
		ingressdomain.ErrInvalidSource,
		ingressdomain.ErrInvalidIdempotencyKey,
		ingressdomain.ErrInvalidType,
		ingressdomain.ErrInvalidAmount,
		ingressdomain.ErrInvalidEventID,
		idemdomain.ErrInvalidKey,
		feedomain.ErrInvalidTier,
		feedomain.ErrInvalidAmount,
		feedomain.ErrPriceMismatch,
		feedomain.ErrInvalidAttendance,
		feedomain.ErrPrizePoolDisabled,
		ledgerdomain.ErrInvalidSource,
		ledgerdomain.ErrInvalidEventType,
		ledgerdomain.ErrInvalidCurrency,
		ledgerdomain.ErrInvalidFundingSource,
		ledgerdomain.ErrMissingFan,
		ledgerdomain.ErrUnexpectedCreator,
		ledgerdomain.ErrInvalidReference,
		ledgerdomain.ErrInvalidAccount,
		ledgerdomain.ErrInvalidPageToken,
		refunddomain.ErrInvalidEvent,
		refunddomain.ErrInvalidDecision,
		refunddomain.ErrInvalidExternalRef,
		refunddomain.ErrInvalidPageToken,
		payoutdomain.ErrInvalidCreator,
		payoutdomain.ErrInvalidPageToken,
		bankreviewdomain.ErrInvalidUser,
		bankreviewdomain.ErrInvalidAmount,
		bankreviewdomain.ErrInvalidCurrency,
		bankreviewdomain.ErrInvalidPaymentFor,
		bankreviewdomain.ErrInvalidReceipt,
		bankreviewdomain.ErrInvalidDecision,
		bankreviewdomain.ErrNotesRequired,
		bankreviewdomain.ErrInvalidPageToken,
		auditdomain.ErrInvalidPageToken,
		auditdomain.ErrInvalidTimeRange,
		auditdomain.ErrInvalidAction,
		alertdomain.ErrInvalidKind,
		apikeydomain.ErrInvalidName,
		apikeydomain.ErrInvalidSource,
		apikeydomain.ErrInvalidScope,
		apikeydomain.ErrInvalidKeyID,
		paymentproviderdomain.ErrInvalidProvider,
		paymentproviderdomain.ErrInvalidConfig,
		paymentdomain.ErrInvalidProvider,
		paymentdomain.ErrInvalidConfig,
		paymentdomain.ErrInvalidPayload,
		paymentdomain.ErrInvalidEvent,
	}},
	{http.StatusNotFound, "not_found", "not found", []error{
		ErrNotFound,
		gorm.ErrRecordNotFound,
		ledgerdomain.ErrNotFound,
		refunddomain.ErrNotFound,
		payoutdomain.ErrNotFound,
		bankreviewdomain.ErrNotFound,
		feedomain.ErrNotFound,
		idemdomain.ErrNotFound,
		alertdomain.ErrNotFound,
		apikeydomain.ErrNotFound,
		paymentproviderdomain.ErrNotFound,
		paymentdomain.ErrProviderNotFound,
		paymentdomain.ErrUnknownCharge,
	}},
	{http.StatusConflict, "conflict", "conflict", []error{
		ErrConflict,
		idemdomain.ErrIdempotencyConflict,
		ledgerdomain.ErrNotReversible,
		ledgerdomain.ErrAlreadyReversed,
		ledgerdomain.ErrBatchInFlight,
		ledgerdomain.ErrFundsPaidOut,
		ledgerdomain.ErrConcurrentUpdate,
		ledgerdomain.ErrWalletInsufficient,
		refunddomain.ErrAlreadyDecided,
		refunddomain.ErrEventReversed,
		refunddomain.ErrClawbackRequired,
		payoutdomain.ErrInvalidTransition,
		payoutdomain.ErrNotFailed,
		payoutdomain.ErrAlreadyRetried,
		payoutdomain.ErrClaimConflict,
		payoutdomain.ErrConcurrentUpdate,
		bankreviewdomain.ErrAlreadyReviewed,
		feedomain.ErrSnapshotConflict,
		paymentproviderdomain.ErrInactive,
	}},
	{http.StatusServiceUnavailable, "service_unavailable", "service unavailable", []error{
		ErrServiceUnavailable,
		paymentproviderdomain.ErrEncryptionKeyMissing,
	}},
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		if status == http.StatusTooManyRequests {
			c.Header("Retry-After", "1")
		}
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	class, sentinel, ok := classify(err)
	if !ok {
		// InsufficientFunds lands here too: an integrity fault, already alerted by the ledger.
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	payload := errorPayload{
		Type:    class.kind,
		Code:    sentinel.Error(),
		Message: class.message,
	}
	if class.status == http.StatusBadRequest {
		payload.Errors = []ValidationError{{
			Field:   validationErrorField(sentinel.Error()),
			Code:    sentinel.Error(),
			Message: validationErrorMessage(sentinel.Error()),
		}}
	}
	return class.status, payload
}

func classify(err error) (errorClass, error, bool) {
	if err == nil {
		return errorClass{}, nil, false
	}
	for _, class := range errorClasses {
		for _, sentinel := range class.errs {
			if errors.Is(err, sentinel) {
				return class, sentinel, true
			}
		}
	}
	return errorClass{}, nil, false
}

// classifyErrorForLog returns the error type and code for the access log.
func classifyErrorForLog(err error) (string, string) {
	if asValidationErrors(err) != nil {
		return "validation_error", "invalid_request"
	}
	class, sentinel, ok := classify(err)
	if !ok {
		if errors.Is(err, ledgerdomain.ErrInsufficientFunds) {
			return "integrity_fault", ledgerdomain.ErrInsufficientFunds.Error()
		}
		return "internal_error", ""
	}
	return class.kind, sentinel.Error()
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func validationErrorField(code string) string {
	switch {
	case code == "invalid_request":
		return "request"
	case strings.HasPrefix(code, "invalid_"):
		return strings.TrimPrefix(code, "invalid_")
	case strings.HasSuffix(code, "_required"):
		return strings.TrimSuffix(code, "_required")
	default:
		return ""
	}
}

func validationErrorMessage(code string) string {
	switch {
	case code == "invalid_request":
		return "invalid request"
	case strings.HasSuffix(code, "_required"):
		return "value is required"
	default:
		return "invalid value"
	}
}
