package handler

import (
	"context"
	"net/http"

	"github.com/rl1809/sales-ledger/internal/core/domain"
	"github.com/rl1809/sales-ledger/internal/platform/metrics"
)

type TransactionProcessor interface {
	ProcessTransaction(ctx context.Context, req domain.SaleRequest) (*domain.TransactionHeader, error)
}

// classify maps a processing error to a metrics outcome and code label.
func classify(err error) (outcome string, code string) {
	if err == nil {
		return metrics.OutcomeCommitted, ""
	}
	be, ok := domain.AsBusinessError(err)
	if !ok {
		return metrics.OutcomeFailed, string(domain.CodeStorageFailure)
	}
	if be.Retryable() {
		return metrics.OutcomeFailed, string(be.Code)
	}
	if be.Code == domain.CodeDuplicateEvent {
		return metrics.OutcomeDuplicate, string(be.Code)
	}
	return metrics.OutcomeRejected, string(be.Code)
}

func httpStatus(code domain.ErrorCode) int {
	switch code {
	case domain.CodeProductNotFound:
		return http.StatusNotFound
	case domain.CodeInsufficientStock, domain.CodeInvalidQuantity,
		domain.CodeInvalidDate, domain.CodeInvalidData,
		domain.CodeEmptyItems, domain.CodeValidation:
		return http.StatusBadRequest
	case domain.CodeDuplicateEvent:
		return http.StatusConflict
	case domain.CodeMessageParsing, domain.CodeConsumer:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
