package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type ErrorCode string

const (
	CodeProductNotFound       ErrorCode = "PRD001"
	CodeInsufficientStock     ErrorCode = "PRD002"
	CodeTransactionProcessing ErrorCode = "TXN001"
	CodeInvalidDate           ErrorCode = "TXN002"
	CodeInvalidData           ErrorCode = "TXN003"
	CodeEmptyItems            ErrorCode = "TXN004"
	CodeDuplicateEvent        ErrorCode = "TXN005"
	CodeValidation            ErrorCode = "VAL001"
	CodeInvalidQuantity       ErrorCode = "VAL002"
	CodeMessageParsing        ErrorCode = "KFK001"
	CodeConsumer              ErrorCode = "KFK002"
	CodeStorageFailure        ErrorCode = "DB001"
)

var defaultMessages = map[ErrorCode]string{
	CodeProductNotFound:       "Product not found",
	CodeInsufficientStock:     "Insufficient stock",
	CodeTransactionProcessing: "Transaction processing failed",
	CodeInvalidDate:           "Invalid transaction date format",
	CodeInvalidData:           "Invalid transaction data",
	CodeEmptyItems:            "Transaction items cannot be empty",
	CodeDuplicateEvent:        "Event already processed",
	CodeValidation:            "Validation error",
	CodeInvalidQuantity:       "Invalid quantity",
	CodeMessageParsing:        "Failed to parse message",
	CodeConsumer:              "Consumer error",
	CodeStorageFailure:        "Database operation failed",
}

func (c ErrorCode) Message() string {
	if msg, ok := defaultMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// Retryable reports whether the whole event may be safely re-submitted.
func (c ErrorCode) Retryable() bool {
	return c == CodeStorageFailure
}

// Sentinels for errors.Is; matching is by code only.
var (
	ErrProductNotFound   = &BusinessError{Code: CodeProductNotFound}
	ErrInsufficientStock = &BusinessError{Code: CodeInsufficientStock}
	ErrInvalidDate       = &BusinessError{Code: CodeInvalidDate}
	ErrEmptyItems        = &BusinessError{Code: CodeEmptyItems}
	ErrDuplicateEvent    = &BusinessError{Code: CodeDuplicateEvent}
	ErrInvalidQuantity   = &BusinessError{Code: CodeInvalidQuantity}
	ErrStorageFailure    = &BusinessError{Code: CodeStorageFailure}
)

// BusinessError is the single failure type returned across the core boundary.
type BusinessError struct {
	Code    ErrorCode
	Message string
	Details map[string]any
	Err     error
}

func NewBusinessError(code ErrorCode, message string) *BusinessError {
	if message == "" {
		message = code.Message()
	}
	return &BusinessError{Code: code, Message: message, Details: map[string]any{}}
}

func (e *BusinessError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code.Message()
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func (e *BusinessError) Is(target error) bool {
	t, ok := target.(*BusinessError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func (e *BusinessError) WithDetail(key string, value any) *BusinessError {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

func (e *BusinessError) WithCause(err error) *BusinessError {
	e.Err = err
	return e
}

func (e *BusinessError) Retryable() bool {
	return e.Code.Retryable()
}

// DetailedMessage renders "message - Details: {k=v, ...}" with keys sorted.
func (e *BusinessError) DetailedMessage() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code.Message()
	}
	if len(e.Details) == 0 {
		return msg
	}

	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, e.Details[k]))
	}
	return msg + " - Details: {" + strings.Join(parts, ", ") + "}"
}

// AsBusinessError unwraps err into a BusinessError when it carries one.
func AsBusinessError(err error) (*BusinessError, bool) {
	var be *BusinessError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

func NewProductNotFoundError(id ProductID) *BusinessError {
	return NewBusinessError(CodeProductNotFound, fmt.Sprintf("Product not found with ID: %d", id)).
		WithDetail("productId", int64(id))
}

func NewInsufficientStockError(id ProductID, name string, required, available int) *BusinessError {
	err := NewBusinessError(CodeInsufficientStock,
		fmt.Sprintf("Insufficient stock for product ID %d. Required: %d, Available: %d", id, required, available)).
		WithDetail("productId", int64(id)).
		WithDetail("requiredQty", required).
		WithDetail("availableStock", available)
	if name != "" {
		err.WithDetail("productName", name)
	}
	return err
}

func NewInvalidDateError(value string, cause error) *BusinessError {
	return NewBusinessError(CodeInvalidDate,
		fmt.Sprintf("Invalid date format: %s. Expected format: yyyy-MM-dd", value)).
		WithDetail("providedDate", value).
		WithDetail("expectedFormat", "yyyy-MM-dd").
		WithCause(cause)
}

func NewEmptyItemsError() *BusinessError {
	return NewBusinessError(CodeEmptyItems, "")
}

func NewDuplicateEventError(key string) *BusinessError {
	return NewBusinessError(CodeDuplicateEvent, "").WithDetail("idempotencyKey", key)
}

func NewInvalidQuantityError(id ProductID, quantity int) *BusinessError {
	return NewBusinessError(CodeInvalidQuantity,
		fmt.Sprintf("Quantity must be greater than 0 for product ID %d", id)).
		WithDetail("productId", int64(id)).
		WithDetail("qty", quantity)
}

func NewStorageFailureError(cause error) *BusinessError {
	msg := CodeStorageFailure.Message()
	if cause != nil {
		msg = msg + ": " + cause.Error()
	}
	return NewBusinessError(CodeStorageFailure, msg).WithCause(cause)
}
