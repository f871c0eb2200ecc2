package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rl1809/sales-ledger/internal/core/domain"
)

const rawPreviewLimit = 100

// ErrNotJSON marks payloads that are not a JSON object or array at all.
var ErrNotJSON = errors.New("payload is not JSON")

type SalesTransactionEvent struct {
	TransactionDate TransactionDate        `json:"transaction_date"`
	Items           []SalesTransactionItem `json:"items"`
}

type SalesTransactionItem struct {
	ProductID *int64 `json:"product_id"`
	Qty       *int   `json:"qty"`
}

func (i *SalesTransactionItem) UnmarshalJSON(data []byte) error {
	var raw struct {
		ProductID      *int64 `json:"product_id"`
		ProductIDCamel *int64 `json:"productId"`
		Qty            *int   `json:"qty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	i.ProductID = raw.ProductID
	if i.ProductID == nil {
		i.ProductID = raw.ProductIDCamel
	}
	i.Qty = raw.Qty
	return nil
}

// TransactionDate accepts either "yyyy-MM-dd" or [year, month, day]. String
// values are kept verbatim; the core decides whether they are valid.
type TransactionDate struct {
	Value string
	Set   bool
}

func (d *TransactionDate) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*d = TransactionDate{}
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*d = TransactionDate{Value: s, Set: true}
		return nil
	case '[':
		var parts []int
		if err := json.Unmarshal(data, &parts); err != nil {
			return fmt.Errorf("invalid date array format: %w", err)
		}
		value, err := dateFromParts(parts)
		if err != nil {
			return err
		}
		*d = TransactionDate{Value: value, Set: true}
		return nil
	default:
		return errors.New("invalid date format, expected array [year, month, day] or string 'yyyy-MM-dd'")
	}
}

func (d TransactionDate) MarshalJSON() ([]byte, error) {
	if !d.Set {
		return []byte("null"), nil
	}
	return json.Marshal(d.Value)
}

func dateFromParts(parts []int) (string, error) {
	if len(parts) != 3 {
		return "", errors.New("invalid date array format, expected [year, month, day]")
	}
	year, month, day := parts[0], parts[1], parts[2]
	if year < 1900 || year > 2100 {
		return "", fmt.Errorf("invalid year: %d", year)
	}
	if month < 1 || month > 12 {
		return "", fmt.Errorf("invalid month: %d", month)
	}
	if day < 1 || day > 31 {
		return "", fmt.Errorf("invalid day: %d", day)
	}

	date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if date.Day() != day {
		return "", fmt.Errorf("invalid date: %04d-%02d-%02d", year, month, day)
	}
	return date.Format(domain.TransactionDateLayout), nil
}

// DecodeSalesTransaction turns a raw payload into a core request. It returns
// ErrNotJSON for non-structured payloads, KFK001 for undecodable JSON and
// VAL001 for missing or out-of-range fields.
func DecodeSalesTransaction(payload []byte) (domain.SaleRequest, error) {
	if !looksLikeJSON(payload) {
		return domain.SaleRequest{}, ErrNotJSON
	}

	var event SalesTransactionEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return domain.SaleRequest{}, parseFailure(payload, err)
	}

	return event.SaleRequest()
}

func parseFailure(payload []byte, err error) *domain.BusinessError {
	msg := err.Error()
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return domain.NewBusinessError(domain.CodeMessageParsing, "Invalid JSON format: "+msg).
		WithDetail("rawMessage", preview(payload)).
		WithCause(err)
}

// SaleRequest applies field-level validation and converts to the core type.
func (e SalesTransactionEvent) SaleRequest() (domain.SaleRequest, error) {
	var problems []string
	if !e.TransactionDate.Set {
		problems = append(problems, "transaction_date: Transaction date cannot be null")
	}
	if e.Items == nil {
		problems = append(problems, "items: Items cannot be null")
	}

	items := make([]domain.SaleItem, 0, len(e.Items))
	for i, item := range e.Items {
		if item.ProductID == nil {
			problems = append(problems, fmt.Sprintf("items[%d].product_id: Product ID cannot be null", i))
		}
		if item.Qty == nil {
			problems = append(problems, fmt.Sprintf("items[%d].qty: Quantity cannot be null", i))
		} else if *item.Qty < 1 {
			problems = append(problems, fmt.Sprintf("items[%d].qty: Quantity must be greater than 0", i))
		}
		if item.ProductID != nil && item.Qty != nil {
			items = append(items, domain.SaleItem{ProductID: domain.ProductID(*item.ProductID), Quantity: *item.Qty})
		}
	}

	if len(problems) > 0 {
		return domain.SaleRequest{}, domain.NewBusinessError(domain.CodeValidation, "Validation failed").
			WithDetail("violations", strings.Join(problems, ", "))
	}

	return domain.SaleRequest{TransactionDate: e.TransactionDate.Value, Items: items}, nil
}

func looksLikeJSON(payload []byte) bool {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return false
	}
	first, last := trimmed[0], trimmed[len(trimmed)-1]
	return (first == '{' && last == '}') || (first == '[' && last == ']')
}

func preview(payload []byte) string {
	if len(payload) > rawPreviewLimit {
		return string(payload[:rawPreviewLimit]) + "..."
	}
	return string(payload)
}
