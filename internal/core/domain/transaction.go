package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const TransactionDateLayout = "2006-01-02"

const (
	minTransactionYear = 1900
	maxTransactionYear = 2100
)

type TransactionHeader struct {
	ID              string
	TransactionDate time.Time
	TotalPrice      decimal.Decimal
	CreatedAt       time.Time
}

// TransactionLine references its header and product by id only.
type TransactionLine struct {
	ID        string
	HeaderID  string
	ProductID ProductID
	Quantity  int
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
	CreatedAt time.Time
}

// NewTransactionLine snapshots unitPrice and computes the line total.
func NewTransactionLine(id, headerID string, productID ProductID, quantity int, unitPrice decimal.Decimal) (TransactionLine, error) {
	if quantity < 1 {
		return TransactionLine{}, fmt.Errorf("line quantity must be at least 1, got %d", quantity)
	}
	return TransactionLine{
		ID:        id,
		HeaderID:  headerID,
		ProductID: productID,
		Quantity:  quantity,
		UnitPrice: unitPrice,
		LineTotal: unitPrice.Mul(decimal.NewFromInt(int64(quantity))),
	}, nil
}

// SumLineTotals adds line totals without rounding.
func SumLineTotals(lines []TransactionLine) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.LineTotal)
	}
	return total
}

// ParseTransactionDate accepts only yyyy-MM-dd calendar dates between 1900 and 2100.
func ParseTransactionDate(value string) (time.Time, error) {
	date, err := time.Parse(TransactionDateLayout, value)
	if err != nil {
		return time.Time{}, NewInvalidDateError(value, err)
	}
	if date.Year() < minTransactionYear || date.Year() > maxTransactionYear {
		return time.Time{}, NewInvalidDateError(value,
			fmt.Errorf("year %d outside %d-%d", date.Year(), minTransactionYear, maxTransactionYear))
	}
	return date, nil
}
