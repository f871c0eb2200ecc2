package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/sales-ledger/internal/core/domain"
)

func (u *mysqlUnit) CreateHeader(ctx context.Context, date time.Time) (*domain.TransactionHeader, error) {
	header := &domain.TransactionHeader{
		ID:              uuid.NewString(),
		TransactionDate: date,
		TotalPrice:      decimal.Zero,
		CreatedAt:       now(),
	}

	_, err := u.tx.ExecContext(ctx, `
		INSERT INTO transaction_history (id, transaction_date, total_price, created_at)
		VALUES (?, ?, ?, ?)`,
		header.ID, date.Format(domain.TransactionDateLayout), header.TotalPrice, header.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}

	return header, nil
}

func (u *mysqlUnit) SetTotal(ctx context.Context, headerID string, total decimal.Decimal) error {
	result, err := u.tx.ExecContext(ctx, `
		UPDATE transaction_history SET total_price = ? WHERE id = ?`,
		total, headerID,
	)
	if err != nil {
		return fmt.Errorf("update transaction total: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 && !total.IsZero() {
		return fmt.Errorf("update transaction total: transaction %s not found", headerID)
	}

	return nil
}
