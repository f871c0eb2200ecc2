package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/sales-ledger/internal/core/domain"
)

func (u *mysqlUnit) WriteLine(ctx context.Context, headerID string, productID domain.ProductID, qty int, unitPrice decimal.Decimal) (domain.TransactionLine, error) {
	line, err := domain.NewTransactionLine(uuid.NewString(), headerID, productID, qty, unitPrice)
	if err != nil {
		return domain.TransactionLine{}, err
	}
	line.CreatedAt = now()

	_, err = u.tx.ExecContext(ctx, `
		INSERT INTO transaction_detail (id, transaction_id, product_id, qty, price, total_price, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		line.ID, line.HeaderID, int64(line.ProductID), line.Quantity,
		line.UnitPrice, line.LineTotal, line.CreatedAt,
	)
	if err != nil {
		return domain.TransactionLine{}, fmt.Errorf("insert transaction line: %w", err)
	}

	return line, nil
}
