package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/rl1809/sales-ledger/internal/core/domain"
)

func (u *mysqlUnit) Record(ctx context.Context, productID domain.ProductID, change int, kind domain.MovementKind) (string, error) {
	id := uuid.NewString()

	_, err := u.tx.ExecContext(ctx, `
		INSERT INTO stock_log (id, product_id, quantity_change, log_type, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		id, int64(productID), change, string(kind), now(),
	)
	if err != nil {
		return "", fmt.Errorf("insert stock log: %w", err)
	}

	return id, nil
}
