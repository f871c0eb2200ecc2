package storage

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/rl1809/sales-ledger/internal/core/domain"
)

// GetProduct locks the product row for the rest of the unit.
func (u *mysqlUnit) GetProduct(ctx context.Context, id domain.ProductID) (*domain.Product, error) {
	return getProduct(ctx, u.tx, id, true)
}

func (u *mysqlUnit) CurrentStock(ctx context.Context, id domain.ProductID) (int, error) {
	return currentStock(ctx, u.tx, id, true)
}

// LockProducts takes every row lock up front in primary key order, so two
// units touching the same products cannot wait on each other.
func (u *mysqlUnit) LockProducts(ctx context.Context, ids []domain.ProductID) error {
	if len(ids) == 0 {
		return nil
	}

	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	args := make([]any, len(sorted))
	for i, id := range sorted {
		args[i] = int64(id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(sorted)), ", ")

	rows, err := u.tx.QueryContext(ctx,
		`SELECT id FROM product WHERE id IN (`+placeholders+`) ORDER BY id FOR UPDATE`, args...)
	if err != nil {
		return fmt.Errorf("lock products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
	}
	return rows.Err()
}

func (u *mysqlUnit) Decrement(ctx context.Context, id domain.ProductID, qty int) (int, error) {
	// LAST_INSERT_ID(expr) hands the new stock back with the update result.
	result, err := u.tx.ExecContext(ctx, `
		UPDATE product
		SET current_stock = LAST_INSERT_ID(current_stock - ?), updated_at = ?
		WHERE id = ? AND current_stock >= ?`,
		qty, now(), int64(id), qty,
	)
	if err != nil {
		return 0, fmt.Errorf("update stock %d: %w", id, err)
	}

	rows, _ := result.RowsAffected()
	if rows == 1 {
		newStock, err := result.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("read stock %d: %w", id, err)
		}
		return int(newStock), nil
	}

	current, err := u.CurrentStock(ctx, id)
	if err != nil {
		return 0, err
	}
	if qty > current {
		return 0, domain.NewInsufficientStockError(id, "", qty, current)
	}
	return 0, ErrStockConflict
}
