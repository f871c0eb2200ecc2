package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rl1809/sales-ledger/internal/core/domain"
	"github.com/rl1809/sales-ledger/internal/port"
)

var ErrStockConflict = errors.New("stock changed during decrement")

const productColumns = `id, COALESCE(sku, ''), COALESCE(product_name, ''), price, current_stock, created_at, updated_at`

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type MySQLAdapter struct {
	db *sql.DB
}

var (
	_ port.UnitOfWork       = (*MySQLAdapter)(nil)
	_ port.TransactionQuery = (*MySQLAdapter)(nil)
	_ port.Unit             = (*mysqlUnit)(nil)
)

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// Begin opens a unit backed by a single *sql.Tx. Product reads inside the
// unit take row locks that are held until Commit or Rollback.
func (m *MySQLAdapter) Begin(ctx context.Context) (port.Unit, error) {
	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &mysqlUnit{tx: tx}, nil
}

func (m *MySQLAdapter) GetProduct(ctx context.Context, id domain.ProductID) (*domain.Product, error) {
	return getProduct(ctx, m.db, id, false)
}

func (m *MySQLAdapter) CurrentStock(ctx context.Context, id domain.ProductID) (int, error) {
	return currentStock(ctx, m.db, id, false)
}

func (m *MySQLAdapter) GetHeader(ctx context.Context, id string) (*domain.TransactionHeader, error) {
	var h domain.TransactionHeader
	err := m.db.QueryRowContext(ctx, `
		SELECT id, transaction_date, total_price, created_at
		FROM transaction_history WHERE id = ?`, id,
	).Scan(&h.ID, &h.TransactionDate, &h.TotalPrice, &h.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query transaction: %w", err)
	}
	return &h, nil
}

func (m *MySQLAdapter) ListLines(ctx context.Context, headerID string) ([]domain.TransactionLine, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, transaction_id, product_id, qty, price, total_price, created_at
		FROM transaction_detail WHERE transaction_id = ?
		ORDER BY created_at, id`, headerID)
	if err != nil {
		return nil, fmt.Errorf("query transaction lines: %w", err)
	}
	defer rows.Close()

	var lines []domain.TransactionLine
	for rows.Next() {
		var l domain.TransactionLine
		if err := rows.Scan(&l.ID, &l.HeaderID, &l.ProductID, &l.Quantity, &l.UnitPrice, &l.LineTotal, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction line: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction lines: %w", err)
	}
	return lines, nil
}

type mysqlUnit struct {
	tx *sql.Tx
}

func (u *mysqlUnit) Commit() error {
	if err := u.tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (u *mysqlUnit) Rollback() error {
	err := u.tx.Rollback()
	if err == nil || errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return fmt.Errorf("rollback tx: %w", err)
}

func getProduct(ctx context.Context, q queryer, id domain.ProductID, forUpdate bool) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM product WHERE id = ?`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var p domain.Product
	err := q.QueryRowContext(ctx, query, int64(id)).
		Scan(&p.ID, &p.SKU, &p.Name, &p.Price, &p.CurrentStock, &p.CreatedAt, &p.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query product %d: %w", id, err)
	}
	return &p, nil
}

func currentStock(ctx context.Context, q queryer, id domain.ProductID, forUpdate bool) (int, error) {
	query := `SELECT current_stock FROM product WHERE id = ?`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var stock int
	err := q.QueryRowContext(ctx, query, int64(id)).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.NewProductNotFoundError(id)
	}
	if err != nil {
		return 0, fmt.Errorf("query stock %d: %w", id, err)
	}
	return stock, nil
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
