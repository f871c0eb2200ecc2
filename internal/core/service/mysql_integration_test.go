package service_test

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/sales-ledger/internal/adapter/storage"
	"github.com/rl1809/sales-ledger/internal/core/domain"
	"github.com/rl1809/sales-ledger/internal/core/service"
)

func openMySQL(t *testing.T) *sql.DB {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/sales_ledger?parseTime=true"
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	require.NoError(t, storage.EnsureSchema(context.Background(), db))
	t.Cleanup(func() { db.Close() })
	return db
}

func seed(t *testing.T, db *sql.DB, sku, price string, stock int) domain.ProductID {
	t.Helper()
	ctx := context.Background()
	t.Cleanup(func() { purge(db, sku) })
	purge(db, sku)

	result, err := db.ExecContext(ctx,
		`INSERT INTO product (sku, product_name, current_stock, price) VALUES (?, ?, ?, ?)`,
		sku, "integration "+sku, stock, price)
	require.NoError(t, err)
	id, err := result.LastInsertId()
	require.NoError(t, err)
	return domain.ProductID(id)
}

func purge(db *sql.DB, sku string) {
	ctx := context.Background()
	db.ExecContext(ctx, `
		DELETE FROM transaction_history WHERE id IN (
			SELECT transaction_id FROM (
				SELECT td.transaction_id FROM transaction_detail td
				JOIN product p ON p.id = td.product_id
				WHERE p.sku = ?
			) AS owned
		)`, sku)
	db.ExecContext(ctx, `DELETE sl FROM stock_log sl JOIN product p ON p.id = sl.product_id WHERE p.sku = ?`, sku)
	db.ExecContext(ctx, `DELETE FROM product WHERE sku = ?`, sku)
}

func countRows(t *testing.T, db *sql.DB, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRowContext(context.Background(), query, args...).Scan(&n))
	return n
}

func TestMySQL_ProcessTransactionCommits(t *testing.T) {
	db := openMySQL(t)
	adapter := storage.NewMySQLAdapter(db)
	a := seed(t, db, "it-commit-a", "9.99", 5)
	b := seed(t, db, "it-commit-b", "1250.00", 3)

	svc := service.NewTransactionService(adapter, nil, 0)
	header, err := svc.ProcessTransaction(context.Background(), domain.SaleRequest{
		TransactionDate: "2025-01-10",
		Items: []domain.SaleItem{
			{ProductID: a, Quantity: 2},
			{ProductID: b, Quantity: 1},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "1269.98", header.TotalPrice.StringFixed(2))

	stored, err := adapter.GetHeader(context.Background(), header.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "1269.98", stored.TotalPrice.StringFixed(2))
	assert.Equal(t, "2025-01-10", stored.TransactionDate.Format(domain.TransactionDateLayout))

	lines, err := adapter.ListLines(context.Background(), header.ID)
	require.NoError(t, err)
	assert.Len(t, lines, 2)

	stockA, err := adapter.CurrentStock(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, 3, stockA)
	stockB, err := adapter.CurrentStock(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, 2, stockB)

	assert.Equal(t, 1, countRows(t, db, `SELECT COUNT(*) FROM stock_log WHERE product_id = ? AND quantity_change = -2 AND log_type = 'SALE'`, int64(a)))
	assert.Equal(t, 1, countRows(t, db, `SELECT COUNT(*) FROM stock_log WHERE product_id = ? AND quantity_change = -1 AND log_type = 'SALE'`, int64(b)))
}

func TestMySQL_LaterItemFailureLeavesNoTrace(t *testing.T) {
	db := openMySQL(t)
	adapter := storage.NewMySQLAdapter(db)
	a := seed(t, db, "it-abort-a", "9.99", 5)
	b := seed(t, db, "it-abort-b", "5.00", 2)

	svc := service.NewTransactionService(adapter, nil, 0)
	_, err := svc.ProcessTransaction(context.Background(), domain.SaleRequest{
		TransactionDate: "2025-01-10",
		Items: []domain.SaleItem{
			{ProductID: a, Quantity: 1},
			{ProductID: b, Quantity: 1},
			{ProductID: b, Quantity: 2},
		},
	})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	stockA, err := adapter.CurrentStock(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, 5, stockA)
	stockB, err := adapter.CurrentStock(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, 2, stockB)

	assert.Zero(t, countRows(t, db, `SELECT COUNT(*) FROM stock_log WHERE product_id IN (?, ?)`, int64(a), int64(b)))
	assert.Zero(t, countRows(t, db, `SELECT COUNT(*) FROM transaction_detail WHERE product_id IN (?, ?)`, int64(a), int64(b)))
}

func TestMySQL_UnknownProduct(t *testing.T) {
	db := openMySQL(t)
	svc := service.NewTransactionService(storage.NewMySQLAdapter(db), nil, 0)

	_, err := svc.ProcessTransaction(context.Background(), domain.SaleRequest{
		TransactionDate: "2025-01-10",
		Items:           []domain.SaleItem{{ProductID: 1 << 40, Quantity: 1}},
	})
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestMySQL_ReplayedKeyIsDuplicate(t *testing.T) {
	db := openMySQL(t)
	adapter := storage.NewMySQLAdapter(db)
	a := seed(t, db, "it-replay-a", "2.50", 4)

	svc := service.NewTransactionService(adapter, nil, 0)
	req := domain.SaleRequest{
		TransactionDate: "2025-01-10",
		Items:           []domain.SaleItem{{ProductID: a, Quantity: 1}},
		IdempotencyKey:  "it-replay/0/7",
	}

	_, err := svc.ProcessTransaction(context.Background(), req)
	require.NoError(t, err)
	_, err = svc.ProcessTransaction(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrDuplicateEvent)

	stock, err := adapter.CurrentStock(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, 3, stock)
	assert.Equal(t, 1, countRows(t, db, `SELECT COUNT(*) FROM transaction_detail WHERE product_id = ?`, int64(a)))
}

func TestMySQL_OverlappingSalesInOppositeOrder(t *testing.T) {
	db := openMySQL(t)
	adapter := storage.NewMySQLAdapter(db)
	a := seed(t, db, "it-order-a", "1.00", 50)
	b := seed(t, db, "it-order-b", "1.00", 50)

	svc := service.NewTransactionService(adapter, nil, 0)

	const workers = 20
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		items := []domain.SaleItem{{ProductID: a, Quantity: 1}, {ProductID: b, Quantity: 1}}
		if i%2 == 1 {
			items[0], items[1] = items[1], items[0]
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ProcessTransaction(context.Background(), domain.SaleRequest{
				TransactionDate: "2025-01-10",
				Items:           items,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	stockA, err := adapter.CurrentStock(context.Background(), a)
	require.NoError(t, err)
	stockB, err := adapter.CurrentStock(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, 30, stockA)
	assert.Equal(t, 30, stockB)
}
