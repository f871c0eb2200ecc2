package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/rl1809/sales-ledger/internal/adapter/storage"
	"github.com/rl1809/sales-ledger/internal/core/domain"
	"github.com/rl1809/sales-ledger/internal/core/service"
)

const (
	defaultDSN    = "root:root@tcp(localhost:3306)/sales_ledger?parseTime=true"
	sku           = "stress-test-item"
	initialStock  = 20
	totalRequests = 50
)

func main() {
	ctx := context.Background()

	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = defaultDSN
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		log.Fatalf("failed to connect mysql: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(totalRequests)

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping mysql: %v", err)
	}
	if err := storage.EnsureSchema(ctx, db); err != nil {
		log.Fatalf("failed to apply schema: %v", err)
	}

	productID, err := seed(ctx, db)
	if err != nil {
		log.Fatalf("failed to seed product: %v", err)
	}

	transactionService := service.NewTransactionService(storage.NewMySQLAdapter(db), nil, 0)

	// Counters
	var successCount atomic.Int32
	var insufficientCount atomic.Int32
	var otherCount atomic.Int32

	// Spawn concurrent requests
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := transactionService.ProcessTransaction(ctx, domain.SaleRequest{
				TransactionDate: time.Now().Format(domain.TransactionDateLayout),
				Items:           []domain.SaleItem{{ProductID: productID, Quantity: 1}},
			})
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				insufficientCount.Add(1)
			default:
				otherCount.Add(1)
				log.Printf("unexpected failure: %v", err)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	success := successCount.Load()
	insufficient := insufficientCount.Load()
	other := otherCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:      %d\n", initialStock)
	fmt.Printf("Total Requests:     %d\n", totalRequests)
	fmt.Printf("Committed:          %d\n", success)
	fmt.Printf("Insufficient Stock: %d\n", insufficient)
	fmt.Printf("Other Failures:     %d\n", other)
	fmt.Printf("Duration:           %v\n", elapsed)
	fmt.Println("==========================================")

	// Assertions
	if success == initialStock && insufficient == totalRequests-initialStock && other == 0 {
		fmt.Printf("PASS: Exactly %d sales committed, %d rejected\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d/%d/0, got %d/%d/%d\n",
			initialStock, totalRequests-initialStock, success, insufficient, other)
	}

	finalStock, err := storage.NewMySQLAdapter(db).CurrentStock(ctx, productID)
	if err != nil {
		log.Fatalf("failed to read final stock: %v", err)
	}
	fmt.Printf("Final Stock: %d\n", finalStock)
	if finalStock == 0 {
		fmt.Println("PASS: Stock depleted to 0")
	} else {
		fmt.Printf("FAIL: Expected stock 0, got %d\n", finalStock)
	}

	var movements int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stock_log WHERE product_id = ?`, int64(productID)).Scan(&movements); err != nil {
		log.Fatalf("failed to count stock movements: %v", err)
	}
	if movements == initialStock {
		fmt.Printf("PASS: %d stock movements recorded\n", movements)
	} else {
		fmt.Printf("FAIL: Expected %d stock movements, got %d\n", initialStock, movements)
	}
}

// seed replaces any product left over from a previous run.
func seed(ctx context.Context, db *sql.DB) (domain.ProductID, error) {
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

	result, err := db.ExecContext(ctx,
		`INSERT INTO product (sku, product_name, current_stock, price) VALUES (?, ?, ?, ?)`,
		sku, "Stress Test Item", initialStock, "9.99")
	if err != nil {
		return 0, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	return domain.ProductID(id), nil
}
