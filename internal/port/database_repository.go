package port

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/sales-ledger/internal/core/domain"
)

type InventoryReader interface {
	// GetProduct returns nil, nil when the product does not exist
	GetProduct(ctx context.Context, id domain.ProductID) (*domain.Product, error)

	// CurrentStock returns the stock level, or a ProductNotFound error
	CurrentStock(ctx context.Context, id domain.ProductID) (int, error)
}

type StockLedger interface {
	// LockProducts locks the rows for ids in ascending id order, missing ids are ignored
	LockProducts(ctx context.Context, ids []domain.ProductID) error

	// Decrement fails with InsufficientStock when qty exceeds current stock, returns the new stock
	Decrement(ctx context.Context, id domain.ProductID, qty int) (int, error)
}

type LineItemWriter interface {
	// WriteLine appends a line and returns it with its computed total
	WriteLine(ctx context.Context, headerID string, productID domain.ProductID, qty int, unitPrice decimal.Decimal) (domain.TransactionLine, error)
}

type AuditRecorder interface {
	// Record appends a stock movement and returns its id
	Record(ctx context.Context, productID domain.ProductID, change int, kind domain.MovementKind) (string, error)
}

type TransactionWriter interface {
	// CreateHeader inserts a header with a zero total
	CreateHeader(ctx context.Context, date time.Time) (*domain.TransactionHeader, error)

	// SetTotal writes the aggregate total once all lines exist
	SetTotal(ctx context.Context, headerID string, total decimal.Decimal) error
}

type EventRecorder interface {
	// ClaimEvent ties key to headerID, fails with DuplicateEvent when key is already recorded
	ClaimEvent(ctx context.Context, key, headerID string) error
}

// Unit is a single atomic scope. Nothing written through it is visible to
// other units until Commit; Rollback after Commit is a no-op.
type Unit interface {
	InventoryReader
	StockLedger
	LineItemWriter
	AuditRecorder
	TransactionWriter
	EventRecorder

	Commit() error
	Rollback() error
}

type UnitOfWork interface {
	InventoryReader

	Begin(ctx context.Context) (Unit, error)
}

type TransactionQuery interface {
	// GetHeader returns nil, nil when the transaction does not exist
	GetHeader(ctx context.Context, id string) (*domain.TransactionHeader, error)

	ListLines(ctx context.Context, headerID string) ([]domain.TransactionLine, error)
}
