package service

import (
	"context"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/sales-ledger/internal/core/domain"
	"github.com/rl1809/sales-ledger/internal/port"
)

const (
	tracerName               = "github.com/rl1809/sales-ledger/internal/core/service"
	DefaultLowStockThreshold = 10
)

type TransactionService struct {
	store             port.UnitOfWork
	logger            *zap.Logger
	tracer            trace.Tracer
	lowStockThreshold int
}

func NewTransactionService(store port.UnitOfWork, logger *zap.Logger, lowStockThreshold int) *TransactionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if lowStockThreshold <= 0 {
		lowStockThreshold = DefaultLowStockThreshold
	}
	return &TransactionService{
		store:             store,
		logger:            logger,
		tracer:            otel.Tracer(tracerName),
		lowStockThreshold: lowStockThreshold,
	}
}

// ProcessTransaction validates every item, then records the header, lines,
// stock movements and stock decrements in one unit of work. A non-empty
// IdempotencyKey is claimed in the same unit. All failures are returned as
// *domain.BusinessError and leave no persisted state.
func (s *TransactionService) ProcessTransaction(ctx context.Context, req domain.SaleRequest) (*domain.TransactionHeader, error) {
	ctx, span := s.tracer.Start(ctx, "process_transaction")
	defer span.End()
	span.SetAttributes(
		attribute.String("transaction.date", req.TransactionDate),
		attribute.Int("transaction.item_count", len(req.Items)),
	)

	header, err := s.process(ctx, req)
	if err != nil {
		be := asBusinessFailure(err)
		span.RecordError(be)
		span.SetStatus(codes.Error, string(be.Code))
		if be.Retryable() {
			s.logger.Error("transaction aborted by storage failure",
				zap.String("code", string(be.Code)), zap.Error(be.Err))
		} else {
			s.logger.Warn("transaction rejected",
				zap.String("code", string(be.Code)), zap.String("detail", be.DetailedMessage()))
		}
		return nil, be
	}

	span.SetAttributes(
		attribute.String("transaction.id", header.ID),
		attribute.String("transaction.total", header.TotalPrice.StringFixed(2)),
	)
	span.SetStatus(codes.Ok, "transaction committed")
	s.logger.Info("transaction processed",
		zap.String("transaction_id", header.ID),
		zap.String("total_price", header.TotalPrice.StringFixed(2)),
		zap.Int("item_count", len(req.Items)),
	)
	return header, nil
}

func (s *TransactionService) process(ctx context.Context, req domain.SaleRequest) (header *domain.TransactionHeader, err error) {
	date, err := domain.ParseTransactionDate(req.TransactionDate)
	if err != nil {
		return nil, err
	}

	if err := s.Validate(ctx, req.Items); err != nil {
		return nil, err
	}

	unit, err := s.store.Begin(ctx)
	if err != nil {
		return nil, domain.NewStorageFailureError(err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := unit.Rollback(); rbErr != nil {
			s.logger.Error("rollback failed", zap.Error(rbErr))
		}
	}()

	ids := make([]domain.ProductID, len(req.Items))
	for i, item := range req.Items {
		ids[i] = item.ProductID
	}
	if err := unit.LockProducts(ctx, ids); err != nil {
		return nil, err
	}

	header, err = unit.CreateHeader(ctx, date)
	if err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		if err := unit.ClaimEvent(ctx, req.IdempotencyKey, header.ID); err != nil {
			return nil, err
		}
	}

	total := decimal.Zero
	for _, item := range req.Items {
		lineTotal, err := s.processItem(ctx, unit, header.ID, item)
		if err != nil {
			return nil, err
		}
		total = total.Add(lineTotal)
	}

	if err := unit.SetTotal(ctx, header.ID, total); err != nil {
		return nil, err
	}

	if err := unit.Commit(); err != nil {
		return nil, domain.NewStorageFailureError(err)
	}
	committed = true

	header.TotalPrice = total
	return header, nil
}

// Validate checks every item against current stock without mutating anything.
// It always visits all items up to the first failure and reserves nothing.
func (s *TransactionService) Validate(ctx context.Context, items []domain.SaleItem) error {
	if len(items) == 0 {
		return domain.NewEmptyItemsError()
	}

	for _, item := range items {
		if item.Quantity < 1 {
			return domain.NewInvalidQuantityError(item.ProductID, item.Quantity)
		}
	}

	for _, item := range items {
		product, err := s.store.GetProduct(ctx, item.ProductID)
		if err != nil {
			return err
		}
		if product == nil {
			return domain.NewProductNotFoundError(item.ProductID)
		}
		if product.CurrentStock < item.Quantity {
			return domain.NewInsufficientStockError(product.ID, product.Name, item.Quantity, product.CurrentStock)
		}
		s.logger.Debug("validated item",
			zap.Int64("product_id", int64(item.ProductID)),
			zap.Int("qty", item.Quantity),
			zap.Int("available_stock", product.CurrentStock),
		)
	}
	return nil
}

func (s *TransactionService) processItem(ctx context.Context, unit port.Unit, headerID string, item domain.SaleItem) (decimal.Decimal, error) {
	// Re-read inside the unit so repeated products see earlier decrements.
	product, err := unit.GetProduct(ctx, item.ProductID)
	if err != nil {
		return decimal.Zero, err
	}
	if product == nil {
		return decimal.Zero, domain.NewProductNotFoundError(item.ProductID)
	}

	line, err := unit.WriteLine(ctx, headerID, product.ID, item.Quantity, product.Price)
	if err != nil {
		return decimal.Zero, err
	}

	if _, err := unit.Record(ctx, product.ID, -item.Quantity, domain.MovementSale); err != nil {
		return decimal.Zero, err
	}

	newStock, err := unit.Decrement(ctx, product.ID, item.Quantity)
	if err != nil {
		if be, ok := domain.AsBusinessError(err); ok && be.Code == domain.CodeInsufficientStock {
			be.WithDetail("productName", product.Name)
		}
		return decimal.Zero, err
	}

	s.logger.Info("stock updated",
		zap.Int64("product_id", int64(product.ID)),
		zap.Int("old_stock", product.CurrentStock),
		zap.Int("new_stock", newStock),
	)
	if newStock < s.lowStockThreshold {
		s.logger.Warn("low stock",
			zap.Int64("product_id", int64(product.ID)),
			zap.String("product_name", product.Name),
			zap.Int("current_stock", newStock),
		)
	}

	return line.LineTotal, nil
}

// asBusinessFailure passes business errors through and classifies anything
// else as a storage failure.
func asBusinessFailure(err error) *domain.BusinessError {
	if be, ok := domain.AsBusinessError(err); ok {
		return be
	}
	return domain.NewStorageFailureError(err)
}
