package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/sales-ledger/internal/core/domain"
	"github.com/rl1809/sales-ledger/internal/port"
)

var errInjected = errors.New("injected storage error")

// mockStore keeps committed state in maps. Units copy product state on Begin
// and hold unitMu until they finish, which gives serializable isolation.
type mockStore struct {
	mu     sync.Mutex
	unitMu sync.Mutex

	products  map[domain.ProductID]domain.Product
	headers   map[string]domain.TransactionHeader
	lines     []domain.TransactionLine
	movements []domain.StockMovement
	events    map[string]string
	locked    [][]domain.ProductID

	failOp    string
	commitErr error
	reads     int
}

func newMockStore(products ...domain.Product) *mockStore {
	m := &mockStore{
		products: make(map[domain.ProductID]domain.Product),
		headers:  make(map[string]domain.TransactionHeader),
		events:   make(map[string]string),
	}
	for _, p := range products {
		m.products[p.ID] = p
	}
	return m
}

func (m *mockStore) GetProduct(ctx context.Context, id domain.ProductID) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	p, ok := m.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *mockStore) CurrentStock(ctx context.Context, id domain.ProductID) (int, error) {
	p, err := m.GetProduct(ctx, id)
	if err != nil {
		return 0, err
	}
	if p == nil {
		return 0, domain.NewProductNotFoundError(id)
	}
	return p.CurrentStock, nil
}

func (m *mockStore) Begin(ctx context.Context) (port.Unit, error) {
	if m.failOp == "begin" {
		return nil, errInjected
	}
	m.unitMu.Lock()

	m.mu.Lock()
	defer m.mu.Unlock()
	products := make(map[domain.ProductID]domain.Product, len(m.products))
	for id, p := range m.products {
		products[id] = p
	}
	return &mockUnit{
		store:    m,
		products: products,
		headers:  map[string]domain.TransactionHeader{},
		events:   map[string]string{},
	}, nil
}

func (m *mockStore) stock(id domain.ProductID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id].CurrentStock
}

func (m *mockStore) snapshot() (headers []domain.TransactionHeader, lines []domain.TransactionLine, movements []domain.StockMovement) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.headers {
		headers = append(headers, h)
	}
	lines = append(lines, m.lines...)
	movements = append(movements, m.movements...)
	return headers, lines, movements
}

type mockUnit struct {
	store     *mockStore
	products  map[domain.ProductID]domain.Product
	headers   map[string]domain.TransactionHeader
	lines     []domain.TransactionLine
	movements []domain.StockMovement
	events    map[string]string
	done      bool
}

func (u *mockUnit) fail(op string) error {
	if u.store.failOp == op {
		return fmt.Errorf("%s: %w", op, errInjected)
	}
	return nil
}

func (u *mockUnit) GetProduct(ctx context.Context, id domain.ProductID) (*domain.Product, error) {
	if err := u.fail("get"); err != nil {
		return nil, err
	}
	p, ok := u.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (u *mockUnit) CurrentStock(ctx context.Context, id domain.ProductID) (int, error) {
	p, ok := u.products[id]
	if !ok {
		return 0, domain.NewProductNotFoundError(id)
	}
	return p.CurrentStock, nil
}

// LockProducts records the order in which ids would be locked.
func (u *mockUnit) LockProducts(ctx context.Context, ids []domain.ProductID) error {
	if err := u.fail("lock"); err != nil {
		return err
	}
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	u.store.locked = append(u.store.locked, sorted)
	return nil
}

func (u *mockUnit) ClaimEvent(ctx context.Context, key, headerID string) error {
	if err := u.fail("claim"); err != nil {
		return err
	}
	u.store.mu.Lock()
	_, committed := u.store.events[key]
	u.store.mu.Unlock()
	if _, pending := u.events[key]; committed || pending {
		return domain.NewDuplicateEventError(key)
	}
	u.events[key] = headerID
	return nil
}

func (u *mockUnit) Decrement(ctx context.Context, id domain.ProductID, qty int) (int, error) {
	if err := u.fail("decrement"); err != nil {
		return 0, err
	}
	p, ok := u.products[id]
	if !ok {
		return 0, domain.NewProductNotFoundError(id)
	}
	if qty > p.CurrentStock {
		return 0, domain.NewInsufficientStockError(id, "", qty, p.CurrentStock)
	}
	p.CurrentStock -= qty
	u.products[id] = p
	return p.CurrentStock, nil
}

func (u *mockUnit) WriteLine(ctx context.Context, headerID string, productID domain.ProductID, qty int, unitPrice decimal.Decimal) (domain.TransactionLine, error) {
	if err := u.fail("line"); err != nil {
		return domain.TransactionLine{}, err
	}
	line, err := domain.NewTransactionLine(uuid.NewString(), headerID, productID, qty, unitPrice)
	if err != nil {
		return domain.TransactionLine{}, err
	}
	u.lines = append(u.lines, line)
	return line, nil
}

func (u *mockUnit) Record(ctx context.Context, productID domain.ProductID, change int, kind domain.MovementKind) (string, error) {
	if err := u.fail("record"); err != nil {
		return "", err
	}
	mv := domain.StockMovement{ID: uuid.NewString(), ProductID: productID, QuantityChange: change, Kind: kind, CreatedAt: time.Now()}
	u.movements = append(u.movements, mv)
	return mv.ID, nil
}

func (u *mockUnit) CreateHeader(ctx context.Context, date time.Time) (*domain.TransactionHeader, error) {
	if err := u.fail("header"); err != nil {
		return nil, err
	}
	h := domain.TransactionHeader{ID: uuid.NewString(), TransactionDate: date, TotalPrice: decimal.Zero, CreatedAt: time.Now()}
	u.headers[h.ID] = h
	return &h, nil
}

func (u *mockUnit) SetTotal(ctx context.Context, headerID string, total decimal.Decimal) error {
	if err := u.fail("total"); err != nil {
		return err
	}
	h, ok := u.headers[headerID]
	if !ok {
		return fmt.Errorf("header %s not found", headerID)
	}
	h.TotalPrice = total
	u.headers[headerID] = h
	return nil
}

func (u *mockUnit) Commit() error {
	if u.done {
		return errors.New("unit already finished")
	}
	u.done = true
	defer u.store.unitMu.Unlock()

	if u.store.commitErr != nil {
		return u.store.commitErr
	}

	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	for id, p := range u.products {
		u.store.products[id] = p
	}
	for id, h := range u.headers {
		u.store.headers[id] = h
	}
	u.store.lines = append(u.store.lines, u.lines...)
	u.store.movements = append(u.store.movements, u.movements...)
	for key, headerID := range u.events {
		u.store.events[key] = headerID
	}
	return nil
}

func (u *mockUnit) Rollback() error {
	if u.done {
		return nil
	}
	u.done = true
	u.store.unitMu.Unlock()
	return nil
}
