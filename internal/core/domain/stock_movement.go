package domain

import "time"

type MovementKind string

const (
	MovementSale       MovementKind = "SALE"
	MovementPurchase   MovementKind = "PURCHASE"
	MovementAdjustment MovementKind = "ADJUSTMENT"
)

type StockMovement struct {
	ID             string
	ProductID      ProductID
	QuantityChange int // negative for sales
	Kind           MovementKind
	CreatedAt      time.Time
}
