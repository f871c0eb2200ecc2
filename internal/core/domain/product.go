package domain

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

type ProductID int64

func (id ProductID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

type Product struct {
	ID           ProductID
	SKU          string
	Name         string
	Price        decimal.Decimal
	CurrentStock int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
