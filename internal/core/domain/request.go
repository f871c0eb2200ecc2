package domain

// SaleRequest is a parsed sale event. TransactionDate is an ISO calendar date string.
type SaleRequest struct {
	TransactionDate string
	Items           []SaleItem

	// IdempotencyKey, when set, is recorded in the same unit as the sale.
	// A second request with the same key fails with ErrDuplicateEvent.
	IdempotencyKey string
}

type SaleItem struct {
	ProductID ProductID
	Quantity  int
}
