package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/sales-ledger/internal/core/domain"
)

const errDuplicateEntry = 1062

// ClaimEvent inserts key into processed_event. A concurrent unit holding the
// same key blocks here until it commits or rolls back.
func (u *mysqlUnit) ClaimEvent(ctx context.Context, key, headerID string) error {
	_, err := u.tx.ExecContext(ctx, `
		INSERT INTO processed_event (event_key, transaction_id, created_at)
		VALUES (?, ?, ?)`,
		key, headerID, now(),
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == errDuplicateEntry {
			return domain.NewDuplicateEventError(key)
		}
		return fmt.Errorf("insert processed event: %w", err)
	}

	return nil
}
