package ops

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hpungsan/efact/internal/db"
)

// PurgeInput contains parameters for the Purge operation.
type PurgeInput struct {
	OlderThanHours int // slots not used for this long are removed; <= 0 purges nothing
}

// PurgeOutput contains the result of the Purge operation.
type PurgeOutput struct {
	Purged  int    `json:"purged"`
	Message string `json:"message"`
}

// Purge removes persisted session slots that have gone stale.
func Purge(ctx context.Context, database *sql.DB, input PurgeInput) (*PurgeOutput, error) {
	count, err := db.PurgeExpired(database, time.Duration(input.OlderThanHours)*time.Hour)
	if err != nil {
		return nil, err
	}
	return &PurgeOutput{
		Purged:  count,
		Message: formatPurgeMessage(count, input.OlderThanHours),
	}, nil
}

// formatPurgeMessage creates a human-readable message for the purge result.
func formatPurgeMessage(count, olderThanHours int) string {
	if count == 0 {
		return "No stale sessions to purge"
	}

	word := "entry"
	if count > 1 {
		word = "entries"
	}
	return fmt.Sprintf("Removed %d session %s idle for more than %d hours", count, word, olderThanHours)
}
