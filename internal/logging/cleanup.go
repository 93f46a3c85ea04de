package logging

import (
	"context"
	"time"

	"github.com/fleetmaster/fleetmaster-hub/internal/models"
	"gorm.io/gorm"
)

// PurgeOlderThan deletes system logs older than retentionDays and reports how many went.
func PurgeOlderThan(ctx context.Context, db *gorm.DB, retentionDays int, now time.Time) (int64, error) {
	cutoff := now.AddDate(0, 0, -retentionDays)
	result := db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&models.SystemLog{})
	return result.RowsAffected, result.Error
}
