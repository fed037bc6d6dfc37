package migrate

import (
	"context"

	"github.com/aak1247/sitetap/internal/model"
	"gorm.io/gorm"
)

func AutoMigrate(ctx context.Context, db *gorm.DB) error {
	gdb := db.WithContext(ctx)
	if err := gdb.AutoMigrate(&model.Team{}, &model.Site{}, &model.EventRecord{}, &model.Report{}); err != nil {
		return err
	}
	if db.Dialector.Name() != "postgres" {
		return nil
	}

	// GIN index for ad-hoc lookups into custom event data.
	if err := gdb.Exec(`CREATE INDEX IF NOT EXISTS idx_events_custom_data ON events USING GIN (custom_data)`).Error; err != nil {
		return err
	}
	return nil
}
