package report

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/aak1247/sitetap/internal/apperr"
	"github.com/aak1247/sitetap/internal/model"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Repository persists named reports. Widgets are stored as their authored
// JSON and recompiled on every render.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository { return &Repository{db: db} }

func encodeWidgets(widgets []Config) (datatypes.JSON, error) {
	if widgets == nil {
		widgets = []Config{}
	}
	b, err := json.Marshal(widgets)
	if err != nil {
		return nil, apperr.Internal("encode widgets", err)
	}
	return datatypes.JSON(b), nil
}

func (r *Repository) Create(ctx context.Context, teamID, siteID int64, name string, widgets []Config) (model.Report, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Report{}, apperr.Validation("name", "report name is required")
	}
	doc, err := encodeWidgets(widgets)
	if err != nil {
		return model.Report{}, err
	}
	rep := model.Report{TeamID: teamID, SiteID: siteID, Name: name, Widgets: doc}
	if err := r.db.WithContext(ctx).Create(&rep).Error; err != nil {
		return model.Report{}, apperr.Classify("create report", err)
	}
	return rep, nil
}

// Get loads a report owned by teamID. Reports of other teams are reported as
// TENANT_MISMATCH, the same as missing ones.
func (r *Repository) Get(ctx context.Context, teamID, id int64) (model.Report, error) {
	var rep model.Report
	err := r.db.WithContext(ctx).Where("id = ? AND team_id = ?", id, teamID).Take(&rep).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Report{}, apperr.TenantMismatch("report not found")
	}
	if err != nil {
		return model.Report{}, apperr.Classify("load report", err)
	}
	return rep, nil
}

func (r *Repository) UpdateWidgets(ctx context.Context, teamID, id int64, widgets []Config) (model.Report, error) {
	doc, err := encodeWidgets(widgets)
	if err != nil {
		return model.Report{}, err
	}
	res := r.db.WithContext(ctx).Model(&model.Report{}).
		Where("id = ? AND team_id = ?", id, teamID).
		Update("widgets", doc)
	if res.Error != nil {
		return model.Report{}, apperr.Classify("update report", res.Error)
	}
	if res.RowsAffected == 0 {
		return model.Report{}, apperr.TenantMismatch("report not found")
	}
	return r.Get(ctx, teamID, id)
}
