package site

import (
	"context"
	"errors"
	"strings"

	"github.com/aak1247/sitetap/internal/apperr"
	"github.com/aak1247/sitetap/internal/backend"
	"github.com/aak1247/sitetap/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Resolver maps a site reference onto the stored site. Unknown sites yield a
// TENANT_MISMATCH error.
type Resolver interface {
	Resolve(ctx context.Context, ref backend.SiteRef) (model.Site, error)
}

// Tenant is the team a request acts for together with the sites it owns.
type Tenant struct {
	TeamID  int64
	Kind    backend.Kind
	SiteIDs []int64
}

func (t Tenant) Owns(siteID int64) bool {
	for _, id := range t.SiteIDs {
		if id == siteID {
			return true
		}
	}
	return false
}

// Directory is the control-plane store of teams and sites.
type Directory struct {
	db          *gorm.DB
	defaultKind backend.Kind
}

func NewDirectory(db *gorm.DB, defaultKind backend.Kind) *Directory {
	if defaultKind == "" {
		defaultKind = backend.KindEmbedded
	}
	return &Directory{db: db, defaultKind: defaultKind}
}

func (d *Directory) Resolve(ctx context.Context, ref backend.SiteRef) (model.Site, error) {
	if err := ref.Validate(); err != nil {
		return model.Site{}, err
	}
	q := d.db.WithContext(ctx)
	if ref.ID > 0 {
		q = q.Where("id = ?", ref.ID)
	} else {
		q = q.Where("tag_id = ?", strings.TrimSpace(ref.TagID))
	}
	var s model.Site
	err := q.Take(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Site{}, apperr.TenantMismatch("site not found")
	}
	if err != nil {
		return model.Site{}, apperr.Classify("resolve site", err)
	}
	return s, nil
}

func (d *Directory) CreateTeam(ctx context.Context, name string, kind backend.Kind) (model.Team, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Team{}, apperr.Validation("name", "team name is required")
	}
	if kind == "" {
		kind = d.defaultKind
	}
	t := model.Team{Name: name, DBAdapter: string(kind)}
	if err := d.db.WithContext(ctx).Create(&t).Error; err != nil {
		return model.Team{}, apperr.Classify("create team", err)
	}
	return t, nil
}

func (d *Directory) team(ctx context.Context, teamID int64) (model.Team, error) {
	var t model.Team
	err := d.db.WithContext(ctx).Where("id = ?", teamID).Take(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Team{}, apperr.TenantMismatch("team not found")
	}
	if err != nil {
		return model.Team{}, apperr.Classify("load team", err)
	}
	return t, nil
}

// Create registers a site for a team. The site inherits the team's adapter
// kind and gets a freshly generated public tag id.
func (d *Directory) Create(ctx context.Context, teamID int64, domain string) (model.Site, error) {
	t, err := d.team(ctx, teamID)
	if err != nil {
		return model.Site{}, err
	}
	s := model.Site{
		TeamID:    t.ID,
		TagID:     strings.ReplaceAll(uuid.NewString(), "-", ""),
		Domain:    strings.TrimSpace(domain),
		DBAdapter: t.DBAdapter,
	}
	if err := d.db.WithContext(ctx).Create(&s).Error; err != nil {
		return model.Site{}, apperr.Classify("create site", err)
	}
	return s, nil
}

func (d *Directory) ListByTeam(ctx context.Context, teamID int64) ([]model.Site, error) {
	var out []model.Site
	err := d.db.WithContext(ctx).Where("team_id = ?", teamID).Order("id ASC").Find(&out).Error
	if err != nil {
		return nil, apperr.Classify("list sites", err)
	}
	return out, nil
}

// LoadTenant returns the team's adapter kind and site list. An unknown team is
// a TENANT_MISMATCH.
func (d *Directory) LoadTenant(ctx context.Context, teamID int64) (Tenant, error) {
	t, err := d.team(ctx, teamID)
	if err != nil {
		return Tenant{}, err
	}
	var ids []int64
	if err := d.db.WithContext(ctx).Model(&model.Site{}).Where("team_id = ?", teamID).Order("id ASC").Pluck("id", &ids).Error; err != nil {
		return Tenant{}, apperr.Classify("load tenant sites", err)
	}
	return Tenant{TeamID: t.ID, Kind: backend.ParseKind(t.DBAdapter), SiteIDs: ids}, nil
}
