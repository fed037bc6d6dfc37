package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Team struct {
	ID        int64     `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	Name      string    `gorm:"type:varchar(200);not null;column:name" json:"name"`
	DBAdapter string    `gorm:"type:varchar(32);not null;column:db_adapter" json:"db_adapter"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime;column:created_at" json:"created_at"`
}

func (Team) TableName() string { return "teams" }

// Site is one tracked property. DBAdapter is copied from the owning team at
// creation and never changes afterwards.
type Site struct {
	ID        int64     `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	TeamID    int64     `gorm:"not null;index;column:team_id" json:"team_id"`
	TagID     string    `gorm:"type:varchar(64);not null;uniqueIndex;column:tag_id" json:"tag_id"`
	Domain    string    `gorm:"type:varchar(255);column:domain" json:"domain"`
	DBAdapter string    `gorm:"type:varchar(32);not null;column:db_adapter" json:"db_adapter"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime;column:created_at" json:"created_at"`
}

func (Site) TableName() string { return "sites" }

// EventRecord is the canonical stored analytics event. Optional fields are
// pointers so that "not supplied" is stored and serialized as null.
type EventRecord struct {
	ID              int64      `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	SiteID          int64      `gorm:"not null;index:idx_events_site_ts,priority:1;uniqueIndex:idx_events_site_ingest,priority:1;column:site_id" json:"site_id"`
	TeamID          int64      `gorm:"not null;index;column:team_id" json:"team_id"`
	TagID           string     `gorm:"type:varchar(64);not null;index;column:tag_id" json:"tag_id"`
	Event           string     `gorm:"type:varchar(200);not null;column:event" json:"event"`
	PageURL         *string    `gorm:"type:text;column:page_url" json:"page_url"`
	ClientPageURL   *string    `gorm:"type:text;column:client_page_url" json:"client_page_url"`
	Referer         *string    `gorm:"type:text;column:referer" json:"referer"`
	QueryParams     Attrs      `gorm:"column:query_params" json:"query_params"`
	CustomData      Attrs      `gorm:"column:custom_data" json:"custom_data"`
	BotData         Attrs      `gorm:"column:bot_data" json:"bot_data"`
	Browser         *string    `gorm:"type:varchar(100);column:browser" json:"browser"`
	OperatingSystem *string    `gorm:"type:varchar(100);column:operating_system" json:"operating_system"`
	DeviceType      *string    `gorm:"type:varchar(50);column:device_type" json:"device_type"`
	ScreenWidth     *int       `gorm:"column:screen_width" json:"screen_width"`
	ScreenHeight    *int       `gorm:"column:screen_height" json:"screen_height"`
	Country         *string    `gorm:"type:varchar(100);column:country" json:"country"`
	Region          *string    `gorm:"type:varchar(100);column:region" json:"region"`
	City            *string    `gorm:"type:varchar(200);column:city" json:"city"`
	Postal          *string    `gorm:"type:varchar(32);column:postal" json:"postal"`
	RID             *string    `gorm:"type:varchar(255);index;column:rid" json:"rid"`
	IngestID        *uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_events_site_ingest,priority:2;column:ingest_id" json:"-"`
	CreatedAt       time.Time  `gorm:"not null;index:idx_events_site_ts,priority:2,sort:desc;column:created_at" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"not null;column:updated_at" json:"updated_at"`
}

func (EventRecord) TableName() string { return "events" }

// Report is a named collection of widget configs. Widgets holds the versioned
// JSON document; compiled queries are never stored.
type Report struct {
	ID        int64          `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	TeamID    int64          `gorm:"not null;index;column:team_id" json:"team_id"`
	SiteID    int64          `gorm:"not null;index;column:site_id" json:"site_id"`
	Name      string         `gorm:"type:varchar(200);not null;column:name" json:"name"`
	Widgets   datatypes.JSON `gorm:"type:jsonb;not null;column:widgets" json:"widgets"`
	CreatedAt time.Time      `gorm:"not null;autoCreateTime;column:created_at" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;autoUpdateTime;column:updated_at" json:"updated_at"`
}

func (Report) TableName() string { return "reports" }
