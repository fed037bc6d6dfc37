package model

import (
	"database/sql/driver"
	"encoding/json"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Attrs is an opaque JSON object column. A NULL column scans back to a nil
// map (datatypes.JSONMap would yield an empty one).
type Attrs map[string]any

func (a Attrs) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	b, err := json.Marshal(map[string]any(a))
	return string(b), err
}

func (a *Attrs) Scan(val any) error {
	if val == nil {
		*a = nil
		return nil
	}
	var m datatypes.JSONMap
	if err := m.Scan(val); err != nil {
		return err
	}
	*a = Attrs(m)
	return nil
}

func (Attrs) GormDataType() string { return datatypes.JSONMap{}.GormDataType() }

func (Attrs) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	return datatypes.JSONMap{}.GormDBDataType(db, field)
}
