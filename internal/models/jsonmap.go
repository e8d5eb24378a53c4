package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// JSONMap is a JSON-serialized map column, used for batch config snapshots
// and extracted structured data. Stored as JSONB on Postgres and TEXT on SQLite.
type JSONMap map[string]interface{}

// Value implements driver.Valuer for JSONMap
func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements sql.Scanner for JSONMap
func (j *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	default:
		return errors.New("unsupported type for JSONMap scan")
	}
}

// GormDataType gives gorm's schema parser a generic data type so the field
// is treated as a column rather than a relation; the dialect-specific column
// type still comes from GormDBDataType below.
func (JSONMap) GormDataType() string {
	return "text"
}

// GormDBDataType picks the column type per dialect
func (JSONMap) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "JSONB"
	}
	return "TEXT"
}
