package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"

	"github.com/mkallweit/normrel/helper"
)

// jsonbValue marshals a JSONB column payload for the driver
func jsonbValue(payload interface{}) (driver.Value, error) {
	return json.Marshal(payload)
}

// jsonbScan unmarshals a JSONB column into dest. A NULL column leaves
// dest at the zero value the caller reset it to.
func jsonbScan(value interface{}, dest interface{}) error {
	if value == nil {
		return nil
	}

	b, ok := value.([]byte)
	if !ok {
		return helper.NewError("byte assertion", errors.New("type assertion to []byte failed"))
	}

	return json.Unmarshal(b, dest)
}

// Metadata represents JSONB metadata stored in PostgreSQL
type Metadata map[string]interface{}

// Value implements the driver.Valuer interface for database storage
func (m Metadata) Value() (driver.Value, error) {
	return jsonbValue(m)
}

// Scan implements the sql.Scanner interface for database retrieval
func (m *Metadata) Scan(value interface{}) error {
	*m = Metadata{}
	return jsonbScan(value, m)
}
