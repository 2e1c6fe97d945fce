package models

import (
	"database/sql/driver"
	"fmt"
)

// Scan implements sql.Scanner so Timestamp columns read straight into the
// model type.
func (t *Timestamp) Scan(src any) error {
	switch v := src.(type) {
	case int64:
		*t = Timestamp(v)
	case nil:
		*t = 0
	default:
		return fmt.Errorf("cannot scan %T into Timestamp", src)
	}
	return nil
}

// Value implements driver.Valuer.
func (t Timestamp) Value() (driver.Value, error) {
	return int64(t), nil
}

// Scan implements sql.Scanner for device type columns.
func (d *DeviceType) Scan(src any) error {
	switch v := src.(type) {
	case string:
		*d = DeviceType(v)
	case []byte:
		*d = DeviceType(v)
	default:
		return fmt.Errorf("cannot scan %T into DeviceType", src)
	}
	return nil
}

// Value implements driver.Valuer.
func (d DeviceType) Value() (driver.Value, error) {
	return string(d), nil
}

// Scan implements sql.Scanner for action columns.
func (a *ActionType) Scan(src any) error {
	switch v := src.(type) {
	case string:
		*a = ActionType(v)
	case []byte:
		*a = ActionType(v)
	default:
		return fmt.Errorf("cannot scan %T into ActionType", src)
	}
	return nil
}

// Value implements driver.Valuer.
func (a ActionType) Value() (driver.Value, error) {
	return string(a), nil
}
