package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Vector is an embedding stored as a JSONB float array. A nil Vector marks a
// chunk whose embedding call failed; such chunks are kept but excluded from
// similarity scoring.
type Vector []float32

// Value implements driver.Valuer. Nil vectors are stored as SQL NULL.
func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Scan implements sql.Scanner.
func (v *Vector) Scan(src interface{}) error {
	if src == nil {
		*v = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into Vector", src)
	}
	return json.Unmarshal(b, v)
}

// Citations is a JSONB-backed list of citations on a chat message.
type Citations []Citation

// Value implements driver.Valuer. An empty list is stored as '[]' so readers
// never see NULL.
func (c Citations) Value() (driver.Value, error) {
	if c == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c)
}

// Scan implements sql.Scanner.
func (c *Citations) Scan(src interface{}) error {
	if src == nil {
		*c = Citations{}
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into Citations", src)
	}
	return json.Unmarshal(b, c)
}

// MarshalJSON writes a non-nil citation list even when it is empty, so a done
// frame carries "citations":[]; frames with nil citations omit the key.
func (f StreamFrame) MarshalJSON() ([]byte, error) {
	type plain StreamFrame
	if f.Citations == nil {
		return json.Marshal(plain(f))
	}
	return json.Marshal(struct {
		Type      string     `json:"type"`
		Content   string     `json:"content,omitempty"`
		Citations []Citation `json:"citations"`
		Error     string     `json:"error,omitempty"`
		Done      *bool      `json:"done,omitempty"`
	}{f.Type, f.Content, f.Citations, f.Error, f.Done})
}

// JSONMap is a JSONB-backed string-keyed map, used for error event context.
type JSONMap map[string]interface{}

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(src interface{}) error {
	if src == nil {
		*m = JSONMap{}
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONMap", src)
	}
	return json.Unmarshal(b, m)
}
