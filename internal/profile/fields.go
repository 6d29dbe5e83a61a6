package profile

import (
	"fmt"
	"strconv"
	"strings"
)

// FieldType is the declared type of a custom field value.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldNumber FieldType = "number"
	FieldBool   FieldType = "bool"
)

const (
	maxCustomFields    = 32
	maxFieldKeyChars   = 64
	maxFieldValueChars = 500
)

// Field is a user-defined profile attribute. Value is always stored as text
// and must parse as Type.
type Field struct {
	Type  FieldType `json:"type"`
	Value string    `json:"value"`
}

// Validate checks that Value parses as the declared Type.
func (f Field) Validate() error {
	if len([]rune(f.Value)) > maxFieldValueChars {
		return fmt.Errorf("%w: field value longer than %d chars", ErrInvalidInput, maxFieldValueChars)
	}
	switch f.Type {
	case FieldString:
		return nil
	case FieldNumber:
		if _, err := strconv.ParseFloat(f.Value, 64); err != nil {
			return fmt.Errorf("%w: %q is not a number", ErrInvalidInput, f.Value)
		}
	case FieldBool:
		if _, err := strconv.ParseBool(f.Value); err != nil {
			return fmt.Errorf("%w: %q is not a bool", ErrInvalidInput, f.Value)
		}
	default:
		return fmt.Errorf("%w: unknown field type %q", ErrInvalidInput, f.Type)
	}
	return nil
}

// Number returns the value of a number field.
func (f Field) Number() (float64, bool) {
	if f.Type != FieldNumber {
		return 0, false
	}
	v, err := strconv.ParseFloat(f.Value, 64)
	return v, err == nil
}

// Bool returns the value of a bool field.
func (f Field) Bool() (bool, bool) {
	if f.Type != FieldBool {
		return false, false
	}
	v, err := strconv.ParseBool(f.Value)
	return v, err == nil
}

// SetField validates and stores a custom field.
func (p *Profile) SetField(key string, f Field) error {
	key = strings.TrimSpace(key)
	if key == "" || len(key) > maxFieldKeyChars {
		return fmt.Errorf("%w: field key must be 1-%d chars", ErrInvalidInput, maxFieldKeyChars)
	}
	if err := f.Validate(); err != nil {
		return fmt.Errorf("field %s: %w", key, err)
	}
	if p.CustomFields == nil {
		p.CustomFields = make(map[string]Field)
	}
	if _, exists := p.CustomFields[key]; !exists && len(p.CustomFields) >= maxCustomFields {
		return fmt.Errorf("%w: at most %d custom fields", ErrInvalidInput, maxCustomFields)
	}
	p.CustomFields[key] = f
	return nil
}
