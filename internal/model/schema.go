package model

import (
	"fmt"
	"strings"
)

// ColumnType is the logical type of a column
type ColumnType string

const (
	TypeString   ColumnType = "string"
	TypeCategory ColumnType = "category"
	TypeInt      ColumnType = "int"
	TypeFloat    ColumnType = "float"
	TypeDatetime ColumnType = "datetime"
	TypePostal   ColumnType = "postal" // ZIP code, normalized to 5 characters
)

// ParseColumnType maps a config string onto a ColumnType
func ParseColumnType(s string) (ColumnType, error) {
	switch ColumnType(strings.ToLower(strings.TrimSpace(s))) {
	case "", TypeString:
		return TypeString, nil
	case TypeCategory:
		return TypeCategory, nil
	case TypeInt, "int64", "integer":
		return TypeInt, nil
	case TypeFloat, "float64", "double":
		return TypeFloat, nil
	case TypeDatetime, "date", "timestamp":
		return TypeDatetime, nil
	case TypePostal, "zip", "zipcode":
		return TypePostal, nil
	}
	return "", fmt.Errorf("unknown column type: %s", s)
}

// IsText reports whether values of this type are stored as strings
func (t ColumnType) IsText() bool {
	return t == TypeString || t == TypeCategory || t == TypePostal
}

// ColumnSpec describes how one input column is read
type ColumnSpec struct {
	Source   string     `json:"source" koanf:"source"`           // header in the input file
	Name     string     `json:"name" koanf:"name"`               // column name in the table
	Type     ColumnType `json:"type" koanf:"type"`               // logical type
	Layout   string     `json:"layout,omitempty" koanf:"layout"` // Go time layout for datetime columns
	NAValues []string   `json:"naValues,omitempty" koanf:"na_values"`
}
