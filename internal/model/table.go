package model

import (
	"fmt"
	"time"
)

// GenericRecord is a schema-agnostic view of a single row
type GenericRecord map[string]interface{}

// Column holds the values of one column. A nil value is missing.
type Column struct {
	Name   string
	Type   ColumnType
	Values []interface{}
}

// NewColumn creates an empty column with room for n values
func NewColumn(name string, typ ColumnType, n int) *Column {
	return &Column{Name: name, Type: typ, Values: make([]interface{}, 0, n)}
}

// Len returns the number of values in the column
func (c *Column) Len() int {
	return len(c.Values)
}

// IsNull reports whether the value at row i is missing
func (c *Column) IsNull(i int) bool {
	return c.Values[i] == nil
}

// String returns the string value at row i
func (c *Column) String(i int) (string, bool) {
	s, ok := c.Values[i].(string)
	return s, ok
}

// Float returns the value at row i as float64. Integer values are widened.
func (c *Column) Float(i int) (float64, bool) {
	switch v := c.Values[i].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Time returns the datetime value at row i
func (c *Column) Time(i int) (time.Time, bool) {
	t, ok := c.Values[i].(time.Time)
	return t, ok
}

// Table is an in-memory, column-oriented dataset with a fixed schema.
type Table struct {
	columns []*Column
	index   map[string]int
	rows    int
}

// NewTable builds a table from columns of equal length.
func NewTable(columns ...*Column) (*Table, error) {
	t := &Table{index: make(map[string]int, len(columns))}
	for i, c := range columns {
		if i == 0 {
			t.rows = c.Len()
		}
		if err := t.AddColumn(c); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// AddColumn appends a column. Its length must match the table.
func (t *Table) AddColumn(c *Column) error {
	if _, exists := t.index[c.Name]; exists {
		return fmt.Errorf("duplicate column: %s", c.Name)
	}
	if len(t.columns) > 0 && c.Len() != t.rows {
		return fmt.Errorf("column %s has %d rows, table has %d", c.Name, c.Len(), t.rows)
	}
	if len(t.columns) == 0 {
		t.rows = c.Len()
	}
	t.index[c.Name] = len(t.columns)
	t.columns = append(t.columns, c)
	return nil
}

// Column returns the named column, or nil if absent.
func (t *Table) Column(name string) *Column {
	i, ok := t.index[name]
	if !ok {
		return nil
	}
	return t.columns[i]
}

// Columns returns the columns in order.
func (t *Table) Columns() []*Column {
	return t.columns
}

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

// NumRows returns the row count.
func (t *Table) NumRows() int {
	return t.rows
}

// Schema describes the table's columns.
func (t *Table) Schema() []ColumnSpec {
	specs := make([]ColumnSpec, len(t.columns))
	for i, c := range t.columns {
		specs[i] = ColumnSpec{Name: c.Name, Type: c.Type}
	}
	return specs
}

// Row returns row i as a record keyed by column name.
func (t *Table) Row(i int) GenericRecord {
	rec := make(GenericRecord, len(t.columns))
	for _, c := range t.columns {
		rec[c.Name] = c.Values[i]
	}
	return rec
}

// Head returns up to n rows.
func (t *Table) Head(n int) []GenericRecord {
	if n > t.rows {
		n = t.rows
	}
	out := make([]GenericRecord, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, t.Row(i))
	}
	return out
}

// NullCount returns the number of missing values in the named column.
func (t *Table) NullCount(name string) int {
	c := t.Column(name)
	if c == nil {
		return 0
	}
	n := 0
	for _, v := range c.Values {
		if v == nil {
			n++
		}
	}
	return n
}
