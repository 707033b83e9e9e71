// Package dataexport implements the immutable, reference-shared export
// value a plugin publishes on the bus when it finishes processing a
// scan (spec §3.5, §4.3). Values are built through validating builders
// and become read-only once Build() succeeds.
package dataexport

import "time"

// ValueKind tags the variant a Value carries (spec §3.5's unified
// Value sum: String | Integer | Float | Boolean | Timestamp | Duration
// | Null).
type ValueKind int

const (
	ValueString ValueKind = iota
	ValueInteger
	ValueFloat
	ValueBoolean
	ValueTimestamp
	ValueDuration
	ValueNull
)

// Value is a closed sum type over the scalar kinds a Row or TreeNode
// can carry. Exactly one of the typed fields is meaningful for a given
// Kind; Null carries none.
type Value struct {
	Kind  ValueKind
	Str   string
	Int   int64
	Float float64
	Bool  bool
	Time  time.Time
	Dur   time.Duration
}

func NewStringValue(s string) Value     { return Value{Kind: ValueString, Str: s} }
func NewIntegerValue(i int64) Value     { return Value{Kind: ValueInteger, Int: i} }
func NewFloatValue(f float64) Value     { return Value{Kind: ValueFloat, Float: f} }
func NewBooleanValue(b bool) Value      { return Value{Kind: ValueBoolean, Bool: b} }
func NewTimestampValue(t time.Time) Value { return Value{Kind: ValueTimestamp, Time: t} }
func NewDurationValue(d time.Duration) Value { return Value{Kind: ValueDuration, Dur: d} }
func NewNullValue() Value               { return Value{Kind: ValueNull} }

// Row is one record of a Tabular payload (spec §3.5).
type Row struct {
	Values []Value
}

// TreeNode is one node of a Hierarchical payload (spec §3.5).
type TreeNode struct {
	Key      string
	Value    Value
	Children []TreeNode
	Metadata map[string]string
}

// ColumnType names the declared type of a DataSchema column.
type ColumnType int

const (
	ColumnString ColumnType = iota
	ColumnInteger
	ColumnFloat
	ColumnBoolean
	ColumnTimestamp
	ColumnDuration
)

// Column describes one column of a DataSchema (spec §3.5).
type Column struct {
	Name         string
	Type         ColumnType
	Nullable     bool
	Description  string
	HasDefault   bool
	DefaultValue Value
}

// DataSchema names the columns of a Tabular payload.
type DataSchema struct {
	Columns []Column
}
