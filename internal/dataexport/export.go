package dataexport

import (
	"fmt"
	"time"
)

// PayloadKind tags the shape a PluginDataExport carries (spec §3.5).
type PayloadKind int

const (
	PayloadTabular PayloadKind = iota
	PayloadHierarchical
	PayloadKeyValue
	PayloadRaw
)

// TabularPayload is rows conforming to a DataSchema.
type TabularPayload struct {
	Schema DataSchema
	Rows   []Row
}

// HierarchicalPayload is a forest of TreeNodes.
type HierarchicalPayload struct {
	Roots []TreeNode
}

// KeyValuePayload is a flat string-keyed map of Values.
type KeyValuePayload struct {
	Entries map[string]Value
}

// RawPayload is an opaque byte or string blob with an optional content
// type (spec §3.5).
type RawPayload struct {
	Bytes       []byte
	ContentType string
}

// Hints carries formatter suggestions a consumer may use when
// rendering the export (spec §3.5). None of these are obligations.
type Hints struct {
	PreferredFormat ExportFormat
	ColumnWidths    map[string]int
}

// ExportFormat names a concrete serialization an (out-of-scope) output
// plugin might choose for a PluginDataExport.
type ExportFormat int

const (
	FormatUnspecified ExportFormat = iota
	FormatJSON
	FormatCSV
	FormatTable
	FormatNDJSON
)

// FileExtension returns the canonical file extension for f, or "" for
// FormatUnspecified.
func (f ExportFormat) FileExtension() string {
	switch f {
	case FormatJSON:
		return ".json"
	case FormatCSV:
		return ".csv"
	case FormatTable:
		return ".txt"
	case FormatNDJSON:
		return ".ndjson"
	default:
		return ""
	}
}

// MIMEType returns the canonical MIME type for f.
func (f ExportFormat) MIMEType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatCSV:
		return "text/csv"
	case FormatTable:
		return "text/plain"
	case FormatNDJSON:
		return "application/x-ndjson"
	default:
		return "application/octet-stream"
	}
}

// PluginDataExport is the reference-shared value a plugin publishes on
// DataReady (spec §3.5). Fields are unexported and no method of
// PluginDataExport changes them once Build() returns one. Metadata()
// and the payload accessors return the underlying map and payload
// pointers, not copies, so a write through them changes the shared
// export. Multiple subscribers may hold the same *PluginDataExport
// pointer concurrently without synchronization as long as none of
// them writes through those accessors.
type PluginDataExport struct {
	pluginID  string
	scanID    string
	timestamp time.Time

	kind        PayloadKind
	tabular     *TabularPayload
	hierarchical *HierarchicalPayload
	keyValue    *KeyValuePayload
	raw         *RawPayload

	hints    Hints
	metadata map[string]string
}

func (e *PluginDataExport) PluginID() string            { return e.pluginID }
func (e *PluginDataExport) ScanID() string               { return e.scanID }
func (e *PluginDataExport) Timestamp() time.Time          { return e.timestamp }
func (e *PluginDataExport) Kind() PayloadKind             { return e.kind }
func (e *PluginDataExport) Hints() Hints                  { return e.hints }
func (e *PluginDataExport) Metadata() map[string]string   { return e.metadata }
func (e *PluginDataExport) Tabular() (*TabularPayload, bool) {
	return e.tabular, e.kind == PayloadTabular
}
func (e *PluginDataExport) Hierarchical() (*HierarchicalPayload, bool) {
	return e.hierarchical, e.kind == PayloadHierarchical
}
func (e *PluginDataExport) KeyValue() (*KeyValuePayload, bool) {
	return e.keyValue, e.kind == PayloadKeyValue
}
func (e *PluginDataExport) Raw() (*RawPayload, bool) {
	return e.raw, e.kind == PayloadRaw
}

// builder is the shared state every payload-specific builder embeds.
type builder struct {
	pluginID string
	scanID   string
	hints    Hints
	metadata map[string]string
}

func newBuilder(pluginID, scanID string) builder {
	return builder{pluginID: pluginID, scanID: scanID, metadata: make(map[string]string)}
}

// WithHints and WithMetadata are shared across all builder kinds via
// embedding; each concrete builder re-exposes them with its own
// receiver type so the fluent chain stays typed (e.g.
// *TabularBuilder.WithHints returns *TabularBuilder, not *builder).

func (b *builder) setHints(h Hints)            { b.hints = h }
func (b *builder) setMetadata(k, v string)     { b.metadata[k] = v }

func (b builder) validateCommon() error {
	if b.pluginID == "" {
		return fmt.Errorf("dataexport: plugin_id must not be empty")
	}
	if b.scanID == "" {
		return fmt.Errorf("dataexport: scan_id must not be empty")
	}
	return nil
}

func (b builder) finish(kind PayloadKind) *PluginDataExport {
	return &PluginDataExport{
		pluginID:  b.pluginID,
		scanID:    b.scanID,
		timestamp: time.Now(),
		kind:      kind,
		hints:     b.hints,
		metadata:  b.metadata,
	}
}

// TabularBuilder builds a Tabular PluginDataExport, validating every row
// against the declared schema at Build().
type TabularBuilder struct {
	builder
	schema DataSchema
	rows   []Row
}

// NewTabularBuilder starts building a Tabular export.
func NewTabularBuilder(pluginID, scanID string, schema DataSchema) *TabularBuilder {
	return &TabularBuilder{builder: newBuilder(pluginID, scanID), schema: schema}
}

// AddRow appends a row; schema validation happens at Build().
func (b *TabularBuilder) AddRow(r Row) *TabularBuilder {
	b.rows = append(b.rows, r)
	return b
}

func (b *TabularBuilder) WithHints(h Hints) *TabularBuilder { b.setHints(h); return b }
func (b *TabularBuilder) WithMetadata(k, v string) *TabularBuilder {
	b.setMetadata(k, v)
	return b
}

// Build validates every row's value count and kinds against the schema
// and returns the immutable export.
func (b *TabularBuilder) Build() (*PluginDataExport, error) {
	if err := b.validateCommon(); err != nil {
		return nil, err
	}
	for i, row := range b.rows {
		if len(row.Values) != len(b.schema.Columns) {
			return nil, fmt.Errorf("dataexport: row %d has %d values, want %d per schema", i, len(row.Values), len(b.schema.Columns))
		}
		for j, col := range b.schema.Columns {
			v := row.Values[j]
			if v.Kind == ValueNull {
				if !col.Nullable {
					return nil, fmt.Errorf("dataexport: row %d column %q is null but not nullable", i, col.Name)
				}
				continue
			}
			if !valueKindMatchesColumn(v.Kind, col.Type) {
				return nil, fmt.Errorf("dataexport: row %d column %q value kind %v does not match column type %v", i, col.Name, v.Kind, col.Type)
			}
		}
	}
	export := b.finish(PayloadTabular)
	export.tabular = &TabularPayload{Schema: b.schema, Rows: b.rows}
	return export, nil
}

func valueKindMatchesColumn(v ValueKind, c ColumnType) bool {
	switch c {
	case ColumnString:
		return v == ValueString
	case ColumnInteger:
		return v == ValueInteger
	case ColumnFloat:
		return v == ValueFloat
	case ColumnBoolean:
		return v == ValueBoolean
	case ColumnTimestamp:
		return v == ValueTimestamp
	case ColumnDuration:
		return v == ValueDuration
	default:
		return false
	}
}

// HierarchicalBuilder builds a Hierarchical PluginDataExport.
type HierarchicalBuilder struct {
	builder
	roots []TreeNode
}

func NewHierarchicalBuilder(pluginID, scanID string) *HierarchicalBuilder {
	return &HierarchicalBuilder{builder: newBuilder(pluginID, scanID)}
}

func (b *HierarchicalBuilder) AddRoot(n TreeNode) *HierarchicalBuilder {
	b.roots = append(b.roots, n)
	return b
}

func (b *HierarchicalBuilder) WithHints(h Hints) *HierarchicalBuilder { b.setHints(h); return b }
func (b *HierarchicalBuilder) WithMetadata(k, v string) *HierarchicalBuilder {
	b.setMetadata(k, v)
	return b
}

func (b *HierarchicalBuilder) Build() (*PluginDataExport, error) {
	if err := b.validateCommon(); err != nil {
		return nil, err
	}
	if len(b.roots) == 0 {
		return nil, fmt.Errorf("dataexport: hierarchical export must have at least one root")
	}
	export := b.finish(PayloadHierarchical)
	export.hierarchical = &HierarchicalPayload{Roots: b.roots}
	return export, nil
}

// KeyValueBuilder builds a KeyValue PluginDataExport.
type KeyValueBuilder struct {
	builder
	entries map[string]Value
}

func NewKeyValueBuilder(pluginID, scanID string) *KeyValueBuilder {
	return &KeyValueBuilder{builder: newBuilder(pluginID, scanID), entries: make(map[string]Value)}
}

func (b *KeyValueBuilder) Set(key string, v Value) *KeyValueBuilder {
	b.entries[key] = v
	return b
}

func (b *KeyValueBuilder) WithHints(h Hints) *KeyValueBuilder { b.setHints(h); return b }
func (b *KeyValueBuilder) WithMetadata(k, v string) *KeyValueBuilder {
	b.setMetadata(k, v)
	return b
}

func (b *KeyValueBuilder) Build() (*PluginDataExport, error) {
	if err := b.validateCommon(); err != nil {
		return nil, err
	}
	if len(b.entries) == 0 {
		return nil, fmt.Errorf("dataexport: key_value export must have at least one entry")
	}
	export := b.finish(PayloadKeyValue)
	export.keyValue = &KeyValuePayload{Entries: b.entries}
	return export, nil
}

// RawBuilder builds a Raw PluginDataExport.
type RawBuilder struct {
	builder
	payload RawPayload
}

func NewRawBuilder(pluginID, scanID string, data []byte, contentType string) *RawBuilder {
	return &RawBuilder{builder: newBuilder(pluginID, scanID), payload: RawPayload{Bytes: data, ContentType: contentType}}
}

func (b *RawBuilder) WithHints(h Hints) *RawBuilder { b.setHints(h); return b }
func (b *RawBuilder) WithMetadata(k, v string) *RawBuilder {
	b.setMetadata(k, v)
	return b
}

func (b *RawBuilder) Build() (*PluginDataExport, error) {
	if err := b.validateCommon(); err != nil {
		return nil, err
	}
	if len(b.payload.Bytes) == 0 {
		return nil, fmt.Errorf("dataexport: raw export must not be empty")
	}
	export := b.finish(PayloadRaw)
	raw := b.payload
	export.raw = &raw
	return export, nil
}
