package rowset

// FieldKind classifies a filterable field so advanced filters can compare
// values with the right semantics.
type FieldKind string

const (
	FieldString FieldKind = "string"
	FieldNumber FieldKind = "number"
	FieldDate   FieldKind = "date"
)

// Schema is the per-data-source metadata supplied by the schema service.
// FilterableFields is the allow-list for advanced filters; field names
// outside it are rejected rather than silently dropped.
type Schema struct {
	DataSourceID     int64
	PracticeField    string
	DateField        string
	FilterableFields map[string]FieldKind
}

// FilterableKind reports whether field may appear in an advanced filter and,
// if so, how its values compare.
func (s Schema) FilterableKind(field string) (FieldKind, bool) {
	kind, ok := s.FilterableFields[field]
	return kind, ok
}
