package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/praxisbi/dscache/internal/rowset"
)

// DataSourceDefinition describes one cacheable data source as declared in
// the definitions document. The host application owns the document; the
// engine only needs the schema-shaped parts.
type DataSourceDefinition struct {
	ID               int64             `koanf:"id"`
	Name             string            `koanf:"name"`
	PracticeField    string            `koanf:"practiceField"`
	DateField        string            `koanf:"dateField"`
	FilterableFields map[string]string `koanf:"filterableFields"`
}

// Schema converts the definition into the engine's schema type. Unknown
// field kinds fall back to string comparison.
func (d DataSourceDefinition) Schema() rowset.Schema {
	fields := make(map[string]rowset.FieldKind, len(d.FilterableFields))
	for name, kind := range d.FilterableFields {
		switch strings.TrimSpace(strings.ToLower(kind)) {
		case "number":
			fields[name] = rowset.FieldNumber
		case "date":
			fields[name] = rowset.FieldDate
		default:
			fields[name] = rowset.FieldString
		}
	}
	return rowset.Schema{
		DataSourceID:     d.ID,
		PracticeField:    d.PracticeField,
		DateField:        d.DateField,
		FilterableFields: fields,
	}
}

// LoadDefinitions parses the data-source definitions document. Definitions
// with a non-positive id are rejected so downstream key building never
// panics on configured input.
func LoadDefinitions(path string) ([]DataSourceDefinition, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("config: load definitions %s: %w", path, err)
	}
	var doc struct {
		DataSources []DataSourceDefinition `koanf:"dataSources"`
	}
	if err := k.Unmarshal("", &doc); err != nil {
		return nil, fmt.Errorf("config: unmarshal definitions %s: %w", path, err)
	}
	seen := make(map[int64]struct{}, len(doc.DataSources))
	for i, def := range doc.DataSources {
		if def.ID <= 0 {
			return nil, fmt.Errorf("config: definitions %s: dataSources[%d] id invalid: %d", path, i, def.ID)
		}
		if _, dup := seen[def.ID]; dup {
			return nil, fmt.Errorf("config: definitions %s: duplicate data source id %d", path, def.ID)
		}
		seen[def.ID] = struct{}{}
	}
	return doc.DataSources, nil
}
