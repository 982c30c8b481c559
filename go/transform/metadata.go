// Package transform converts persisted verification jobs into time-series
// lines.
//
// The metadata transformer flattens a job's nested metadata into tag and
// field tokens according to a mapping table. The job transformer drives the
// whole pipeline: timestamp resolution, metadata augmentation, measurement
// grouping, and line rendering.
package transform

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/lsst-sqre/squash-rest-api/go/lineformat"
	"github.com/lsst-sqre/squash-rest-api/go/mapping"
	"github.com/lsst-sqre/squash-rest-api/go/sklog"
)

// Metadata flattens job metadata into line protocol tag and field tokens.
type Metadata struct {
	table mapping.Table
}

// NewMetadata returns a Metadata transformer using the given mapping table.
func NewMetadata(table mapping.Table) *Metadata {
	return &Metadata{table: table}
}

// Process walks the metadata object depth-first and returns the rendered
// tag and field tokens. Nested objects are flattened without any path
// prefix, so identical key/value pairs at different depths collapse into
// one token. Both slices are deduplicated and sorted.
//
// A failing value transformation skips that key and logs; it never fails
// the whole job.
func (m *Metadata) Process(ctx context.Context, tc *mapping.Context, data map[string]interface{}) (tags, fields []string) {
	tagSet := map[string]bool{}
	fieldSet := map[string]bool{}
	m.process(ctx, tc, data, tagSet, fieldSet)

	tags = make([]string, 0, len(tagSet))
	for t := range tagSet {
		tags = append(tags, t)
	}
	sort.Strings(tags)

	fields = make([]string, 0, len(fieldSet))
	for f := range fieldSet {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return tags, fields
}

func (m *Metadata) process(ctx context.Context, tc *mapping.Context, data map[string]interface{}, tagSet, fieldSet map[string]bool) {
	for key, value := range data {
		if nested, ok := value.(map[string]interface{}); ok {
			m.process(ctx, tc, nested, tagSet, fieldSet)
			continue
		}
		entry := m.table.Lookup(key)
		if entry.Key == "" {
			continue
		}
		if entry.Transform != nil {
			transformed, err := entry.Transform(ctx, tc, value)
			if err != nil {
				sklog.Warningf("Skipping metadata key %q: %s", key, err)
				continue
			}
			value = transformed
		}
		switch entry.Schema {
		case mapping.Tag:
			tagSet[fmt.Sprintf("%s=%s", lineformat.Sanitize(entry.Key), lineformat.Sanitize(render(value)))] = true
		case mapping.Field:
			if s, ok := value.(string); ok {
				fieldSet[fmt.Sprintf("%s=%q", lineformat.Sanitize(entry.Key), s)] = true
			} else {
				fieldSet[fmt.Sprintf("%s=%s", lineformat.Sanitize(entry.Key), render(value))] = true
			}
		}
	}
}

// render returns the textual form of a metadata value. Floats keep a
// trailing ".0" when integral so the sink parses them consistently.
func render(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return lineformat.FormatFloat(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
