// Package metric defines the metric catalog and its Store interface.
//
// Metrics are registered ahead of time; measurements submitted with jobs
// must reference a registered metric by its fully qualified name, e.g.
// "validate_drp.AM1". Specifications describe pass/fail thresholds for
// a metric.
package metric

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned by Store lookups when no metric or specification
// matches.
var ErrNotFound = errors.New("metric not found")

// ErrAlreadyExists is returned by Store inserts when the name is taken.
// Metric names are unique.
var ErrAlreadyExists = errors.New("metric already exists")

// Metric describes one verification metric.
type Metric struct {
	ID int64 `json:"-"`
	// Name is the fully qualified name including the package name.
	Name string `json:"name"`
	// Package is the verification package that defines the metric.
	Package string `json:"package"`
	// DisplayName is the short name without the package prefix.
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	// Unit is the string representation of an astropy unit. Empty means a
	// unitless quantity.
	Unit string `json:"unit"`
	// Tags group related metrics.
	Tags []string `json:"tags"`
	// Reference points at the document that defines the metric, usually
	// with a doc handle, url and page number.
	Reference map[string]interface{} `json:"reference"`
}

// Specification describes a threshold a metric's measurements are tested
// against.
type Specification struct {
	ID int64 `json:"-"`
	// Name is the fully qualified specification name, e.g.
	// "validate_drp.AM1.minimum_gri".
	Name string `json:"name"`
	// MetricName is the fully qualified name of the metric this
	// specification applies to.
	MetricName string `json:"metric"`
	// Threshold usually has operator, value and unit keys.
	Threshold map[string]interface{} `json:"threshold"`
	Tags      []string               `json:"tags"`
	// MetadataQuery restricts which jobs the specification applies to,
	// tested against job metadata.
	MetadataQuery map[string]interface{} `json:"metadata_query"`
	Type          string                 `json:"type,omitempty"`
}

// SplitName splits a fully qualified metric name into its package and
// display name. Returns false if the name has no package prefix.
func SplitName(name string) (pkg, displayName string, ok bool) {
	i := strings.Index(name, ".")
	if i <= 0 || i == len(name)-1 {
		return "", "", false
	}
	return name[:i], name[i+1:], true
}

// Store persists the metric catalog.
type Store interface {
	// Insert registers the given metrics. Fails with ErrAlreadyExists if
	// any name is already registered; no metrics are written in that case.
	Insert(ctx context.Context, metrics []Metric) error

	// Get returns the metric with the given fully qualified name, or
	// ErrNotFound.
	Get(ctx context.Context, name string) (*Metric, error)

	// List returns all registered metrics, ordered by name.
	List(ctx context.Context) ([]Metric, error)

	// InsertSpecifications registers the given specifications. Each must
	// reference a registered metric.
	InsertSpecifications(ctx context.Context, specs []Specification) error

	// ListSpecifications returns all specifications, ordered by name,
	// optionally filtered to one metric.
	ListSpecifications(ctx context.Context, metricName string) ([]Specification, error)
}
