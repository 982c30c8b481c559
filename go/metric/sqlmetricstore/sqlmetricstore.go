// Package sqlmetricstore implements metric.Store using an SQL database.
//
// Please see sql/migrations for the database schema used.
package sqlmetricstore

import (
	"context"
	"encoding/json"
	"errors"

	lru "github.com/hashicorp/golang-lru"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/lsst-sqre/squash-rest-api/go/metric"
	"github.com/lsst-sqre/squash-rest-api/go/skerr"
)

// cacheSize covers the full metric catalog of a typical deployment.
const cacheSize = 1000

// uniqueViolation is the SQLSTATE code for unique constraint violations.
const uniqueViolation = "23505"

// statement is an SQL statement identifier.
type statement int

const (
	// The identifiers for all the SQL statements used.
	insertMetric statement = iota
	getMetric
	getMetricID
	listMetrics
	insertSpec
	listSpecs
	listSpecsForMetric
)

// statements holds all the raw SQL statements.
var statements = map[statement]string{
	insertMetric: `
		INSERT INTO
			Metrics (name, package, display_name, description, unit, tags, reference)
		VALUES
			($1, $2, $3, $4, $5, $6, $7)`,
	getMetric: `
		SELECT
			id, name, package, display_name, description, unit, tags, reference
		FROM
			Metrics
		WHERE
			name=$1`,
	getMetricID: `
		SELECT
			id
		FROM
			Metrics
		WHERE
			name=$1`,
	listMetrics: `
		SELECT
			id, name, package, display_name, description, unit, tags, reference
		FROM
			Metrics
		ORDER BY
			name`,
	insertSpec: `
		INSERT INTO
			Specs (name, metric_id, threshold, tags, metadata_query, type)
		VALUES
			($1, $2, $3, $4, $5, $6)`,
	listSpecs: `
		SELECT
			Specs.id, Specs.name, Metrics.name, Specs.threshold, Specs.tags, Specs.metadata_query, Specs.type
		FROM
			Specs
		JOIN
			Metrics ON Metrics.id = Specs.metric_id
		ORDER BY
			Specs.name`,
	listSpecsForMetric: `
		SELECT
			Specs.id, Specs.name, Metrics.name, Specs.threshold, Specs.tags, Specs.metadata_query, Specs.type
		FROM
			Specs
		JOIN
			Metrics ON Metrics.id = Specs.metric_id
		WHERE
			Metrics.name=$1
		ORDER BY
			Specs.name`,
}

// SQLMetricStore implements the metric.Store interface using an SQL
// database. Lookups by name are cached, the catalog is small and changes
// rarely.
type SQLMetricStore struct {
	db    *pgxpool.Pool
	cache *lru.Cache
}

// New returns a new *SQLMetricStore.
//
// We presume all migrations have been run against db before this function is
// called.
func New(db *pgxpool.Pool) (*SQLMetricStore, error) {
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	return &SQLMetricStore{
		db:    db,
		cache: cache,
	}, nil
}

// Insert implements the metric.Store interface.
func (s *SQLMetricStore) Insert(ctx context.Context, metrics []metric.Metric) error {
	err := s.db.BeginFunc(ctx, func(tx pgx.Tx) error {
		for _, m := range metrics {
			pkg := m.Package
			displayName := m.DisplayName
			if pkg == "" || displayName == "" {
				split1, split2, ok := metric.SplitName(m.Name)
				if !ok {
					return skerr.Fmt("Metric name %q is not fully qualified, e.g. validate_drp.AM1", m.Name)
				}
				pkg, displayName = split1, split2
			}
			tags, err := json.Marshal(m.Tags)
			if err != nil {
				return skerr.Wrap(err)
			}
			reference, err := json.Marshal(m.Reference)
			if err != nil {
				return skerr.Wrap(err)
			}
			if _, err := tx.Exec(ctx, statements[insertMetric], m.Name, pkg, displayName, m.Description, m.Unit, tags, reference); err != nil {
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
					return metric.ErrAlreadyExists
				}
				return skerr.Wrapf(err, "Failed to insert metric %q", m.Name)
			}
		}
		return nil
	})
	return err
}

// Get implements the metric.Store interface.
func (s *SQLMetricStore) Get(ctx context.Context, name string) (*metric.Metric, error) {
	if cached, ok := s.cache.Get(name); ok {
		m := cached.(metric.Metric)
		return &m, nil
	}
	m, err := scanMetric(s.db.QueryRow(ctx, statements[getMetric], name))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, metric.ErrNotFound
		}
		return nil, skerr.Wrapf(err, "Failed to load metric %q", name)
	}
	s.cache.Add(name, *m)
	return m, nil
}

// List implements the metric.Store interface.
func (s *SQLMetricStore) List(ctx context.Context) ([]metric.Metric, error) {
	rows, err := s.db.Query(ctx, statements[listMetrics])
	if err != nil {
		return nil, skerr.Wrapf(err, "Failed to list metrics")
	}
	defer rows.Close()

	ret := []metric.Metric{}
	for rows.Next() {
		m, err := scanMetric(rows)
		if err != nil {
			return nil, skerr.Wrap(err)
		}
		ret = append(ret, *m)
	}
	return ret, rows.Err()
}

// InsertSpecifications implements the metric.Store interface.
func (s *SQLMetricStore) InsertSpecifications(ctx context.Context, specs []metric.Specification) error {
	return s.db.BeginFunc(ctx, func(tx pgx.Tx) error {
		for _, spec := range specs {
			var metricID int64
			if err := tx.QueryRow(ctx, statements[getMetricID], spec.MetricName).Scan(&metricID); err != nil {
				if err == pgx.ErrNoRows {
					return metric.ErrNotFound
				}
				return skerr.Wrapf(err, "Failed to look up metric %q", spec.MetricName)
			}
			threshold, err := json.Marshal(spec.Threshold)
			if err != nil {
				return skerr.Wrap(err)
			}
			tags, err := json.Marshal(spec.Tags)
			if err != nil {
				return skerr.Wrap(err)
			}
			metadataQuery, err := json.Marshal(spec.MetadataQuery)
			if err != nil {
				return skerr.Wrap(err)
			}
			if _, err := tx.Exec(ctx, statements[insertSpec], spec.Name, metricID, threshold, tags, metadataQuery, spec.Type); err != nil {
				return skerr.Wrapf(err, "Failed to insert specification %q", spec.Name)
			}
		}
		return nil
	})
}

// ListSpecifications implements the metric.Store interface.
func (s *SQLMetricStore) ListSpecifications(ctx context.Context, metricName string) ([]metric.Specification, error) {
	var rows pgx.Rows
	var err error
	if metricName == "" {
		rows, err = s.db.Query(ctx, statements[listSpecs])
	} else {
		rows, err = s.db.Query(ctx, statements[listSpecsForMetric], metricName)
	}
	if err != nil {
		return nil, skerr.Wrapf(err, "Failed to list specifications")
	}
	defer rows.Close()

	ret := []metric.Specification{}
	for rows.Next() {
		var spec metric.Specification
		var threshold, tags, metadataQuery []byte
		var specType *string
		if err := rows.Scan(&spec.ID, &spec.Name, &spec.MetricName, &threshold, &tags, &metadataQuery, &specType); err != nil {
			return nil, skerr.Wrap(err)
		}
		if specType != nil {
			spec.Type = *specType
		}
		if err := decodeJSON(threshold, &spec.Threshold); err != nil {
			return nil, skerr.Wrap(err)
		}
		if err := decodeJSON(tags, &spec.Tags); err != nil {
			return nil, skerr.Wrap(err)
		}
		if err := decodeJSON(metadataQuery, &spec.MetadataQuery); err != nil {
			return nil, skerr.Wrap(err)
		}
		ret = append(ret, spec)
	}
	return ret, rows.Err()
}

func scanMetric(row pgx.Row) (*metric.Metric, error) {
	var m metric.Metric
	var tags, reference []byte
	if err := row.Scan(&m.ID, &m.Name, &m.Package, &m.DisplayName, &m.Description, &m.Unit, &tags, &reference); err != nil {
		return nil, err
	}
	if err := decodeJSON(tags, &m.Tags); err != nil {
		return nil, err
	}
	if err := decodeJSON(reference, &m.Reference); err != nil {
		return nil, err
	}
	return &m, nil
}

func decodeJSON(b []byte, into interface{}) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, into)
}

// Confirm SQLMetricStore implements metric.Store.
var _ metric.Store = (*SQLMetricStore)(nil)
