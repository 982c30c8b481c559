// Package config contains the configuration for a single running instance
// of the verification service.
package config

import (
	"encoding/json"
	"os"

	"github.com/lsst-sqre/squash-rest-api/go/skerr"
)

// DataStoreConfig describes the SQL database that stores jobs, metrics,
// and task statuses.
type DataStoreConfig struct {
	// ConnectionString is a connection URL understood by pgx, for example
	// "postgresql://root@localhost:26257/squash?sslmode=disable".
	ConnectionString string `json:"connection_string"`

	// MigrationsConnectionString is the same database expressed the way
	// golang-migrate expects it, for example
	// "cockroachdb://root@localhost:26257/squash?sslmode=disable".
	MigrationsConnectionString string `json:"migrations_connection_string"`
}

// ObjectStoreConfig describes the bucket that stores data blobs and job
// documents.
type ObjectStoreConfig struct {
	// Bucket is the name of the bucket, with no gs:// prefix.
	Bucket string `json:"bucket"`
}

// TaskQueueConfig describes the Pub/Sub project and topic used to
// dispatch upload and publish tasks.
type TaskQueueConfig struct {
	Project string `json:"project"`
	Topic   string `json:"topic"`
}

// SinkConfig describes the time series database that published
// measurements are written to.
type SinkConfig struct {
	// URL is the base URL of the write endpoint, for example
	// "https://influxdb.example.com".
	URL string `json:"url"`

	// Database is the name of the database to write lines into. It is
	// created at startup if it does not exist.
	Database string `json:"database"`
}

// InstanceConfig is the full configuration of a running instance, read
// from a JSON file given on the command line.
type InstanceConfig struct {
	// APIURL is the externally visible base URL of this service, used to
	// build links embedded in published measurements.
	APIURL string `json:"api_url"`

	DataStoreConfig   DataStoreConfig   `json:"data_store_config"`
	ObjectStoreConfig ObjectStoreConfig `json:"object_store_config"`
	TaskQueueConfig   TaskQueueConfig   `json:"task_queue_config"`
	SinkConfig        SinkConfig        `json:"sink_config"`
}

// Validate returns an error if the config is missing required values.
func (c *InstanceConfig) Validate() error {
	if c.APIURL == "" {
		return skerr.Fmt("api_url must be supplied")
	}
	if c.DataStoreConfig.ConnectionString == "" {
		return skerr.Fmt("data_store_config.connection_string must be supplied")
	}
	if c.ObjectStoreConfig.Bucket == "" {
		return skerr.Fmt("object_store_config.bucket must be supplied")
	}
	if c.TaskQueueConfig.Project == "" || c.TaskQueueConfig.Topic == "" {
		return skerr.Fmt("task_queue_config.project and task_queue_config.topic must be supplied")
	}
	if c.SinkConfig.URL == "" || c.SinkConfig.Database == "" {
		return skerr.Fmt("sink_config.url and sink_config.database must be supplied")
	}
	return nil
}

// InstanceConfigFromFile returns the deserialized JSON of an
// InstanceConfig found in filename.
func InstanceConfigFromFile(filename string) (*InstanceConfig, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, skerr.Wrapf(err, "failed to read config file %q", filename)
	}
	var instanceConfig InstanceConfig
	if err := json.Unmarshal(b, &instanceConfig); err != nil {
		return nil, skerr.Wrapf(err, "failed to parse config file %q", filename)
	}
	if err := instanceConfig.Validate(); err != nil {
		return nil, skerr.Wrapf(err, "invalid config file %q", filename)
	}
	return &instanceConfig, nil
}
