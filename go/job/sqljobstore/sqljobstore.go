// Package sqljobstore implements job.Store using an SQL database.
//
// Please see sql/migrations for the database schema used.
package sqljobstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/lsst-sqre/squash-rest-api/go/job"
	"github.com/lsst-sqre/squash-rest-api/go/skerr"
)

// statement is an SQL statement identifier.
type statement int

const (
	// The identifiers for all the SQL statements used.
	getEnvByName statement = iota
	insertEnv
	insertJob
	insertPackage
	getMetricByName
	insertMeasurement
	insertBlob
	linkMeasurementBlob
	getJob
	getPackages
	getMeasurements
	getMeasurementBlobs
	deleteJob
	findJenkinsRun
	previousJenkinsRun
	setBlobURI
	setJobURI
)

// statements holds all the raw SQL statements.
var statements = map[statement]string{
	getEnvByName: `
		SELECT
			id
		FROM
			Envs
		WHERE
			name=$1`,
	insertEnv: `
		INSERT INTO
			Envs (name, display_name)
		VALUES
			($1, $2)
		RETURNING
			id`,
	insertJob: `
		INSERT INTO
			Jobs (env_id, ci_dataset, date_created, env, meta)
		VALUES
			($1, $2, $3, $4, $5)
		RETURNING
			id`,
	insertPackage: `
		INSERT INTO
			Packages (job_id, name, git_sha, git_url, git_branch, eups_version)
		VALUES
			($1, $2, $3, $4, $5, $6)`,
	getMetricByName: `
		SELECT
			id
		FROM
			Metrics
		WHERE
			name=$1`,
	insertMeasurement: `
		INSERT INTO
			Measurements (job_id, metric_id, metric_name, value, unit)
		VALUES
			($1, $2, $3, $4, $5)
		RETURNING
			id`,
	insertBlob: `
		INSERT INTO
			Blobs (identifier, name)
		VALUES
			($1, $2)
		RETURNING
			id`,
	linkMeasurementBlob: `
		INSERT INTO
			MeasurementBlobs (measurement_id, blob_id)
		VALUES
			($1, $2)
		ON CONFLICT
		DO NOTHING`,
	getJob: `
		SELECT
			id, ci_dataset, date_created, env, meta, s3_uri
		FROM
			Jobs
		WHERE
			id=$1`,
	getPackages: `
		SELECT
			name, git_sha, git_url, git_branch, eups_version
		FROM
			Packages
		WHERE
			job_id=$1
		ORDER BY
			name`,
	getMeasurements: `
		SELECT
			id, metric_name, value, unit
		FROM
			Measurements
		WHERE
			job_id=$1
		ORDER BY
			id`,
	getMeasurementBlobs: `
		SELECT
			Blobs.identifier, Blobs.name, Blobs.s3_uri
		FROM
			MeasurementBlobs
		JOIN
			Blobs ON Blobs.id = MeasurementBlobs.blob_id
		WHERE
			MeasurementBlobs.measurement_id=$1
		ORDER BY
			Blobs.identifier`,
	deleteJob: `
		DELETE FROM
			Jobs
		WHERE
			id=$1`,
	findJenkinsRun: `
		SELECT
			Jobs.id
		FROM
			Jobs
		JOIN
			Envs ON Envs.id = Jobs.env_id
		WHERE
			Envs.name='jenkins'
			AND Jobs.env->>'ci_id'=$1
			AND Jobs.env->>'ci_name'=$2
		ORDER BY
			Jobs.date_created DESC
		LIMIT 1`,
	previousJenkinsRun: `
		SELECT
			Jobs.id
		FROM
			Jobs
		JOIN
			Envs ON Envs.id = Jobs.env_id
		WHERE
			Envs.name='jenkins'
			AND Jobs.env->>'ci_id'!=$1
			AND Jobs.env->>'ci_name'=$2
			AND Jobs.date_created<$3
		ORDER BY
			Jobs.date_created DESC
		LIMIT 1`,
	setBlobURI: `
		UPDATE
			Blobs
		SET
			s3_uri=$2
		WHERE
			identifier=$1`,
	setJobURI: `
		UPDATE
			Jobs
		SET
			s3_uri=$2
		WHERE
			id=$1`,
}

// SQLJobStore implements the job.Store interface using an SQL database.
type SQLJobStore struct {
	db *pgxpool.Pool
}

// New returns a new *SQLJobStore.
//
// We presume all migrations have been run against db before this function is
// called.
func New(db *pgxpool.Pool) (*SQLJobStore, error) {
	return &SQLJobStore{
		db: db,
	}, nil
}

// Create implements the job.Store interface. The env row, the job, its
// packages, measurements, blobs and cross-links are written in a single
// transaction.
func (s *SQLJobStore) Create(ctx context.Context, req *job.CreateRequest) (int64, error) {
	var jobID int64
	err := s.db.BeginFunc(ctx, func(tx pgx.Tx) error {
		envID, err := getOrCreateEnv(ctx, tx, req.EnvName)
		if err != nil {
			return err
		}

		envJSON, err := json.Marshal(req.Env)
		if err != nil {
			return skerr.Wrapf(err, "Failed to encode env")
		}
		metaJSON, err := json.Marshal(req.Meta)
		if err != nil {
			return skerr.Wrapf(err, "Failed to encode meta")
		}
		if err := tx.QueryRow(ctx, statements[insertJob], envID, req.CiDataset, req.DateCreated.UTC(), envJSON, metaJSON).Scan(&jobID); err != nil {
			return skerr.Wrapf(err, "Failed to insert job")
		}

		for _, pkg := range req.Packages {
			if _, err := tx.Exec(ctx, statements[insertPackage], jobID, pkg.Name, pkg.GitSHA, pkg.GitURL, pkg.GitBranch, pkg.EupsVersion); err != nil {
				return skerr.Wrapf(err, "Failed to insert package %q", pkg.Name)
			}
		}

		// Blob rows first so measurements can link to them.
		blobIDs := map[string]int64{}
		for _, blob := range req.Blobs {
			var blobID int64
			if err := tx.QueryRow(ctx, statements[insertBlob], blob.Identifier, blob.Name).Scan(&blobID); err != nil {
				return skerr.Wrapf(err, "Failed to insert blob %q", blob.Identifier)
			}
			blobIDs[blob.Identifier] = blobID
		}

		for _, meas := range req.Measurements {
			var metricID int64
			if err := tx.QueryRow(ctx, statements[getMetricByName], meas.MetricName).Scan(&metricID); err != nil {
				if err == pgx.ErrNoRows {
					return &job.MetricNotFoundError{MetricName: meas.MetricName}
				}
				return skerr.Wrapf(err, "Failed to look up metric %q", meas.MetricName)
			}
			var measurementID int64
			if err := tx.QueryRow(ctx, statements[insertMeasurement], jobID, metricID, meas.MetricName, float64(meas.Value), meas.Unit).Scan(&measurementID); err != nil {
				return skerr.Wrapf(err, "Failed to insert measurement for %q", meas.MetricName)
			}
			for _, ref := range meas.BlobRefs {
				blobID, ok := blobIDs[ref]
				if !ok {
					// Blob references without a matching blob are
					// tolerated, the payload may have been stripped
					// client side.
					continue
				}
				if _, err := tx.Exec(ctx, statements[linkMeasurementBlob], measurementID, blobID); err != nil {
					return skerr.Wrapf(err, "Failed to link blob %q", ref)
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return jobID, nil
}

// getOrCreateEnv resolves an env row by name, creating it on first use.
func getOrCreateEnv(ctx context.Context, tx pgx.Tx, name string) (int64, error) {
	var envID int64
	err := tx.QueryRow(ctx, statements[getEnvByName], name).Scan(&envID)
	if err == nil {
		return envID, nil
	}
	if err != pgx.ErrNoRows {
		return 0, skerr.Wrapf(err, "Failed to look up env %q", name)
	}
	if err := tx.QueryRow(ctx, statements[insertEnv], name, displayName(name)).Scan(&envID); err != nil {
		return 0, skerr.Wrapf(err, "Failed to insert env %q", name)
	}
	return envID, nil
}

// displayName renders an env name for display, e.g. "jenkins" => "Jenkins".
func displayName(name string) string {
	if name == "" {
		return ""
	}
	runes := []rune(name)
	first := runes[0]
	if first >= 'a' && first <= 'z' {
		first = first - 'a' + 'A'
	}
	return string(first) + string(runes[1:])
}

// Get implements the job.Store interface.
func (s *SQLJobStore) Get(ctx context.Context, id int64) (*job.Job, error) {
	ret := &job.Job{}
	var envJSON, metaJSON []byte
	var ciDataset, s3URI *string
	var dateCreated time.Time
	if err := s.db.QueryRow(ctx, statements[getJob], id).Scan(&ret.ID, &ciDataset, &dateCreated, &envJSON, &metaJSON, &s3URI); err != nil {
		if err == pgx.ErrNoRows {
			return nil, job.ErrJobNotFound
		}
		return nil, skerr.Wrapf(err, "Failed to load job %d", id)
	}
	ret.DateCreated = dateCreated.UTC()
	if ciDataset != nil {
		ret.CiDataset = *ciDataset
	}
	if s3URI != nil {
		ret.S3URI = *s3URI
	}
	if err := json.Unmarshal(envJSON, &ret.Env); err != nil {
		return nil, skerr.Wrapf(err, "Failed to decode env for job %d", id)
	}
	if err := json.Unmarshal(metaJSON, &ret.Meta); err != nil {
		return nil, skerr.Wrapf(err, "Failed to decode meta for job %d", id)
	}

	packages, err := s.packages(ctx, id)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	ret.Packages = packages

	measurements, err := s.measurements(ctx, id)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	ret.Measurements = measurements

	return ret, nil
}

func (s *SQLJobStore) packages(ctx context.Context, jobID int64) ([]job.Package, error) {
	rows, err := s.db.Query(ctx, statements[getPackages], jobID)
	if err != nil {
		return nil, skerr.Wrapf(err, "Failed to query packages for job %d", jobID)
	}
	defer rows.Close()

	ret := []job.Package{}
	for rows.Next() {
		var pkg job.Package
		var gitURL, gitBranch, eupsVersion *string
		if err := rows.Scan(&pkg.Name, &pkg.GitSHA, &gitURL, &gitBranch, &eupsVersion); err != nil {
			return nil, skerr.Wrap(err)
		}
		if gitURL != nil {
			pkg.GitURL = *gitURL
		}
		if gitBranch != nil {
			pkg.GitBranch = *gitBranch
		}
		if eupsVersion != nil {
			pkg.EupsVersion = *eupsVersion
		}
		ret = append(ret, pkg)
	}
	return ret, rows.Err()
}

func (s *SQLJobStore) measurements(ctx context.Context, jobID int64) ([]job.Measurement, error) {
	rows, err := s.db.Query(ctx, statements[getMeasurements], jobID)
	if err != nil {
		return nil, skerr.Wrapf(err, "Failed to query measurements for job %d", jobID)
	}
	defer rows.Close()

	ret := []job.Measurement{}
	for rows.Next() {
		var meas job.Measurement
		var value float64
		if err := rows.Scan(&meas.ID, &meas.MetricName, &value, &meas.Unit); err != nil {
			return nil, skerr.Wrap(err)
		}
		meas.Value = job.Value(value)
		ret = append(ret, meas)
	}
	if err := rows.Err(); err != nil {
		return nil, skerr.Wrap(err)
	}

	for i := range ret {
		blobs, err := s.measurementBlobs(ctx, ret[i].ID)
		if err != nil {
			return nil, skerr.Wrap(err)
		}
		ret[i].Blobs = blobs
	}
	return ret, nil
}

func (s *SQLJobStore) measurementBlobs(ctx context.Context, measurementID int64) ([]job.Blob, error) {
	rows, err := s.db.Query(ctx, statements[getMeasurementBlobs], measurementID)
	if err != nil {
		return nil, skerr.Wrapf(err, "Failed to query blobs for measurement %d", measurementID)
	}
	defer rows.Close()

	ret := []job.Blob{}
	for rows.Next() {
		var blob job.Blob
		var s3URI *string
		if err := rows.Scan(&blob.Identifier, &blob.Name, &s3URI); err != nil {
			return nil, skerr.Wrap(err)
		}
		if s3URI != nil {
			blob.S3URI = *s3URI
		}
		ret = append(ret, blob)
	}
	return ret, rows.Err()
}

// Delete implements the job.Store interface. Packages, measurements and
// blob cross-links are removed by ON DELETE CASCADE.
func (s *SQLJobStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, statements[deleteJob], id)
	if err != nil {
		return skerr.Wrapf(err, "Failed to delete job %d", id)
	}
	if tag.RowsAffected() == 0 {
		return job.ErrJobNotFound
	}
	return nil
}

// FindJenkinsRun implements the job.Store interface.
func (s *SQLJobStore) FindJenkinsRun(ctx context.Context, ciID, ciName string) (*job.Job, error) {
	var id int64
	if err := s.db.QueryRow(ctx, statements[findJenkinsRun], ciID, ciName).Scan(&id); err != nil {
		if err == pgx.ErrNoRows {
			return nil, job.ErrJobNotFound
		}
		return nil, skerr.Wrapf(err, "Failed to find jenkins run %s", ciID)
	}
	return s.Get(ctx, id)
}

// PreviousJenkinsRun implements the job.Store interface.
func (s *SQLJobStore) PreviousJenkinsRun(ctx context.Context, ciID, ciName string) (*job.Job, error) {
	current, err := s.FindJenkinsRun(ctx, ciID, ciName)
	if err != nil {
		return nil, err
	}
	var id int64
	if err := s.db.QueryRow(ctx, statements[previousJenkinsRun], ciID, ciName, current.DateCreated).Scan(&id); err != nil {
		if err == pgx.ErrNoRows {
			return nil, job.ErrJobNotFound
		}
		return nil, skerr.Wrapf(err, "Failed to find run previous to %s", ciID)
	}
	return s.Get(ctx, id)
}

// SetBlobURI implements the job.Store interface.
func (s *SQLJobStore) SetBlobURI(ctx context.Context, identifier, uri string) error {
	if _, err := s.db.Exec(ctx, statements[setBlobURI], identifier, uri); err != nil {
		return skerr.Wrapf(err, "Failed to update blob %q", identifier)
	}
	return nil
}

// SetJobURI implements the job.Store interface.
func (s *SQLJobStore) SetJobURI(ctx context.Context, id int64, uri string) error {
	tag, err := s.db.Exec(ctx, statements[setJobURI], id, uri)
	if err != nil {
		return skerr.Wrapf(err, "Failed to update job %d", id)
	}
	if tag.RowsAffected() == 0 {
		return job.ErrJobNotFound
	}
	return nil
}

// Confirm SQLJobStore implements job.Store.
var _ job.Store = (*SQLJobStore)(nil)
