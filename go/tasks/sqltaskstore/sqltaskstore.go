// Package sqltaskstore implements tasks.StatusStore using an SQL database.
//
// Please see sql/migrations for the database schema used.
package sqltaskstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/lsst-sqre/squash-rest-api/go/skerr"
	"github.com/lsst-sqre/squash-rest-api/go/tasks"
)

// statement is an SQL statement identifier.
type statement int

const (
	// The identifiers for all the SQL statements used.
	insertStatus statement = iota
	updateStatus
	getStatus
)

// statements holds all the raw SQL statements.
var statements = map[statement]string{
	insertStatus: `
		INSERT INTO
			TaskStatus (task_id, kind, status, message, date_created, date_updated)
		VALUES
			($1, $2, $3, '', $4, $4)`,
	updateStatus: `
		UPDATE
			TaskStatus
		SET
			status=$2, message=$3, date_updated=$4
		WHERE
			task_id=$1`,
	getStatus: `
		SELECT
			task_id, kind, status, message, date_created, date_updated
		FROM
			TaskStatus
		WHERE
			task_id=$1`,
}

// SQLTaskStore implements the tasks.StatusStore interface using an SQL
// database.
type SQLTaskStore struct {
	db *pgxpool.Pool
}

// New returns a new *SQLTaskStore.
//
// We presume all migrations have been run against db before this function is
// called.
func New(db *pgxpool.Pool) (*SQLTaskStore, error) {
	return &SQLTaskStore{
		db: db,
	}, nil
}

// Create implements the tasks.StatusStore interface.
func (s *SQLTaskStore) Create(ctx context.Context, taskID string, kind tasks.Kind) error {
	if _, err := s.db.Exec(ctx, statements[insertStatus], taskID, string(kind), string(tasks.StatePending), time.Now().UTC()); err != nil {
		return skerr.Wrapf(err, "Failed to record task %s", taskID)
	}
	return nil
}

// SetState implements the tasks.StatusStore interface.
func (s *SQLTaskStore) SetState(ctx context.Context, taskID string, state tasks.State, message string) error {
	tag, err := s.db.Exec(ctx, statements[updateStatus], taskID, string(state), message, time.Now().UTC())
	if err != nil {
		return skerr.Wrapf(err, "Failed to update task %s", taskID)
	}
	if tag.RowsAffected() == 0 {
		return tasks.ErrTaskNotFound
	}
	return nil
}

// Get implements the tasks.StatusStore interface.
func (s *SQLTaskStore) Get(ctx context.Context, taskID string) (*tasks.Status, error) {
	var ret tasks.Status
	var kind, state string
	if err := s.db.QueryRow(ctx, statements[getStatus], taskID).Scan(&ret.TaskID, &kind, &state, &ret.Message, &ret.DateCreated, &ret.DateUpdated); err != nil {
		if err == pgx.ErrNoRows {
			return nil, tasks.ErrTaskNotFound
		}
		return nil, skerr.Wrapf(err, "Failed to load task %s", taskID)
	}
	ret.Kind = tasks.Kind(kind)
	ret.State = tasks.State(state)
	return &ret, nil
}

// Confirm SQLTaskStore implements tasks.StatusStore.
var _ tasks.StatusStore = (*SQLTaskStore)(nil)
