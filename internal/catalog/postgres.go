package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Schema creates the table PostgresCatalog writes to.
const Schema = `CREATE TABLE IF NOT EXISTS workflow_executions (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL,
	module TEXT NOT NULL,
	task TEXT NOT NULL,
	version TEXT NOT NULL,
	config_file_name TEXT,
	org TEXT NOT NULL,
	proj TEXT NOT NULL,
	distribution_name TEXT,
	distribution_url TEXT,
	status TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	ended_at TIMESTAMPTZ
)`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PostgresCatalog keeps workflow executions in a local table.
type PostgresCatalog struct {
	db          execer
	webPrefix   string
	distributor Distributor
	newID       func() uuid.UUID
}

func NewPostgresCatalog(db execer, cfg Config, dist Distributor) *PostgresCatalog {
	return &PostgresCatalog{
		db:          db,
		webPrefix:   strings.TrimRight(cfg.WebPrefix, "/"),
		distributor: dist,
		newID:       uuid.New,
	}
}

func (c *PostgresCatalog) Register(ctx context.Context, accessToken string, loc Location, wf WorkflowExecution, archive Archive) (Record, error) {
	if c == nil || c.db == nil {
		return Record{}, errors.New("postgres catalog not initialized")
	}

	var distName, distURL sql.NullString
	if c.distributor != nil {
		dist, err := c.distributor.Distribute(ctx, accessToken, loc, archive)
		if err != nil {
			return Record{}, err
		}
		distName = sql.NullString{String: dist.Name, Valid: true}
		distURL = sql.NullString{String: dist.ContentURL, Valid: true}
	}

	started := wf.StartedAt
	if started.IsZero() {
		started = time.Now().UTC()
	}
	id := c.newID().String()
	_, err := c.db.ExecContext(ctx, `INSERT INTO workflow_executions
		(id, name, module, task, version, config_file_name, org, proj, distribution_name, distribution_url, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		id,
		wf.Name,
		wf.Module,
		wf.Task,
		wf.Version,
		sql.NullString{String: wf.ConfigFileName, Valid: wf.ConfigFileName != ""},
		loc.Org,
		loc.Proj,
		distName,
		distURL,
		string(StatusRunning),
		started.UTC(),
	)
	if err != nil {
		return Record{}, fmt.Errorf("insert workflow execution: %w", err)
	}
	return Record{ID: id, URL: c.link(id), Location: loc}, nil
}

func (c *PostgresCatalog) UpdateStatus(ctx context.Context, _ string, rec Record, status Status, endedAt time.Time) error {
	if c == nil || c.db == nil {
		return errors.New("postgres catalog not initialized")
	}
	res, err := c.db.ExecContext(ctx,
		`UPDATE workflow_executions SET status = $2, ended_at = $3 WHERE id = $1`,
		rec.ID, string(status), endedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("update workflow execution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update workflow execution: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (c *PostgresCatalog) link(id string) string {
	if c.webPrefix == "" {
		return "urn:uuid:" + id
	}
	return c.webPrefix + "/workflows/" + id
}
