package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/justapithecus/ferret/types"
)

// CreateJob inserts a job. The id must already be set.
func (s *Store) CreateJob(ctx context.Context, job *types.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, name, target_url, engine_mode, crawl_mode, requires_auth,
		                  proxy_identity, profile, list_config, max_attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.Name, job.TargetURL, job.EngineMode, job.CrawlMode, job.RequiresAuth,
		job.ProxyIdentity, asJSON(job.Profile), asJSON(job.List), job.MaxAttempts)
	if err != nil {
		return fmt.Errorf("store: create job: %w", err)
	}
	return nil
}

type jobRow struct {
	ID            uuid.UUID `db:"id"`
	Name          string    `db:"name"`
	TargetURL     string    `db:"target_url"`
	EngineMode    string    `db:"engine_mode"`
	CrawlMode     string    `db:"crawl_mode"`
	RequiresAuth  bool      `db:"requires_auth"`
	ProxyIdentity string    `db:"proxy_identity"`
	Profile       []byte    `db:"profile"`
	ListConfig    []byte    `db:"list_config"`
	MaxAttempts   int       `db:"max_attempts"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (r *jobRow) toJob() (*types.Job, error) {
	job := &types.Job{
		ID:            r.ID,
		Name:          r.Name,
		TargetURL:     r.TargetURL,
		EngineMode:    types.EngineMode(r.EngineMode),
		CrawlMode:     types.CrawlMode(r.CrawlMode),
		RequiresAuth:  r.RequiresAuth,
		ProxyIdentity: r.ProxyIdentity,
		MaxAttempts:   r.MaxAttempts,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if len(r.Profile) > 0 {
		job.Profile = &types.BrowserProfile{}
		if err := scanJSON(r.Profile, job.Profile); err != nil {
			return nil, err
		}
	}
	if len(r.ListConfig) > 0 {
		job.List = &types.ListConfig{}
		if err := scanJSON(r.ListConfig, job.List); err != nil {
			return nil, err
		}
	}
	return job, nil
}

// GetJob loads a job by id.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*types.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get job: %w", err)
	}
	return row.toJob()
}

// SetJobProfile stores a generated browser profile on the job.
func (s *Store) SetJobProfile(ctx context.Context, id uuid.UUID, profile *types.BrowserProfile) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET profile = $2, updated_at = now() WHERE id = $1`,
		id, asJSON(profile))
	if err != nil {
		return fmt.Errorf("store: set job profile: %w", err)
	}
	return nil
}

// CreateFieldMap inserts a field map version for a job.
func (s *Store) CreateFieldMap(ctx context.Context, fm *types.FieldMap) error {
	if err := fm.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO field_maps (id, job_id, version, fields)
		VALUES ($1, $2, $3, $4)`,
		fm.ID, fm.JobID, fm.Version, asJSON(fm.Fields))
	if err != nil {
		return fmt.Errorf("store: create field map: %w", err)
	}
	return nil
}

// GetFieldMap loads the newest field map version for a job.
func (s *Store) GetFieldMap(ctx context.Context, jobID uuid.UUID) (*types.FieldMap, error) {
	var row struct {
		ID        uuid.UUID `db:"id"`
		JobID     uuid.UUID `db:"job_id"`
		Version   int       `db:"version"`
		Fields    []byte    `db:"fields"`
		CreatedAt time.Time `db:"created_at"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT * FROM field_maps WHERE job_id = $1
		ORDER BY version DESC LIMIT 1`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: field map for job %s: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get field map: %w", err)
	}
	fm := &types.FieldMap{ID: row.ID, JobID: row.JobID, Version: row.Version, CreatedAt: row.CreatedAt}
	if err := scanJSON(row.Fields, &fm.Fields); err != nil {
		return nil, err
	}
	return fm, nil
}
