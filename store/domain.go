package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/justapithecus/ferret/types"
)

// DomainOutcome is one attempt outcome folded into domain stats.
type DomainOutcome struct {
	Domain      string
	Engine      types.Engine
	Success     bool
	Records     int
	Escalations int
	HadCaptcha  bool
	Blocked403  bool
	CostUnits   float64
}

// RecordDomainOutcome upserts the (domain, engine) counter row in a
// single statement. Counters only grow; rates are derived on read.
func (s *Store) RecordDomainOutcome(ctx context.Context, o DomainOutcome) error {
	success, captcha, blocked := 0, 0, 0
	if o.Success {
		success = 1
	}
	if o.HadCaptcha {
		captcha = 1
	}
	if o.Blocked403 {
		blocked = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO domain_stats (domain, engine, total_attempts, successes, blocked_403,
		                          captchas, total_records, escalations, cost_units)
		VALUES ($1, $2, 1, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (domain, engine) DO UPDATE SET
			total_attempts = domain_stats.total_attempts + 1,
			successes      = domain_stats.successes + $3,
			blocked_403    = domain_stats.blocked_403 + $4,
			captchas       = domain_stats.captchas + $5,
			total_records  = domain_stats.total_records + $6,
			escalations    = domain_stats.escalations + $7,
			cost_units     = domain_stats.cost_units + $8,
			last_updated   = now()`,
		o.Domain, o.Engine, success, blocked, captcha, o.Records, o.Escalations, o.CostUnits)
	if err != nil {
		return fmt.Errorf("store: record domain outcome: %w", err)
	}
	return nil
}

type domainStatsRow struct {
	Domain        string    `db:"domain"`
	Engine        string    `db:"engine"`
	TotalAttempts int       `db:"total_attempts"`
	Successes     int       `db:"successes"`
	Blocked403    int       `db:"blocked_403"`
	Captchas      int       `db:"captchas"`
	TotalRecords  int       `db:"total_records"`
	Escalations   int       `db:"escalations"`
	CostUnits     float64   `db:"cost_units"`
	FirstSeen     time.Time `db:"first_seen"`
	LastUpdated   time.Time `db:"last_updated"`
}

func (r *domainStatsRow) toStats() types.DomainStats {
	return types.DomainStats{
		Domain:        r.Domain,
		Engine:        types.Engine(r.Engine),
		TotalAttempts: r.TotalAttempts,
		Successes:     r.Successes,
		Blocked403:    r.Blocked403,
		Captchas:      r.Captchas,
		TotalRecords:  r.TotalRecords,
		Escalations:   r.Escalations,
		CostUnits:     r.CostUnits,
		FirstSeen:     r.FirstSeen,
		LastUpdated:   r.LastUpdated,
	}
}

// GetDomainStats returns all engine rows for a domain, possibly empty.
func (s *Store) GetDomainStats(ctx context.Context, domain string) ([]types.DomainStats, error) {
	var rows []domainStatsRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM domain_stats WHERE domain = $1 ORDER BY engine`, domain)
	if err != nil {
		return nil, fmt.Errorf("store: get domain stats: %w", err)
	}
	out := make([]types.DomainStats, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toStats())
	}
	return out, nil
}

// GetDomainConfig loads the per-domain config, defaulting to an open
// posture for never-seen domains.
func (s *Store) GetDomainConfig(ctx context.Context, domain string) (*types.DomainConfig, error) {
	var row struct {
		Domain          string    `db:"domain"`
		AccessClass     string    `db:"access_class"`
		RequiresSession string    `db:"requires_session"`
		PreferredEngine string    `db:"preferred_engine"`
		Notes           string    `db:"notes"`
		UpdatedAt       time.Time `db:"updated_at"`
	}
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM domain_configs WHERE domain = $1`, domain)
	if errors.Is(err, sql.ErrNoRows) {
		return &types.DomainConfig{
			Domain:          domain,
			AccessClass:     types.AccessClassPublic,
			RequiresSession: types.SessionNotRequired,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get domain config: %w", err)
	}
	return &types.DomainConfig{
		Domain:          row.Domain,
		AccessClass:     types.AccessClass(row.AccessClass),
		RequiresSession: types.RequiresSession(row.RequiresSession),
		PreferredEngine: types.Engine(row.PreferredEngine),
		Notes:           row.Notes,
		UpdatedAt:       row.UpdatedAt,
	}, nil
}

// UpsertDomainConfig writes a derived domain classification.
func (s *Store) UpsertDomainConfig(ctx context.Context, cfg *types.DomainConfig) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO domain_configs (domain, access_class, requires_session, preferred_engine, notes, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (domain) DO UPDATE SET
			access_class     = $2,
			requires_session = $3,
			preferred_engine = $4,
			notes            = $5,
			updated_at       = now()`,
		cfg.Domain, cfg.AccessClass, cfg.RequiresSession, cfg.PreferredEngine, cfg.Notes)
	if err != nil {
		return fmt.Errorf("store: upsert domain config: %w", err)
	}
	return nil
}
