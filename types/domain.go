package types

import "time"

// DomainStats is the per-(domain, engine) performance ledger that drives
// initial-engine biasing.
type DomainStats struct {
	Domain string `db:"domain" json:"domain"`
	Engine Engine `db:"engine" json:"engine"`

	TotalAttempts int `db:"total_attempts" json:"total_attempts"`
	Successes     int `db:"successes" json:"successes"`
	// Blocked403 counts attempts that ended in a hard access denial, the
	// signal used to reclassify a domain as session-gated.
	Blocked403   int     `db:"blocked_403" json:"blocked_403"`
	Captchas     int     `db:"captchas" json:"captchas"`
	TotalRecords int     `db:"total_records" json:"total_records"`
	Escalations  int     `db:"escalations" json:"escalations"`
	CostUnits    float64 `db:"cost_units" json:"cost_units"`

	FirstSeen   time.Time `db:"first_seen" json:"first_seen"`
	LastUpdated time.Time `db:"last_updated" json:"last_updated"`
}

// SuccessRate returns successes over attempts, 0 when no attempts.
func (s *DomainStats) SuccessRate() float64 {
	if s.TotalAttempts == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.TotalAttempts)
}

// BlockRate returns the share of attempts denied with a hard block.
func (s *DomainStats) BlockRate() float64 {
	if s.TotalAttempts == 0 {
		return 0
	}
	return float64(s.Blocked403) / float64(s.TotalAttempts)
}

// CaptchaRate returns the share of attempts that hit a captcha.
func (s *DomainStats) CaptchaRate() float64 {
	if s.TotalAttempts == 0 {
		return 0
	}
	return float64(s.Captchas) / float64(s.TotalAttempts)
}

// AvgEscalations returns escalations per attempt.
func (s *DomainStats) AvgEscalations() float64 {
	if s.TotalAttempts == 0 {
		return 0
	}
	return float64(s.Escalations) / float64(s.TotalAttempts)
}

// AvgCostPerRecord returns cost units spent per extracted record. When a
// domain yields nothing the whole spend is the answer.
func (s *DomainStats) AvgCostPerRecord() float64 {
	if s.TotalRecords == 0 {
		return s.CostUnits
	}
	return s.CostUnits / float64(s.TotalRecords)
}

// DomainConfig is the learned access posture of a domain, updated by the
// intelligence store as evidence accumulates.
type DomainConfig struct {
	Domain string `db:"domain" json:"domain"`

	AccessClass     AccessClass     `db:"access_class" json:"access_class"`
	RequiresSession RequiresSession `db:"requires_session" json:"requires_session"`

	// PreferredEngine is a learned starting tier, empty when no
	// preference has been established.
	PreferredEngine Engine `db:"preferred_engine" json:"preferred_engine,omitempty"`

	// Notes holds operator-visible context from interventions.
	Notes string `db:"notes" json:"notes,omitempty"`

	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
