package store

// schema is the full DDL, applied idempotently by Migrate.
const schema = `
CREATE TABLE IF NOT EXISTS jobs (
    id             UUID PRIMARY KEY,
    name           TEXT NOT NULL DEFAULT '',
    target_url     TEXT NOT NULL,
    engine_mode    TEXT NOT NULL DEFAULT 'auto',
    crawl_mode     TEXT NOT NULL DEFAULT 'single',
    requires_auth  BOOLEAN NOT NULL DEFAULT FALSE,
    proxy_identity TEXT NOT NULL DEFAULT '',
    profile        JSONB,
    list_config    JSONB,
    max_attempts   INTEGER NOT NULL DEFAULT 3,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS field_maps (
    id         UUID PRIMARY KEY,
    job_id     UUID NOT NULL REFERENCES jobs(id),
    version    INTEGER NOT NULL DEFAULT 1,
    fields     JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (job_id, version)
);

CREATE TABLE IF NOT EXISTS runs (
    id              UUID PRIMARY KEY,
    job_id          UUID NOT NULL REFERENCES jobs(id),
    status          TEXT NOT NULL DEFAULT 'queued',
    attempt         INTEGER NOT NULL DEFAULT 1,
    max_attempts    INTEGER NOT NULL DEFAULT 3,
    requested_mode  TEXT NOT NULL DEFAULT 'auto',
    resolved_engine TEXT NOT NULL DEFAULT '',
    bias_reason     TEXT NOT NULL DEFAULT '',
    failure_code    TEXT NOT NULL DEFAULT '',
    error_message   TEXT NOT NULL DEFAULT '',
    intervention_id UUID,
    stats           JSONB,
    lease_owner     TEXT NOT NULL DEFAULT '',
    not_before      TIMESTAMPTZ,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    started_at      TIMESTAMPTZ,
    finished_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS runs_status_idx ON runs (status, not_before);

CREATE TABLE IF NOT EXISTS engine_attempts (
    id          UUID PRIMARY KEY,
    run_id      UUID NOT NULL REFERENCES runs(id),
    attempt     INTEGER NOT NULL,
    engine      TEXT NOT NULL,
    status_code INTEGER NOT NULL DEFAULT 0,
    success     BOOLEAN NOT NULL DEFAULT FALSE,
    records     INTEGER NOT NULL DEFAULT 0,
    signals     JSONB,
    decision    TEXT NOT NULL DEFAULT '',
    reason      TEXT NOT NULL DEFAULT '',
    bias_reason TEXT NOT NULL DEFAULT '',
    duration_ms BIGINT NOT NULL DEFAULT 0,
    started_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS engine_attempts_run_idx ON engine_attempts (run_id, attempt);

CREATE TABLE IF NOT EXISTS run_events (
    id      UUID PRIMARY KEY,
    run_id  UUID NOT NULL REFERENCES runs(id),
    seq     BIGINT NOT NULL,
    level   TEXT NOT NULL DEFAULT 'info',
    message TEXT NOT NULL,
    meta    JSONB,
    ts      TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (run_id, seq)
);

CREATE TABLE IF NOT EXISTS records (
    id         UUID PRIMARY KEY,
    run_id     UUID NOT NULL REFERENCES runs(id),
    job_id     UUID NOT NULL REFERENCES jobs(id),
    ordinal    INTEGER NOT NULL,
    fields     JSONB NOT NULL,
    source_url TEXT NOT NULL DEFAULT '',
    engine     TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (run_id, ordinal)
);

CREATE TABLE IF NOT EXISTS domain_stats (
    domain         TEXT NOT NULL,
    engine         TEXT NOT NULL,
    total_attempts INTEGER NOT NULL DEFAULT 0,
    successes      INTEGER NOT NULL DEFAULT 0,
    blocked_403    INTEGER NOT NULL DEFAULT 0,
    captchas       INTEGER NOT NULL DEFAULT 0,
    total_records  INTEGER NOT NULL DEFAULT 0,
    escalations    INTEGER NOT NULL DEFAULT 0,
    cost_units     DOUBLE PRECISION NOT NULL DEFAULT 0,
    first_seen     TIMESTAMPTZ NOT NULL DEFAULT now(),
    last_updated   TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (domain, engine)
);

CREATE TABLE IF NOT EXISTS domain_configs (
    domain           TEXT PRIMARY KEY,
    access_class     TEXT NOT NULL DEFAULT 'public',
    requires_session TEXT NOT NULL DEFAULT 'no',
    preferred_engine TEXT NOT NULL DEFAULT '',
    notes            TEXT NOT NULL DEFAULT '',
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS intervention_tasks (
    id             UUID PRIMARY KEY,
    job_id         UUID NOT NULL REFERENCES jobs(id),
    run_id         UUID REFERENCES runs(id),
    type           TEXT NOT NULL,
    status         TEXT NOT NULL DEFAULT 'pending',
    priority       TEXT NOT NULL DEFAULT 'normal',
    domain         TEXT NOT NULL DEFAULT '',
    trigger_reason TEXT NOT NULL DEFAULT '',
    snapshot_ref   TEXT NOT NULL DEFAULT '',
    payload        JSONB,
    resolution     JSONB,
    resolved_by    TEXT NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    expires_at     TIMESTAMPTZ NOT NULL,
    resolved_at    TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS intervention_open_idx ON intervention_tasks (status, domain);

CREATE TABLE IF NOT EXISTS api_key_usage (
    key_id       TEXT PRIMARY KEY,
    credits_used BIGINT NOT NULL DEFAULT 0,
    credits_left BIGINT NOT NULL DEFAULT -1,
    active       BOOLEAN NOT NULL DEFAULT TRUE,
    last_used_at TIMESTAMPTZ
);
`
