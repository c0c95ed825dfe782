package db

// SchemaVersion is the current database schema version
const SchemaVersion = 3

// schema is the full current schema. Types in {{...}} are filled per dialect.
const schema = `
CREATE TABLE IF NOT EXISTS schema_info (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Local activity catalogue
CREATE TABLE IF NOT EXISTS activities (
    run_id {{bigint}} PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    distance {{real}} NOT NULL DEFAULT 0,
    moving_time {{real}} NOT NULL DEFAULT 0,
    elapsed_time {{real}} NOT NULL DEFAULT 0,
    type TEXT NOT NULL DEFAULT '',
    subtype TEXT NOT NULL DEFAULT '',
    start_date TEXT NOT NULL,
    start_date_local TEXT NOT NULL DEFAULT '',
    location_country TEXT NOT NULL DEFAULT '',
    summary_polyline TEXT NOT NULL DEFAULT '',
    average_heartrate {{real}},
    average_speed {{real}},
    elevation_gain {{real}}
);

CREATE INDEX IF NOT EXISTS idx_activities_start ON activities(start_date);

-- Detail streams, one row per sample
CREATE TABLE IF NOT EXISTS activities_flyby (
    activity_id {{bigint}} NOT NULL,
    time_offset {{bigint}} NOT NULL,
    lat {{real}},
    lng {{real}},
    alt {{real}},
    hr {{real}},
    distance {{real}},
    cadence {{real}},
    speed {{real}},
    power {{real}},
    PRIMARY KEY (activity_id, time_offset)
);

-- Per (activity, vendor, account) upload state
CREATE TABLE IF NOT EXISTS vendor_activity_sync (
    activity_id {{bigint}} NOT NULL,
    vendor TEXT NOT NULL,
    account TEXT NOT NULL,
    status TEXT NOT NULL,
    remote_activity_id TEXT,
    content_hash TEXT,
    last_error TEXT,
    attempt_count {{bigint}} NOT NULL DEFAULT 0,
    next_retry_at TEXT,
    uploaded_at TEXT,
    last_verified_at TEXT,
    updated_at TEXT NOT NULL,
    PRIMARY KEY (activity_id, vendor, account)
);

CREATE INDEX IF NOT EXISTS idx_vendor_sync_status ON vendor_activity_sync(vendor, account, status);

-- Activities waiting for their detail stream
CREATE TABLE IF NOT EXISTS flyby_queue (
    activity_id {{bigint}} PRIMARY KEY,
    status TEXT NOT NULL DEFAULT 'pending',
    last_error TEXT NOT NULL DEFAULT '',
    attempt_count {{bigint}} NOT NULL DEFAULT 0,
    next_retry_at TEXT,
    updated_at TEXT NOT NULL
);
`

// Migration is one schema step.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations is the list of all database migrations in order
var Migrations = []Migration{
	// Version 1 is the initial schema - no migration needed
	{
		Version:     2,
		Description: "Add cadence, speed and power to activities_flyby",
		// Applied column by column in runMigrationsInternal.
	},
	{
		Version:     3,
		Description: "Add sync_runs history table",
		SQL: `
CREATE TABLE IF NOT EXISTS sync_runs (
    id {{serial}},
    run_id TEXT NOT NULL,
    vendor TEXT NOT NULL DEFAULT '',
    account TEXT NOT NULL DEFAULT '',
    kind TEXT NOT NULL,
    started_at TEXT NOT NULL,
    finished_at TEXT,
    uploaded {{bigint}} NOT NULL DEFAULT 0,
    matched {{bigint}} NOT NULL DEFAULT 0,
    skipped {{bigint}} NOT NULL DEFAULT 0,
    conflicts {{bigint}} NOT NULL DEFAULT 0,
    failed {{bigint}} NOT NULL DEFAULT 0,
    error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_sync_runs_account ON sync_runs(vendor, account, id);
`,
	},
}
