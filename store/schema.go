package store

// schemaSQL is the base DDL. Later columns are added by migrations.
const schemaSQL = `
-- Schema catalog: one allowed (app, component) data shape per row
CREATE TABLE IF NOT EXISTS schemas (
    app TEXT NOT NULL,
    component_name TEXT NOT NULL,
    schema JSON NOT NULL,
    description TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (app, component_name)
);

-- Test environments and the apps they expose
CREATE TABLE IF NOT EXISTS environments (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    connectors JSON NOT NULL DEFAULT '[]',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Generated records
CREATE TABLE IF NOT EXISTS artificial_data (
    id TEXT PRIMARY KEY,
    app TEXT NOT NULL,
    component_name TEXT NOT NULL,
    environment_id TEXT NOT NULL REFERENCES environments(id) ON DELETE CASCADE,
    json_data JSON NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Planning and generation audit log
CREATE TABLE IF NOT EXISTS run_log (
    id TEXT PRIMARY KEY,
    environment_id TEXT,
    kind TEXT NOT NULL,
    model TEXT,
    input TEXT NOT NULL,
    output TEXT,
    status TEXT NOT NULL,
    error TEXT,
    elapsed_ms INTEGER DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_data_env_app ON artificial_data(environment_id, app);
CREATE INDEX IF NOT EXISTS idx_run_log_env ON run_log(environment_id);
`
