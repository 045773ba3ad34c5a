package store

// schema is applied in order on every start. {{serial}} expands to the
// dialect's auto-increment primary key.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS boards (
		id                       TEXT PRIMARY KEY,
		name                     TEXT NOT NULL UNIQUE,
		url                      TEXT NOT NULL,
		enabled                  INTEGER NOT NULL DEFAULT 1,
		scan_interval_ms         BIGINT NOT NULL,
		keyword_filters          TEXT NOT NULL DEFAULT '[]',
		scraper_config           TEXT NOT NULL DEFAULT '{}',
		last_scanned_at          BIGINT,
		last_scan_status         TEXT NOT NULL DEFAULT 'never',
		last_scan_error          TEXT NOT NULL DEFAULT '',
		listings_found_last_scan INTEGER NOT NULL DEFAULT 0,
		scan_started_at          BIGINT,
		created_at               BIGINT NOT NULL,
		updated_at               BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS listings (
		id           TEXT PRIMARY KEY,
		board_id     TEXT NOT NULL REFERENCES boards(id) ON DELETE CASCADE,
		title        TEXT NOT NULL DEFAULT '',
		company      TEXT NOT NULL DEFAULT '',
		location     TEXT NOT NULL DEFAULT '',
		url          TEXT NOT NULL DEFAULT '',
		description  TEXT NOT NULL DEFAULT '',
		salary_min   INTEGER,
		salary_max   INTEGER,
		posted_date  TEXT NOT NULL DEFAULT '',
		content_hash TEXT NOT NULL,
		match_score  INTEGER NOT NULL DEFAULT 0,
		is_new       INTEGER NOT NULL DEFAULT 1,
		is_hidden    INTEGER NOT NULL DEFAULT 0,
		created_at   BIGINT NOT NULL,
		updated_at   BIGINT NOT NULL,
		seen_at      BIGINT,
		UNIQUE (board_id, content_hash)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_listings_board_created ON listings (board_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS applications (
		id               TEXT PRIMARY KEY,
		listing_id       TEXT REFERENCES listings(id) ON DELETE SET NULL,
		status           TEXT NOT NULL,
		detected_fields  TEXT NOT NULL DEFAULT '[]',
		screenshot_ref   TEXT NOT NULL DEFAULT '',
		current_page_ref TEXT NOT NULL DEFAULT '',
		error_message    TEXT NOT NULL DEFAULT '',
		queue_task_ref   TEXT NOT NULL DEFAULT '',
		captcha_found    INTEGER NOT NULL DEFAULT 0,
		reviewed_at      BIGINT,
		submitted_at     BIGINT,
		created_at       BIGINT NOT NULL,
		updated_at       BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_applications_status ON applications (status, updated_at)`,
	`CREATE INDEX IF NOT EXISTS idx_applications_listing ON applications (listing_id)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id             {{serial}},
		application_id TEXT NOT NULL REFERENCES applications(id) ON DELETE CASCADE,
		action         TEXT NOT NULL,
		details        TEXT NOT NULL DEFAULT '',
		screenshot_ref TEXT NOT NULL DEFAULT '',
		created_at     BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_log_application ON audit_log (application_id, id)`,
}
