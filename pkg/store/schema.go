package store

// schema is the SQLite DDL for every table this service uses. Every
// player-facing table carries guild_id and is indexed on it, so a query
// can never accidentally cross tenants.
const schema = `
CREATE TABLE IF NOT EXISTS guild_configs (
	guild_id     TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	ocr_channel  TEXT NOT NULL DEFAULT '',
	team_names   TEXT NOT NULL DEFAULT '[]',
	active       INTEGER NOT NULL DEFAULT 1,
	created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS players (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	guild_id       TEXT NOT NULL REFERENCES guild_configs(guild_id),
	name           TEXT NOT NULL,
	nicknames      TEXT NOT NULL DEFAULT '[]',
	team           TEXT NOT NULL DEFAULT 'Unassigned',
	member_status  TEXT NOT NULL DEFAULT 'Member',
	is_active      INTEGER NOT NULL DEFAULT 1,
	total_score    INTEGER NOT NULL DEFAULT 0,
	total_races    INTEGER NOT NULL DEFAULT 0,
	war_count      INTEGER NOT NULL DEFAULT 0,
	last_war_date  DATETIME,
	created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(guild_id, name)
);
CREATE INDEX IF NOT EXISTS idx_players_guild ON players(guild_id);

CREATE TABLE IF NOT EXISTS wars (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	guild_id   TEXT NOT NULL REFERENCES guild_configs(guild_id),
	race_count INTEGER NOT NULL DEFAULT 12,
	occurred_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_wars_guild ON wars(guild_id);

CREATE TABLE IF NOT EXISTS war_players (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	war_id        INTEGER NOT NULL REFERENCES wars(id) ON DELETE CASCADE,
	guild_id      TEXT NOT NULL,
	player_name   TEXT NOT NULL,
	score         INTEGER NOT NULL,
	races_played  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_war_players_guild ON war_players(guild_id);
CREATE INDEX IF NOT EXISTS idx_war_players_war ON war_players(war_id);

CREATE TABLE IF NOT EXISTS bulk_scan_sessions (
	session_token    TEXT PRIMARY KEY,
	guild_id         TEXT NOT NULL REFERENCES guild_configs(guild_id),
	created_by_user  TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'open',
	total_images     INTEGER NOT NULL DEFAULT 0,
	created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	expires_at       DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_guild ON bulk_scan_sessions(guild_id);
CREATE INDEX IF NOT EXISTS idx_sessions_expires ON bulk_scan_sessions(expires_at);

CREATE TABLE IF NOT EXISTS bulk_scan_results (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	session_token      TEXT NOT NULL REFERENCES bulk_scan_sessions(session_token) ON DELETE CASCADE,
	image_filename     TEXT NOT NULL,
	image_url          TEXT NOT NULL DEFAULT '',
	detected_players   TEXT NOT NULL,
	review_status      TEXT NOT NULL DEFAULT 'pending',
	corrected_players  TEXT,
	race_count         INTEGER NOT NULL DEFAULT 12,
	message_timestamp  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_results_session ON bulk_scan_results(session_token);

CREATE TABLE IF NOT EXISTS bulk_scan_failures (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	session_token      TEXT NOT NULL REFERENCES bulk_scan_sessions(session_token) ON DELETE CASCADE,
	image_filename     TEXT NOT NULL,
	image_url          TEXT NOT NULL DEFAULT '',
	error_message      TEXT NOT NULL,
	message_timestamp  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_failures_session ON bulk_scan_failures(session_token);

CREATE TABLE IF NOT EXISTS user_sessions (
	user_id       TEXT PRIMARY KEY,
	token_version INTEGER NOT NULL DEFAULT 0,
	updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
