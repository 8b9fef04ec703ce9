package database

const sqliteSchema = `
CREATE TABLE comic_cache (
	date TEXT PRIMARY KEY,
	image_url TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	width INTEGER NOT NULL,
	height INTEGER NOT NULL,
	permalink TEXT NOT NULL,
	last_used INTEGER NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX idx_comic_last_used ON comic_cache(last_used, date);

CREATE TABLE latest_date (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	latest TEXT NOT NULL,
	last_check INTEGER NOT NULL
);
`

// sqliteMigrations contains incremental schema changes
// Each migration is applied in order based on the current user_version
// sqliteMigrations[0] is empty because version 0 uses the base schema
var sqliteMigrations = []string{
	"",
}
