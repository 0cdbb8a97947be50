package persistence

var schemaPostgres = []string{
	`CREATE TABLE IF NOT EXISTS price_samples (
		id BIGSERIAL PRIMARY KEY,
		symbol TEXT NOT NULL,
		price NUMERIC(18,6) NOT NULL,
		observed_at TIMESTAMPTZ NOT NULL,
		source_id TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS price_samples_symbol_time ON price_samples (symbol, observed_at)`,
	`CREATE TABLE IF NOT EXISTS movements (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		classification TEXT NOT NULL,
		change_pct DOUBLE PRECISION NOT NULL,
		current_price NUMERIC(18,6) NOT NULL,
		reference_price NUMERIC(18,6) NOT NULL,
		detected_at TIMESTAMPTZ NOT NULL,
		candidates INTEGER NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		record JSONB NOT NULL,
		explanation_text TEXT,
		explanation_confidence DOUBLE PRECISION
	)`,
	`CREATE INDEX IF NOT EXISTS movements_symbol_time ON movements (symbol, detected_at DESC)`,
}

var schemaSQLite = []string{
	`CREATE TABLE IF NOT EXISTS price_samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		price TEXT NOT NULL,
		observed_at TIMESTAMP NOT NULL,
		source_id TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS price_samples_symbol_time ON price_samples (symbol, observed_at)`,
	`CREATE TABLE IF NOT EXISTS movements (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		classification TEXT NOT NULL,
		change_pct REAL NOT NULL,
		current_price TEXT NOT NULL,
		reference_price TEXT NOT NULL,
		detected_at TIMESTAMP NOT NULL,
		candidates INTEGER NOT NULL,
		confidence REAL NOT NULL,
		record TEXT NOT NULL,
		explanation_text TEXT,
		explanation_confidence REAL
	)`,
	`CREATE INDEX IF NOT EXISTS movements_symbol_time ON movements (symbol, detected_at)`,
}
