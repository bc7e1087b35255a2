package store

// sqliteSchema stores money as TEXT so decimal values round-trip exactly and
// timestamps as fixed-width UTC TEXT (see tsLayout) so they sort lexically.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS account (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	balance TEXT NOT NULL,
	initial_balance TEXT NOT NULL,
	last_updated TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	ticker TEXT PRIMARY KEY,
	quantity INTEGER NOT NULL CHECK (quantity > 0),
	average_price TEXT NOT NULL,
	last_updated TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	ticker TEXT NOT NULL,
	side TEXT NOT NULL CHECK (side IN ('BUY', 'SELL')),
	quantity INTEGER NOT NULL CHECK (quantity > 0),
	price TEXT NOT NULL,
	total_cost TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_timestamp ON trades(timestamp);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS account (
	id SMALLINT PRIMARY KEY CHECK (id = 1),
	balance NUMERIC NOT NULL CHECK (balance >= 0),
	initial_balance NUMERIC NOT NULL,
	last_updated TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	ticker TEXT PRIMARY KEY,
	quantity BIGINT NOT NULL CHECK (quantity > 0),
	average_price NUMERIC NOT NULL,
	last_updated TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
	id BIGSERIAL PRIMARY KEY,
	timestamp TIMESTAMPTZ NOT NULL,
	ticker TEXT NOT NULL,
	side TEXT NOT NULL CHECK (side IN ('BUY', 'SELL')),
	quantity BIGINT NOT NULL CHECK (quantity > 0),
	price NUMERIC NOT NULL,
	total_cost NUMERIC NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_timestamp ON trades(timestamp);
`
