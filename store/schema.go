package store

const schema = `
CREATE TABLE IF NOT EXISTS candles (
	symbol TEXT NOT NULL,
	timeframe TEXT NOT NULL,
	ts INTEGER NOT NULL,
	open REAL NOT NULL,
	high REAL NOT NULL,
	low REAL NOT NULL,
	close REAL NOT NULL,
	volume REAL NOT NULL,
	source TEXT NOT NULL,
	ingested_at TEXT NOT NULL,
	PRIMARY KEY (symbol, timeframe, ts)
);

CREATE TABLE IF NOT EXISTS orderbook_snapshots (
	symbol TEXT NOT NULL,
	ts TEXT NOT NULL,
	bid REAL NOT NULL,
	ask REAL NOT NULL,
	bid_size REAL NOT NULL,
	ask_size REAL NOT NULL,
	ingested_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orderbook_symbol_ts ON orderbook_snapshots(symbol, ts);

CREATE TABLE IF NOT EXISTS news_items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title_hash TEXT NOT NULL UNIQUE,
	source TEXT NOT NULL,
	sentiment REAL NOT NULL,
	source_weight REAL NOT NULL,
	published_at TEXT NOT NULL,
	observed_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_news_published ON news_items(published_at);

CREATE TABLE IF NOT EXISTS feature_snapshots (
	symbol TEXT NOT NULL,
	ts INTEGER NOT NULL,
	feature_version TEXT NOT NULL,
	features_json TEXT NOT NULL,
	computed_at TEXT NOT NULL,
	window_start TEXT NOT NULL,
	window_end TEXT NOT NULL,
	PRIMARY KEY (symbol, ts, feature_version)
);

CREATE TABLE IF NOT EXISTS order_intents (
	intent_id TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	intent_json TEXT NOT NULL,
	intent_hash TEXT NOT NULL,
	status TEXT NOT NULL,
	expires_at TEXT NOT NULL,
	strategy TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	size REAL NOT NULL,
	price REAL NOT NULL,
	confidence REAL NOT NULL,
	rationale TEXT NOT NULL,
	features_ref TEXT,
	mode TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS approvals (
	intent_id TEXT PRIMARY KEY,
	intent_hash TEXT NOT NULL,
	approved_at TEXT NOT NULL,
	approved_by TEXT NOT NULL,
	phrase_hash TEXT NOT NULL,
	FOREIGN KEY (intent_id) REFERENCES order_intents(intent_id)
);

CREATE TABLE IF NOT EXISTS executions (
	exec_id TEXT PRIMARY KEY,
	intent_id TEXT NOT NULL,
	intent_hash TEXT NOT NULL,
	executed_at TEXT NOT NULL,
	mode TEXT NOT NULL,
	status TEXT NOT NULL,
	fee REAL NOT NULL,
	slippage_model TEXT NOT NULL,
	details_json TEXT NOT NULL,
	FOREIGN KEY (intent_id) REFERENCES order_intents(intent_id)
);
CREATE INDEX IF NOT EXISTS idx_executions_time ON executions(executed_at);

CREATE TABLE IF NOT EXISTS fills (
	fill_id TEXT PRIMARY KEY,
	exec_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	size REAL NOT NULL,
	price REAL NOT NULL,
	fee REAL NOT NULL,
	fee_currency TEXT NOT NULL,
	ts TEXT NOT NULL,
	FOREIGN KEY (exec_id) REFERENCES executions(exec_id)
);
CREATE INDEX IF NOT EXISTS idx_fills_symbol_ts ON fills(symbol, ts);

CREATE TABLE IF NOT EXISTS trade_results (
	trade_id TEXT PRIMARY KEY,
	intent_id TEXT NOT NULL,
	pnl REAL NOT NULL,
	created_at TEXT NOT NULL,
	mode TEXT NOT NULL,
	meta_json TEXT NOT NULL,
	FOREIGN KEY (intent_id) REFERENCES order_intents(intent_id)
);

CREATE TABLE IF NOT EXISTS audit_logs (
	event_id TEXT PRIMARY KEY,
	ts TEXT NOT NULL,
	event TEXT NOT NULL,
	data_json TEXT NOT NULL
);
`
