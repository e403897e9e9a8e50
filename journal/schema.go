package journal

const Schema = `
CREATE TABLE IF NOT EXISTS var_calculations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	time DATETIME NOT NULL,
	method TEXT NOT NULL,
	pair TEXT NOT NULL,
	value REAL NOT NULL,
	confidence_level REAL NOT NULL,
	position_size REAL NOT NULL,
	volatility REAL NOT NULL,
	samples INTEGER NOT NULL,
	insufficient INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_var_time ON var_calculations(time);

CREATE TABLE IF NOT EXISTS correlations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	time DATETIME NOT NULL,
	pair1 TEXT NOT NULL,
	pair2 TEXT NOT NULL,
	correlation REAL NOT NULL,
	observations INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_correlations_time ON correlations(time);

CREATE TABLE IF NOT EXISTS risk_alerts (
	alert_id TEXT PRIMARY KEY,
	time DATETIME NOT NULL,
	type TEXT NOT NULL,
	severity TEXT NOT NULL,
	message TEXT NOT NULL,
	context TEXT NOT NULL DEFAULT '{}',
	resolved INTEGER NOT NULL DEFAULT 0,
	resolved_time DATETIME
);

CREATE INDEX IF NOT EXISTS idx_alerts_resolved ON risk_alerts(resolved, time);

CREATE TABLE IF NOT EXISTS position_adjustments (
	adjustment_id TEXT PRIMARY KEY,
	time DATETIME NOT NULL,
	pair TEXT NOT NULL,
	current_size REAL NOT NULL,
	recommended_size REAL NOT NULL,
	adjustment_ratio REAL NOT NULL,
	priority INTEGER NOT NULL,
	severity TEXT NOT NULL,
	reason TEXT NOT NULL
);
`
