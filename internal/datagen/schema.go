package datagen

// Raw table DDL. Variation is stored as text, matching how assignment
// services emit it.

const ddlViewedExperiment = `CREATE TABLE viewed_experiment (
    user_id VARCHAR NOT NULL,
    anonymous_id VARCHAR NOT NULL,
    session_id VARCHAR NOT NULL,
    browser VARCHAR,
    country VARCHAR,
    timestamp TIMESTAMP NOT NULL,
    experiment_id VARCHAR NOT NULL,
    variation VARCHAR NOT NULL
)`

const ddlOrders = `CREATE TABLE orders (
    user_id VARCHAR NOT NULL,
    anonymous_id VARCHAR NOT NULL,
    session_id VARCHAR NOT NULL,
    browser VARCHAR,
    country VARCHAR,
    timestamp TIMESTAMP NOT NULL,
    qty INTEGER NOT NULL,
    amount DOUBLE PRECISION
)`

const ddlEvents = `CREATE TABLE events (
    user_id VARCHAR NOT NULL,
    anonymous_id VARCHAR NOT NULL,
    session_id VARCHAR NOT NULL,
    browser VARCHAR,
    country VARCHAR,
    timestamp TIMESTAMP NOT NULL,
    event_name VARCHAR NOT NULL,
    value INTEGER NOT NULL
)`

const ddlPages = `CREATE TABLE pages (
    user_id VARCHAR NOT NULL,
    anonymous_id VARCHAR NOT NULL,
    session_id VARCHAR NOT NULL,
    browser VARCHAR,
    country VARCHAR,
    timestamp TIMESTAMP NOT NULL,
    path VARCHAR NOT NULL
)`

const ddlSessions = `CREATE TABLE sessions (
    user_id VARCHAR NOT NULL,
    anonymous_id VARCHAR NOT NULL,
    session_id VARCHAR NOT NULL,
    browser VARCHAR,
    country VARCHAR,
    timestamp TIMESTAMP NOT NULL,
    pages INTEGER NOT NULL,
    duration_seconds INTEGER NOT NULL
)`

const ddlUserAttributes = `CREATE TABLE user_attributes (
    user_id VARCHAR PRIMARY KEY,
    browser VARCHAR,
    country VARCHAR
)`

const ddlIdentityMap = `CREATE TABLE identity_map (
    user_id VARCHAR NOT NULL,
    anonymous_id VARCHAR NOT NULL
)`

var rawTables = []struct {
	name string
	ddl  string
}{
	{"viewed_experiment", ddlViewedExperiment},
	{"orders", ddlOrders},
	{"events", ddlEvents},
	{"pages", ddlPages},
	{"sessions", ddlSessions},
	{"user_attributes", ddlUserAttributes},
	{"identity_map", ddlIdentityMap},
}

var rawIndexes = []string{
	"CREATE INDEX idx_viewed_experiment_exp_user ON viewed_experiment(experiment_id, user_id)",
	"CREATE INDEX idx_viewed_experiment_ts ON viewed_experiment(timestamp)",
	"CREATE INDEX idx_orders_user_ts ON orders(user_id, timestamp)",
	"CREATE INDEX idx_events_user_ts ON events(user_id, timestamp)",
	"CREATE INDEX idx_events_anon_ts ON events(anonymous_id, timestamp)",
	"CREATE INDEX idx_pages_user_ts ON pages(user_id, timestamp)",
	"CREATE INDEX idx_sessions_user_ts ON sessions(user_id, timestamp)",
	"CREATE INDEX idx_identity_map_anon ON identity_map(anonymous_id)",
}
