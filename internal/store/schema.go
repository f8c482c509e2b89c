package store

// DDL per logical database. Statements are idempotent; Open applies them
// on every start. Timestamps are stored as Unix nanoseconds so ordering
// comparisons stay integer-cheap.

// ─────────────────────────────────────────────────────────────────────────────
// conversations — append-only message log per interaction key
// ─────────────────────────────────────────────────────────────────────────────

const ddlConversations = `
CREATE TABLE IF NOT EXISTS messages (
    id          TEXT    PRIMARY KEY,
    user_id     TEXT    NOT NULL,
    model_id    TEXT    NOT NULL,
    role        TEXT    NOT NULL,
    content     TEXT    NOT NULL,
    emotion     TEXT    NOT NULL DEFAULT '',
    latency_ns  INTEGER NOT NULL DEFAULT 0,
    created_at  INTEGER NOT NULL,
    seq         INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_key_seq
    ON messages (user_id, model_id, seq);
`

// ─────────────────────────────────────────────────────────────────────────────
// personality — memories, traits, adaptation log, bonding, avatar state
// ─────────────────────────────────────────────────────────────────────────────

const ddlPersonality = `
CREATE TABLE IF NOT EXISTS memories (
    id            TEXT    PRIMARY KEY,
    user_id       TEXT    NOT NULL,
    model_id      TEXT    NOT NULL,
    type          TEXT    NOT NULL,
    topic         TEXT    NOT NULL,
    content       TEXT    NOT NULL,
    importance    REAL    NOT NULL,
    created_at    INTEGER NOT NULL,
    last_accessed INTEGER NOT NULL,
    access_count  INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_memories_key
    ON memories (user_id, model_id);
CREATE INDEX IF NOT EXISTS idx_memories_key_topic
    ON memories (user_id, model_id, topic);

CREATE TABLE IF NOT EXISTS model_templates (
    model_id   TEXT NOT NULL,
    trait      TEXT NOT NULL,
    base_value REAL NOT NULL,
    PRIMARY KEY (model_id, trait)
);

CREATE TABLE IF NOT EXISTS traits (
    user_id       TEXT NOT NULL,
    model_id      TEXT NOT NULL,
    trait         TEXT NOT NULL,
    base_value    REAL NOT NULL,
    current_value REAL NOT NULL,
    last_reason   TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (user_id, model_id, trait)
);

CREATE TABLE IF NOT EXISTS trait_log (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id    TEXT    NOT NULL,
    model_id   TEXT    NOT NULL,
    trait      TEXT    NOT NULL,
    delta      REAL    NOT NULL,
    reason     TEXT    NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trait_log_key
    ON trait_log (user_id, model_id);

CREATE TABLE IF NOT EXISTS bonding (
    user_id    TEXT NOT NULL,
    model_id   TEXT NOT NULL,
    xp         INTEGER NOT NULL DEFAULT 0,
    bond_level INTEGER NOT NULL DEFAULT 1,
    stage      TEXT    NOT NULL DEFAULT 'stranger',
    trust      REAL    NOT NULL DEFAULT 0.5,
    affection  REAL    NOT NULL DEFAULT 0.5,
    PRIMARY KEY (user_id, model_id)
);

CREATE TABLE IF NOT EXISTS avatar_state (
    user_id   TEXT NOT NULL,
    model_id  TEXT NOT NULL,
    mood      TEXT NOT NULL DEFAULT 'neutral',
    energy    REAL NOT NULL DEFAULT 0.7,
    happiness REAL NOT NULL DEFAULT 0.7,
    stress    REAL NOT NULL DEFAULT 0.2,
    PRIMARY KEY (user_id, model_id)
);
`

// ─────────────────────────────────────────────────────────────────────────────
// live2d — persisted motion analyses per avatar model
// ─────────────────────────────────────────────────────────────────────────────

const ddlLive2D = `
CREATE TABLE IF NOT EXISTS motion_analyses (
    model_id    TEXT    NOT NULL,
    motion_name TEXT    NOT NULL,
    analysis    TEXT    NOT NULL,
    created_at  INTEGER NOT NULL,
    PRIMARY KEY (model_id, motion_name)
);
`

// ─────────────────────────────────────────────────────────────────────────────
// system — LLM response cache and host profile snapshots
// ─────────────────────────────────────────────────────────────────────────────

const ddlSystem = `
CREATE TABLE IF NOT EXISTS llm_cache (
    fingerprint TEXT    NOT NULL,
    model_id    TEXT    NOT NULL,
    response    TEXT    NOT NULL,
    cached_at   INTEGER NOT NULL,
    expires_at  INTEGER NOT NULL,
    PRIMARY KEY (fingerprint, model_id)
);

CREATE INDEX IF NOT EXISTS idx_llm_cache_expiry
    ON llm_cache (expires_at);

CREATE TABLE IF NOT EXISTS host_snapshots (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    snapshot   TEXT    NOT NULL,
    created_at INTEGER NOT NULL
);
`

// ─────────────────────────────────────────────────────────────────────────────
// users / user_profiles / user_sessions / app_state
// ─────────────────────────────────────────────────────────────────────────────

const ddlUsers = `
CREATE TABLE IF NOT EXISTS users (
    id           TEXT PRIMARY KEY,
    display_name TEXT NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL,
    last_seen    INTEGER NOT NULL
);
`

const ddlUserProfiles = `
CREATE TABLE IF NOT EXISTS profiles (
    user_id     TEXT PRIMARY KEY,
    age_range   TEXT NOT NULL DEFAULT '',
    language    TEXT NOT NULL DEFAULT '',
    preferences TEXT NOT NULL DEFAULT '{}'
);
`

const ddlUserSessions = `
CREATE TABLE IF NOT EXISTS session_contexts (
    user_id    TEXT NOT NULL,
    model_id   TEXT NOT NULL,
    session_id TEXT NOT NULL,
    messages   TEXT NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (user_id, model_id, session_id)
);
`

const ddlAppState = `
CREATE TABLE IF NOT EXISTS app_state (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);
`

// schemas maps each logical database to its DDL.
var schemas = map[string]string{
	dbConversations: ddlConversations,
	dbPersonality:   ddlPersonality,
	dbLive2D:        ddlLive2D,
	dbSystem:        ddlSystem,
	dbUsers:         ddlUsers,
	dbUserProfiles:  ddlUserProfiles,
	dbUserSessions:  ddlUserSessions,
	dbAppState:      ddlAppState,
}
