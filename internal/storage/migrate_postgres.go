package storage

// PostgresMigrations returns the forward-linear DDL for Variant A: JSONB
// metadata, a true vector(1024) column (pgvector extension) with an HNSW
// index, and GIN full text over to_tsvector('english', content). Version
// numbers are identical to SQLiteMigrations by design (§4.2: numbers are
// shared across backends, not per-dialect).
func PostgresMigrations() []Migration {
	return []Migration{
		{1, "events table", execAll(`
			CREATE EXTENSION IF NOT EXISTS vector;
			CREATE TABLE IF NOT EXISTS events (
				id BIGSERIAL PRIMARY KEY,
				sequence BIGINT NOT NULL UNIQUE,
				type TEXT NOT NULL,
				project_key TEXT NOT NULL,
				timestamp_ms BIGINT NOT NULL,
				data JSONB NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_events_project_seq ON events(project_key, sequence);
			CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
			CREATE TABLE IF NOT EXISTS event_sequence (
				project_key TEXT PRIMARY KEY,
				next_sequence BIGINT NOT NULL
			);
		`)},
		{2, "agents projection", execAll(`
			CREATE TABLE IF NOT EXISTS agents (
				project_key TEXT NOT NULL,
				name TEXT NOT NULL,
				program TEXT NOT NULL DEFAULT '',
				model TEXT NOT NULL DEFAULT '',
				task_description TEXT NOT NULL DEFAULT '',
				registered_at BIGINT NOT NULL,
				last_active_at BIGINT NOT NULL,
				PRIMARY KEY (project_key, name)
			);
		`)},
		{3, "messages projection", execAll(`
			CREATE TABLE IF NOT EXISTS messages (
				id TEXT PRIMARY KEY,
				project_key TEXT NOT NULL,
				from_agent TEXT NOT NULL,
				subject TEXT NOT NULL DEFAULT '',
				body TEXT NOT NULL DEFAULT '',
				thread_id TEXT,
				importance TEXT NOT NULL DEFAULT 'normal',
				sent_at BIGINT NOT NULL,
				sequence BIGINT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id);
			CREATE TABLE IF NOT EXISTS message_recipients (
				message_id TEXT NOT NULL,
				agent TEXT NOT NULL,
				read_at BIGINT,
				acked_at BIGINT,
				PRIMARY KEY (message_id, agent)
			);
			CREATE INDEX IF NOT EXISTS idx_msg_recipients_agent ON message_recipients(agent);
		`)},
		{4, "reservations projection", execAll(`
			CREATE TABLE IF NOT EXISTS reservations (
				id TEXT PRIMARY KEY,
				project_key TEXT NOT NULL,
				agent_name TEXT NOT NULL,
				path_pattern TEXT NOT NULL,
				exclusive BOOLEAN NOT NULL,
				reason TEXT NOT NULL DEFAULT '',
				acquired_at BIGINT NOT NULL,
				expires_at BIGINT,
				released_at BIGINT
			);
			CREATE INDEX IF NOT EXISTS idx_reservations_active ON reservations(project_key, released_at);
		`)},
		{5, "cells projection", execAll(`
			CREATE TABLE IF NOT EXISTS cells (
				id TEXT PRIMARY KEY,
				project_key TEXT NOT NULL,
				title TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				issue_type TEXT NOT NULL DEFAULT 'task',
				status TEXT NOT NULL DEFAULT 'open',
				priority INTEGER NOT NULL DEFAULT 2,
				parent_id TEXT,
				assignee TEXT,
				created_at BIGINT NOT NULL,
				updated_at BIGINT NOT NULL,
				closed_at BIGINT,
				closed_reason TEXT,
				deleted_at BIGINT,
				deleted_by TEXT,
				delete_reason TEXT,
				dirty BOOLEAN NOT NULL DEFAULT TRUE
			);
			CREATE INDEX IF NOT EXISTS idx_cells_project_status ON cells(project_key, status);
			CREATE INDEX IF NOT EXISTS idx_cells_parent ON cells(parent_id);
			CREATE INDEX IF NOT EXISTS idx_cells_dirty ON cells(dirty);
			CREATE TABLE IF NOT EXISTS cell_dependencies (
				cell_id TEXT NOT NULL,
				depends_on_id TEXT NOT NULL,
				relationship TEXT NOT NULL DEFAULT 'blocks',
				PRIMARY KEY (cell_id, depends_on_id, relationship)
			);
			CREATE INDEX IF NOT EXISTS idx_celldeps_depends ON cell_dependencies(depends_on_id);
			CREATE TABLE IF NOT EXISTS cell_labels (
				cell_id TEXT NOT NULL,
				label TEXT NOT NULL,
				PRIMARY KEY (cell_id, label)
			);
			CREATE TABLE IF NOT EXISTS cell_comments (
				id TEXT PRIMARY KEY,
				cell_id TEXT NOT NULL,
				author TEXT NOT NULL,
				body TEXT NOT NULL DEFAULT '',
				parent_id TEXT,
				created_at BIGINT NOT NULL,
				updated_at BIGINT NOT NULL,
				deleted_at BIGINT
			);
			CREATE TABLE IF NOT EXISTS blocked_cache (
				cell_id TEXT PRIMARY KEY,
				blocker_ids JSONB NOT NULL DEFAULT '[]'
			);
		`)},
		{6, "memory projection", execAll(`
			CREATE TABLE IF NOT EXISTS memory (
				id TEXT PRIMARY KEY,
				project_key TEXT NOT NULL,
				content TEXT NOT NULL,
				metadata JSONB NOT NULL DEFAULT '{}',
				collection TEXT NOT NULL DEFAULT 'default',
				created_at BIGINT NOT NULL,
				confidence REAL NOT NULL DEFAULT 0.7,
				validated_at BIGINT,
				embedding vector(1024),
				content_tsv tsvector GENERATED ALWAYS AS (to_tsvector('english', content)) STORED
			);
			CREATE INDEX IF NOT EXISTS idx_memory_project ON memory(project_key);
			CREATE INDEX IF NOT EXISTS idx_memory_collection ON memory(collection);
			CREATE INDEX IF NOT EXISTS idx_memory_fts ON memory USING GIN(content_tsv);
			CREATE INDEX IF NOT EXISTS idx_memory_embedding ON memory USING hnsw (embedding vector_cosine_ops);
		`)},
		{7, "durable stream cursor", execAll(`
			CREATE TABLE IF NOT EXISTS stream_subscriptions (
				id TEXT PRIMARY KEY,
				project_key TEXT NOT NULL,
				last_sequence BIGINT NOT NULL DEFAULT 0,
				updated_at BIGINT NOT NULL
			);
		`)},
	}
}
