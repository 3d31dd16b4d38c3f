package storage

import "context"

// SQLiteMigrations returns the forward-linear DDL for Variant B. FTS5 is
// mirrored off the memory table via triggers, per §4.2; JSON columns are
// TEXT; timestamps are stored as INTEGER milliseconds.
func SQLiteMigrations() []Migration {
	return []Migration{
		{1, "events table", execAll(`
			CREATE TABLE IF NOT EXISTS events (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				sequence INTEGER NOT NULL UNIQUE,
				type TEXT NOT NULL,
				project_key TEXT NOT NULL,
				timestamp_ms INTEGER NOT NULL,
				data TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_events_project_seq ON events(project_key, sequence);
			CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
			CREATE TABLE IF NOT EXISTS event_sequence (
				project_key TEXT PRIMARY KEY,
				next_sequence INTEGER NOT NULL
			);
		`)},
		{2, "agents projection", execAll(`
			CREATE TABLE IF NOT EXISTS agents (
				project_key TEXT NOT NULL,
				name TEXT NOT NULL,
				program TEXT NOT NULL DEFAULT '',
				model TEXT NOT NULL DEFAULT '',
				task_description TEXT NOT NULL DEFAULT '',
				registered_at INTEGER NOT NULL,
				last_active_at INTEGER NOT NULL,
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
				sent_at INTEGER NOT NULL,
				sequence INTEGER NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id);
			CREATE TABLE IF NOT EXISTS message_recipients (
				message_id TEXT NOT NULL,
				agent TEXT NOT NULL,
				read_at INTEGER,
				acked_at INTEGER,
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
				exclusive INTEGER NOT NULL,
				reason TEXT NOT NULL DEFAULT '',
				acquired_at INTEGER NOT NULL,
				expires_at INTEGER,
				released_at INTEGER
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
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL,
				closed_at INTEGER,
				closed_reason TEXT,
				deleted_at INTEGER,
				deleted_by TEXT,
				delete_reason TEXT,
				dirty INTEGER NOT NULL DEFAULT 1
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
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL,
				deleted_at INTEGER
			);
			CREATE TABLE IF NOT EXISTS blocked_cache (
				cell_id TEXT PRIMARY KEY,
				blocker_ids TEXT NOT NULL DEFAULT '[]'
			);
		`)},
		{6, "memory projection", execAll(`
			CREATE TABLE IF NOT EXISTS memory (
				id TEXT PRIMARY KEY,
				project_key TEXT NOT NULL,
				content TEXT NOT NULL,
				metadata TEXT NOT NULL DEFAULT '{}',
				collection TEXT NOT NULL DEFAULT 'default',
				created_at INTEGER NOT NULL,
				confidence REAL NOT NULL DEFAULT 0.7,
				validated_at INTEGER,
				embedding BLOB
			);
			CREATE INDEX IF NOT EXISTS idx_memory_project ON memory(project_key);
			CREATE INDEX IF NOT EXISTS idx_memory_collection ON memory(collection);
			CREATE VIRTUAL TABLE IF NOT EXISTS memory_fts USING fts5(
				id UNINDEXED, content, content='memory', content_rowid='rowid'
			);
			CREATE TRIGGER IF NOT EXISTS memory_ai AFTER INSERT ON memory BEGIN
				INSERT INTO memory_fts(rowid, id, content) VALUES (new.rowid, new.id, new.content);
			END;
			CREATE TRIGGER IF NOT EXISTS memory_ad AFTER DELETE ON memory BEGIN
				INSERT INTO memory_fts(memory_fts, rowid, id, content) VALUES ('delete', old.rowid, old.id, old.content);
			END;
			CREATE TRIGGER IF NOT EXISTS memory_au AFTER UPDATE ON memory BEGIN
				INSERT INTO memory_fts(memory_fts, rowid, id, content) VALUES ('delete', old.rowid, old.id, old.content);
				INSERT INTO memory_fts(rowid, id, content) VALUES (new.rowid, new.id, new.content);
			END;
		`)},
		{7, "durable stream cursor", execAll(`
			CREATE TABLE IF NOT EXISTS stream_subscriptions (
				id TEXT PRIMARY KEY,
				project_key TEXT NOT NULL,
				last_sequence INTEGER NOT NULL DEFAULT 0,
				updated_at INTEGER NOT NULL
			);
		`)},
	}
}

// execAll runs a batch of ';'-separated DDL statements. SQLite's driver
// supports multi-statement Exec, so this is a single call.
func execAll(ddl string) func(ctx context.Context, tx Tx) error {
	return func(ctx context.Context, tx Tx) error {
		_, err := tx.Exec(ctx, ddl)
		return err
	}
}
