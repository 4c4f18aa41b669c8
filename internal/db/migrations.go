package db

type migration struct {
	name string
	sql  string
}

// Timestamps are stored as INTEGER unix microseconds so that equality and
// ordering survive the round trip exactly.
var migrations = []migration{
	{
		name: "create users table",
		sql: `
			CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				username TEXT UNIQUE NOT NULL COLLATE NOCASE,
				password_hash TEXT NOT NULL,
				display_name TEXT NOT NULL DEFAULT '',
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			)
		`,
	},
	{
		name: "create conversations table",
		sql: `
			CREATE TABLE IF NOT EXISTS conversations (
				id TEXT PRIMARY KEY,
				participant_1 TEXT NOT NULL,
				participant_2 TEXT NOT NULL,
				last_message_at INTEGER NOT NULL,
				created_at INTEGER NOT NULL,
				CHECK (participant_1 < participant_2),
				UNIQUE (participant_1, participant_2)
			);
			CREATE INDEX IF NOT EXISTS idx_conversations_p2 ON conversations(participant_2);
		`,
	},
	{
		name: "create messages table",
		sql: `
			CREATE TABLE IF NOT EXISTS messages (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				id TEXT UNIQUE NOT NULL,
				conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE RESTRICT,
				sender_id TEXT NOT NULL,
				recipient_id TEXT NOT NULL,
				content TEXT NOT NULL,
				created_at INTEGER NOT NULL,
				read_at INTEGER
			);
			CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq);
			CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(conversation_id, recipient_id, read_at);
		`,
	},
}
