package store

import (
	"database/sql"
	"time"
)

// UpsertChat inserts or updates a full chat record.
func (db *DB) UpsertChat(c *Chat) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO chats (id, name, is_group, is_read_only, unread_count, last_message_at, last_message_preview, archived, pinned, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			is_group = excluded.is_group,
			is_read_only = excluded.is_read_only,
			unread_count = excluded.unread_count,
			last_message_at = MAX(chats.last_message_at, excluded.last_message_at),
			last_message_preview = excluded.last_message_preview,
			archived = excluded.archived,
			pinned = excluded.pinned`,
		c.ID, c.Name, c.IsGroup, c.IsReadOnly, c.UnreadCount, c.LastMessageAt, c.LastMessagePreview, c.Archived, c.Pinned, now)
	return err
}

// TouchChat creates the chat row if absent and advances last_message_at and
// the preview. last_message_at only moves forward; the preview follows the
// newest message. An empty name never clobbers a known one.
func (db *DB) TouchChat(id, name string, ts int64, preview string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO chats (id, name, last_message_at, last_message_preview, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE chats.name END,
			last_message_at = MAX(chats.last_message_at, excluded.last_message_at),
			last_message_preview = CASE WHEN excluded.last_message_at >= chats.last_message_at
				THEN excluded.last_message_preview ELSE chats.last_message_preview END`,
		id, name, ts, preview, now)
	return err
}

// EnsureChat inserts a bare chat row if none exists. messages.chat_id
// references chats(id), so the row must exist before the chat's first
// message is written.
func (db *DB) EnsureChat(id string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`INSERT OR IGNORE INTO chats (id, created_at) VALUES (?, ?)`, id, now)
	return err
}

// IncrementUnread bumps a chat's unread counter by one.
func (db *DB) IncrementUnread(id string) error {
	_, err := db.Exec(`UPDATE chats SET unread_count = unread_count + 1 WHERE id = ?`, id)
	return err
}

// MarkChatRead resets a chat's unread counter.
func (db *DB) MarkChatRead(id string) error {
	_, err := db.Exec(`UPDATE chats SET unread_count = 0 WHERE id = ?`, id)
	return err
}

const chatColumns = `c.id,
	COALESCE(NULLIF(c.name,''), NULLIF(ct.name,''), NULLIF(ct.number,''), c.id) AS display_name,
	c.is_group, c.is_read_only, c.unread_count, c.last_message_at, c.last_message_preview, c.archived, c.pinned`

// ListChats returns chats ordered by last message timestamp descending.
// Display names fall back through the contacts table:
// chat.name -> contact.name -> contact.number -> chat.id
func (db *DB) ListChats(limit, offset int) ([]Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := db.Query(`
		SELECT `+chatColumns+`
		FROM chats c
		LEFT JOIN contacts ct ON c.id = ct.id
		ORDER BY c.last_message_at DESC, c.id
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.Name, &c.IsGroup, &c.IsReadOnly, &c.UnreadCount, &c.LastMessageAt, &c.LastMessagePreview, &c.Archived, &c.Pinned); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// CountChats returns the total number of chats.
func (db *DB) CountChats() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM chats`).Scan(&n)
	return n, err
}

// GetChat returns a single chat by id, or nil if absent.
func (db *DB) GetChat(id string) (*Chat, error) {
	var c Chat
	err := db.QueryRow(`
		SELECT `+chatColumns+`
		FROM chats c
		LEFT JOIN contacts ct ON c.id = ct.id
		WHERE c.id = ?`, id).
		Scan(&c.ID, &c.Name, &c.IsGroup, &c.IsReadOnly, &c.UnreadCount, &c.LastMessageAt, &c.LastMessagePreview, &c.Archived, &c.Pinned)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
