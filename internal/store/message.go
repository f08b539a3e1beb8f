package store

import "time"

// UpsertMessage inserts or updates a message (idempotent on id).
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (id, chat_id, body, sender, recipient, timestamp, type,
			from_me, is_forwarded, is_status, is_starred, has_media, ack_state, is_read,
			media_filename, media_mime, media_size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			body = excluded.body,
			timestamp = excluded.timestamp,
			type = excluded.type,
			is_starred = excluded.is_starred,
			has_media = excluded.has_media,
			ack_state = excluded.ack_state,
			is_read = excluded.is_read,
			media_filename = COALESCE(excluded.media_filename, messages.media_filename),
			media_mime = COALESCE(excluded.media_mime, messages.media_mime),
			media_size = COALESCE(excluded.media_size, messages.media_size)`,
		m.ID, m.ChatID, m.Body, m.Sender, m.Recipient, m.Timestamp, m.Type,
		m.FromMe, m.IsForwarded, m.IsStatus, m.IsStarred, m.HasMedia, m.AckState, m.IsRead,
		nullStr(m.MediaFilename), nullStr(m.MediaMime), nullInt(m.MediaSize), now)
	return err
}

// ListMessages returns messages for a chat ordered by timestamp descending,
// paginated by offset. Callers reverse to ascending for display.
func (db *DB) ListMessages(chatID string, limit, offset int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := db.Query(`
		SELECT id, chat_id, body, sender, recipient, timestamp, type,
			from_me, is_forwarded, is_status, is_starred, has_media, ack_state, is_read,
			COALESCE(media_filename, ''), COALESCE(media_mime, ''), COALESCE(media_size, 0)
		FROM messages
		WHERE chat_id = ?
		ORDER BY timestamp DESC, id
		LIMIT ? OFFSET ?`, chatID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Body, &m.Sender, &m.Recipient, &m.Timestamp, &m.Type,
			&m.FromMe, &m.IsForwarded, &m.IsStatus, &m.IsStarred, &m.HasMedia, &m.AckState, &m.IsRead,
			&m.MediaFilename, &m.MediaMime, &m.MediaSize); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// CountMessages returns the number of stored messages for a chat.
func (db *DB) CountMessages(chatID string) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE chat_id = ?`, chatID).Scan(&n)
	return n, err
}

// TrimMessages enforces the per-chat retention rule: everything but the
// `keep` most recent messages (by timestamp) is deleted.
func (db *DB) TrimMessages(chatID string, keep int) error {
	if keep <= 0 {
		return nil
	}
	_, err := db.Exec(`
		DELETE FROM messages
		WHERE chat_id = ? AND id NOT IN (
			SELECT id FROM messages
			WHERE chat_id = ?
			ORDER BY timestamp DESC, id
			LIMIT ?
		)`, chatID, chatID, keep)
	return err
}

// SetMessageAck updates the delivery ack of an own message.
func (db *DB) SetMessageAck(id string, ack int) error {
	_, err := db.Exec(`UPDATE messages SET ack_state = ? WHERE id = ? AND from_me = 1 AND ack_state < ?`, ack, id, ack)
	return err
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n int64) any {
	if n == 0 {
		return nil
	}
	return n
}
