package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// CreateReminder stores a new reminder in pending state and returns its id.
// Callers validate body/recipients/scheduledAt before reaching the store.
func (db *DB) CreateReminder(body string, recipients []string, scheduledAt int64, repeatRule string) (int64, error) {
	encoded, err := json.Marshal(recipients)
	if err != nil {
		return 0, fmt.Errorf("encode recipients: %w", err)
	}
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		INSERT INTO reminders (body, recipients, scheduled_at, repeat_rule, status, attempts, created_at)
		VALUES (?, ?, ?, NULLIF(?, ''), ?, 0, ?)`,
		body, string(encoded), scheduledAt, repeatRule, ReminderPending, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const reminderColumns = `id, body, recipients, scheduled_at, COALESCE(repeat_rule, ''),
	status, attempts, last_error, COALESCE(sent_at, 0), created_at`

func scanReminder(row interface{ Scan(...any) error }) (*Reminder, error) {
	var r Reminder
	var recipients string
	err := row.Scan(&r.ID, &r.Body, &recipients, &r.ScheduledAt, &r.RepeatRule,
		&r.Status, &r.Attempts, &r.LastError, &r.SentAt, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(recipients), &r.Recipients); err != nil {
		return nil, fmt.Errorf("decode recipients for reminder %d: %w", r.ID, err)
	}
	return &r, nil
}

// GetReminder returns a reminder by id, or nil if absent.
func (db *DB) GetReminder(id int64) (*Reminder, error) {
	r, err := scanReminder(db.QueryRow(`SELECT `+reminderColumns+` FROM reminders WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// ListReminders returns reminders ordered by scheduled time ascending.
func (db *DB) ListReminders(limit, offset int) ([]Reminder, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := db.Query(`
		SELECT `+reminderColumns+`
		FROM reminders
		ORDER BY scheduled_at ASC, id
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var reminders []Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		reminders = append(reminders, *r)
	}
	return reminders, rows.Err()
}

// DueReminders returns up to max pending reminders whose scheduled time has
// passed, oldest first. Rows already marked processing are excluded, so a
// reminder claimed earlier in a tick does not reappear.
func (db *DB) DueReminders(now int64, max int) ([]Reminder, error) {
	if max <= 0 {
		max = 20
	}
	rows, err := db.Query(`
		SELECT `+reminderColumns+`
		FROM reminders
		WHERE status = ? AND scheduled_at <= ?
		ORDER BY scheduled_at ASC, id
		LIMIT ?`, ReminderPending, now, max)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var due []Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, *r)
	}
	return due, rows.Err()
}

// MarkReminderProcessing claims a pending reminder: status moves to
// processing and attempts is incremented, in one statement. Returns false if
// the reminder was no longer pending (deleted or claimed elsewhere).
func (db *DB) MarkReminderProcessing(id int64) (bool, error) {
	res, err := db.Exec(`
		UPDATE reminders SET status = ?, attempts = attempts + 1
		WHERE id = ? AND status = ?`,
		ReminderProcessing, id, ReminderPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkReminderSent finalizes a successful one-shot delivery.
func (db *DB) MarkReminderSent(id int64, sentAt int64) error {
	_, err := db.Exec(`UPDATE reminders SET status = ?, sent_at = ?, last_error = '' WHERE id = ?`,
		ReminderSent, sentAt, id)
	return err
}

// MarkReminderFailed records a terminal delivery failure.
func (db *DB) MarkReminderFailed(id int64, lastError string) error {
	_, err := db.Exec(`UPDATE reminders SET status = ?, last_error = ? WHERE id = ?`,
		ReminderFailed, lastError, id)
	return err
}

// RescheduleReminder moves a recurring reminder back to pending with its
// next occurrence.
func (db *DB) RescheduleReminder(id int64, nextAt int64) error {
	_, err := db.Exec(`UPDATE reminders SET status = ?, scheduled_at = ?, last_error = '' WHERE id = ?`,
		ReminderPending, nextAt, id)
	return err
}

// DeleteReminder removes a reminder. Deleting a missing id is not an error.
func (db *DB) DeleteReminder(id int64) error {
	_, err := db.Exec(`DELETE FROM reminders WHERE id = ?`, id)
	return err
}
