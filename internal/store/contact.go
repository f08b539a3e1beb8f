package store

import "time"

// UpsertContact inserts or updates a contact record.
func (db *DB) UpsertContact(c *Contact) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO contacts (id, name, number, is_business, is_me, is_group, is_blocked, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE contacts.name END,
			number = CASE WHEN excluded.number != '' THEN excluded.number ELSE contacts.number END,
			is_business = excluded.is_business,
			is_blocked = excluded.is_blocked`,
		c.ID, c.Name, c.Number, c.IsBusiness, c.IsMe, c.IsGroup, c.IsBlocked, now)
	return err
}

// ListContacts returns contacts ordered by name.
func (db *DB) ListContacts(limit, offset int) ([]Contact, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := db.Query(`
		SELECT id, name, number, is_business, is_me, is_group, is_blocked
		FROM contacts
		ORDER BY name, id
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.Name, &c.Number, &c.IsBusiness, &c.IsMe, &c.IsGroup, &c.IsBlocked); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}
