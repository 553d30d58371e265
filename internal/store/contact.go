package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const upsertContactSQL = `
	INSERT INTO contacts (address, meta_contact_id, display_name, kind, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(address) DO UPDATE SET
		meta_contact_id = excluded.meta_contact_id,
		display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE contacts.display_name END,
		kind = excluded.kind,
		updated_at = excluded.updated_at`

// UpsertContact inserts or updates a directory row.
func (db *DB) UpsertContact(ctx context.Context, c *Contact) error {
	_, err := db.ExecContext(ctx, upsertContactSQL,
		c.Address, c.MetaContactID, c.DisplayName, c.Kind, time.Now().UnixMilli())
	return err
}

// BulkUpsertContacts inserts or updates multiple directory rows in a single transaction.
// Rows whose address already belongs to a MetaContact keep that binding.
func (db *DB) BulkUpsertContacts(ctx context.Context, contacts []Contact) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, c := range contacts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO contacts (address, meta_contact_id, display_name, kind, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(address) DO UPDATE SET
				display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE contacts.display_name END,
				updated_at = excluded.updated_at`,
			c.Address, c.MetaContactID, c.DisplayName, c.Kind, now); err != nil {
			return fmt.Errorf("upsert contact %q: %w", c.Address, err)
		}
	}
	return tx.Commit()
}

// GetContact returns the directory row for an address, or nil when unknown.
func (db *DB) GetContact(ctx context.Context, address string) (*Contact, error) {
	var c Contact
	err := db.QueryRowContext(ctx,
		`SELECT address, meta_contact_id, display_name, kind FROM contacts WHERE address = ?`, address).
		Scan(&c.Address, &c.MetaContactID, &c.DisplayName, &c.Kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ContactsByMeta returns every address bound to a MetaContact, ordered by address.
func (db *DB) ContactsByMeta(ctx context.Context, metaID string) ([]Contact, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT address, meta_contact_id, display_name, kind
		FROM contacts WHERE meta_contact_id = ?
		ORDER BY address`, metaID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.Address, &c.MetaContactID, &c.DisplayName, &c.Kind); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteMetaContact removes every address bound to a MetaContact and returns
// the removed addresses.
func (db *DB) DeleteMetaContact(ctx context.Context, metaID string) ([]string, error) {
	contacts, err := db.ContactsByMeta(ctx, metaID)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM contacts WHERE meta_contact_id = ?`, metaID); err != nil {
		return nil, err
	}
	addrs := make([]string, 0, len(contacts))
	for _, c := range contacts {
		addrs = append(addrs, c.Address)
	}
	return addrs, nil
}

// ContactCount returns the number of directory rows.
func (db *DB) ContactCount(ctx context.Context) (int64, error) {
	var count int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contacts`).Scan(&count)
	return count, err
}
