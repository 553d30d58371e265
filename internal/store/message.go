package store

import (
	"context"
	"slices"
	"time"
)

const messageColumns = `m.id, m.local_id, m.remote_id, m.direction, m.body, m.msg_id, m.timestamp,
	m.is_read, m.is_failed, m.msg_type, m.provider_id, COALESCE(ct.display_name, '')`

const messageFrom = ` FROM messages m LEFT JOIN contacts ct ON ct.address = m.remote_id`

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (MessageRecord, error) {
	var r MessageRecord
	err := s.Scan(&r.ID, &r.LocalID, &r.RemoteID, &r.Direction, &r.Body, &r.MsgID, &r.Timestamp,
		&r.Read, &r.Failed, &r.Type, &r.ProviderID, &r.PeerName)
	return r, err
}

func insertMessage(ctx context.Context, ex execer, r *MessageRecord) (bool, error) {
	return affected(ex.ExecContext(ctx, `
		INSERT INTO messages (local_id, remote_id, direction, body, msg_id, timestamp, is_read, is_failed, msg_type, provider_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(local_id, remote_id, msg_id) DO NOTHING`,
		r.LocalID, r.RemoteID, r.Direction, r.Body, r.MsgID, r.Timestamp, r.Read, r.Failed, r.Type, r.ProviderID,
		time.Now().UnixMilli()))
}

// InsertMessage appends a one-to-one record. It reports false without error
// when a record with the same (local, remote, msg id) already exists.
func (db *DB) InsertMessage(ctx context.Context, r *MessageRecord) (bool, error) {
	return insertMessage(ctx, db, r)
}

// SetMessageRead updates the read flag of one record.
func (db *DB) SetMessageRead(ctx context.Context, localID, remoteID, msgID string, read bool) (bool, error) {
	return affected(db.ExecContext(ctx,
		`UPDATE messages SET is_read = ? WHERE local_id = ? AND remote_id = ? AND msg_id = ?`,
		read, localID, remoteID, msgID))
}

// SetMessageFailed marks one record as failed.
func (db *DB) SetMessageFailed(ctx context.Context, localID, remoteID, msgID string) (bool, error) {
	return affected(db.ExecContext(ctx,
		`UPDATE messages SET is_failed = 1 WHERE local_id = ? AND remote_id = ? AND msg_id = ?`,
		localID, remoteID, msgID))
}

// SetMessageProviderID attaches the secondary delivery-provider id to one record.
func (db *DB) SetMessageProviderID(ctx context.Context, localID, remoteID, msgID, providerID string) (bool, error) {
	return affected(db.ExecContext(ctx,
		`UPDATE messages SET provider_id = ? WHERE local_id = ? AND remote_id = ? AND msg_id = ?`,
		providerID, localID, remoteID, msgID))
}

// FindMessages returns one-to-one records matching q ordered by timestamp,
// then message id, ascending.
func (db *DB) FindMessages(ctx context.Context, q MessageQuery) ([]MessageRecord, error) {
	var w whereBuilder
	if q.LocalID != "" {
		w.add("m.local_id = ?", q.LocalID)
	}
	w.in("m.remote_id", q.RemoteIDs)
	if q.Since != nil {
		w.add("COALESCE(m.timestamp, 0) >= ?", *q.Since)
	}
	if q.Until != nil {
		w.add("COALESCE(m.timestamp, 0) < ?", *q.Until)
	}
	if q.MsgID != "" {
		w.add("m.msg_id = ?", q.MsgID)
	}
	if q.Keyword != "" {
		p := likePattern(q.Keyword)
		w.add("("+foldLike("m.body")+" OR "+foldLike("m.remote_id")+" OR "+foldLike("ct.display_name")+")", p, p, p)
	}
	tail, targs := orderAndLimit("m.timestamp", "m.msg_id", q.Newest, q.Limit)

	rows, err := db.QueryContext(ctx, "SELECT "+messageColumns+messageFrom+w.String()+tail, append(w.args, targs...)...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var recs []MessageRecord
	for rows.Next() {
		r, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if q.Newest {
		slices.Reverse(recs)
	}
	return recs, nil
}

// LastMessagePerRemote returns the newest record per remote id, newest first.
// With a keyword, the newest matching record per remote is returned.
func (db *DB) LastMessagePerRemote(ctx context.Context, localID, keyword string, page Page) ([]MessageRecord, error) {
	var w whereBuilder
	if localID != "" {
		w.add("m.local_id = ?", localID)
	}
	if keyword != "" {
		p := likePattern(keyword)
		w.add("("+foldLike("m.body")+" OR "+foldLike("m.remote_id")+" OR "+foldLike("ct.display_name")+")", p, p, p)
	}
	tail, pargs := page.clause()

	rows, err := db.QueryContext(ctx, `
		SELECT id, local_id, remote_id, direction, body, msg_id, timestamp,
			is_read, is_failed, msg_type, provider_id, peer_name
		FROM (
			SELECT m.*, COALESCE(ct.display_name, '') AS peer_name,
				ROW_NUMBER() OVER (PARTITION BY m.remote_id ORDER BY COALESCE(m.timestamp, 0) DESC, m.msg_id DESC) AS rn
			`+messageFrom+w.String()+`
		)
		WHERE rn = 1
		ORDER BY COALESCE(timestamp, 0) DESC, msg_id DESC`+tail, append(w.args, pargs...)...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var recs []MessageRecord
	for rows.Next() {
		r, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// MessageCount returns the total number of one-to-one records.
func (db *DB) MessageCount(ctx context.Context) (int64, error) {
	var count int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
