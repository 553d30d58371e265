package store

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"time"
)

const groupColumns = `id, local_id, sender_id, room_id, direction, body, msg_id, timestamp,
	subject, is_read, is_failed, left_room, msg_type`

func scanGroupMessage(s scanner) (GroupMessageRecord, error) {
	var r GroupMessageRecord
	err := s.Scan(&r.ID, &r.LocalID, &r.SenderID, &r.RoomID, &r.Direction, &r.Body, &r.MsgID, &r.Timestamp,
		&r.Subject, &r.Read, &r.Failed, &r.LeftRoom, &r.Type)
	return r, err
}

func insertGroupMessage(ctx context.Context, ex execer, r *GroupMessageRecord) (bool, error) {
	typ := r.Type
	if typ == "" {
		typ = TypeGroup
	}
	return affected(ex.ExecContext(ctx, `
		INSERT INTO group_messages (local_id, sender_id, room_id, direction, body, msg_id, timestamp, subject, is_read, is_failed, left_room, msg_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(local_id, room_id, msg_id) DO NOTHING`,
		r.LocalID, r.SenderID, r.RoomID, r.Direction, r.Body, r.MsgID, r.Timestamp, r.Subject,
		r.Read, r.Failed, r.LeftRoom, typ, time.Now().UnixMilli()))
}

// InsertGroupMessage appends a group record. It reports false without error
// when a record with the same (local, room, msg id) already exists.
func (db *DB) InsertGroupMessage(ctx context.Context, r *GroupMessageRecord) (bool, error) {
	return insertGroupMessage(ctx, db, r)
}

// SetGroupMessageRead updates the read flag of one group record.
func (db *DB) SetGroupMessageRead(ctx context.Context, localID, roomID, msgID string, read bool) (bool, error) {
	return affected(db.ExecContext(ctx,
		`UPDATE group_messages SET is_read = ? WHERE local_id = ? AND room_id = ? AND msg_id = ?`,
		read, localID, roomID, msgID))
}

// SetGroupMessageFailed marks one group record as failed.
func (db *DB) SetGroupMessageFailed(ctx context.Context, localID, roomID, msgID string) (bool, error) {
	return affected(db.ExecContext(ctx,
		`UPDATE group_messages SET is_failed = 1 WHERE local_id = ? AND room_id = ? AND msg_id = ?`,
		localID, roomID, msgID))
}

// FindGroupMessages returns group records matching q ordered by timestamp,
// then message id, ascending.
func (db *DB) FindGroupMessages(ctx context.Context, q GroupQuery) ([]GroupMessageRecord, error) {
	var w whereBuilder
	if q.LocalID != "" {
		w.add("local_id = ?", q.LocalID)
	}
	w.in("room_id", q.RoomIDs)
	if !q.IncludeStatus {
		w.add("msg_type = ?", TypeGroup)
	}
	if q.Since != nil {
		w.add("COALESCE(timestamp, 0) >= ?", *q.Since)
	}
	if q.Until != nil {
		w.add("COALESCE(timestamp, 0) < ?", *q.Until)
	}
	if q.MsgID != "" {
		w.add("msg_id = ?", q.MsgID)
	}
	if q.Keyword != "" {
		w.add(foldLike("body"), likePattern(q.Keyword))
	}
	tail, targs := orderAndLimit("timestamp", "msg_id", q.Newest, q.Limit)

	recs, err := db.queryGroup(ctx, "SELECT "+groupColumns+" FROM group_messages"+w.String()+tail, append(w.args, targs...)...)
	if err != nil {
		return nil, err
	}
	if q.Newest {
		slices.Reverse(recs)
	}
	return recs, nil
}

// LastGroupMessagePerRoom returns the newest non-status record per room,
// newest first. With a keyword, the newest matching record per room.
func (db *DB) LastGroupMessagePerRoom(ctx context.Context, localID, keyword string, page Page) ([]GroupMessageRecord, error) {
	var w whereBuilder
	w.add("msg_type = ?", TypeGroup)
	if localID != "" {
		w.add("local_id = ?", localID)
	}
	if keyword != "" {
		w.add(foldLike("body"), likePattern(keyword))
	}
	tail, pargs := page.clause()
	return db.queryGroup(ctx, `
		SELECT `+groupColumns+`
		FROM (
			SELECT *, ROW_NUMBER() OVER (PARTITION BY room_id ORDER BY COALESCE(timestamp, 0) DESC, msg_id DESC) AS rn
			FROM group_messages`+w.String()+`
		)
		WHERE rn = 1
		ORDER BY COALESCE(timestamp, 0) DESC, msg_id DESC`+tail, append(w.args, pargs...)...)
}

// FirstStatusPerRoom returns the earliest status record of every room that
// has no regular messages yet, newest first. These are the creation markers
// that keep empty rooms visible in the activity feed.
func (db *DB) FirstStatusPerRoom(ctx context.Context, localID string, page Page) ([]GroupMessageRecord, error) {
	var w whereBuilder
	w.add("g.msg_type = ?", TypeStatus)
	w.add("NOT EXISTS (SELECT 1 FROM group_messages x WHERE x.room_id = g.room_id AND x.msg_type = ?)", TypeGroup)
	if localID != "" {
		w.add("g.local_id = ?", localID)
	}
	tail, pargs := page.clause()
	return db.queryGroup(ctx, `
		SELECT `+groupColumns+`
		FROM (
			SELECT g.*, ROW_NUMBER() OVER (PARTITION BY g.room_id ORDER BY COALESCE(g.timestamp, 0) ASC, g.msg_id ASC) AS rn
			FROM group_messages g`+w.String()+`
		)
		WHERE rn = 1
		ORDER BY COALESCE(timestamp, 0) DESC, msg_id DESC`+tail, append(w.args, pargs...)...)
}

// RoomSubject returns the most recently stored subject of a room.
func (db *DB) RoomSubject(ctx context.Context, roomID string) (string, bool, error) {
	var subject string
	err := db.QueryRowContext(ctx, `
		SELECT subject FROM group_messages
		WHERE room_id = ? AND subject IS NOT NULL AND subject != ''
		ORDER BY COALESCE(timestamp, 0) DESC, msg_id DESC
		LIMIT 1`, roomID).Scan(&subject)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return subject, true, nil
}

// GroupMessageCount returns the total number of group records.
func (db *DB) GroupMessageCount(ctx context.Context) (int64, error) {
	var count int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM group_messages`).Scan(&count)
	return count, err
}

func (db *DB) queryGroup(ctx context.Context, query string, args ...any) ([]GroupMessageRecord, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var recs []GroupMessageRecord
	for rows.Next() {
		r, err := scanGroupMessage(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}
