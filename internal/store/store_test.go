package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func ts(ms int64) sql.NullInt64 { return sql.NullInt64{Int64: ms, Valid: true} }

func im(local, remote, msgID, body string, at int64) *MessageRecord {
	return &MessageRecord{
		LocalID: local, RemoteID: remote, Direction: DirectionIn, Body: body, MsgID: msgID,
		Timestamp: ts(at), Type: sql.NullString{String: TypeIM, Valid: true},
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already migrated; a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != SchemaVersion {
		t.Errorf("version = %d, want %d", result.Version, SchemaVersion)
	}
}

// TestMigrateSchemaAcceptsLegacyRows verifies the nullable columns that the
// mapping layer defaults (timestamp, type, subject) really accept NULL.
func TestMigrateSchemaAcceptsLegacyRows(t *testing.T) {
	db := testDB(t)

	ops := []struct {
		desc  string
		query string
		args  []any
	}{
		{"legacy message", "INSERT INTO messages (local_id, remote_id, msg_id) VALUES (?, ?, ?)", []any{"a", "b@x", "m1"}},
		{"group without subject", "INSERT INTO group_messages (local_id, room_id, msg_id) VALUES (?, ?, ?)", []any{"a", "r", "g1"}},
		{"contact", "INSERT INTO contacts (address, meta_contact_id) VALUES (?, ?)", []any{"b@x", "meta-b"}},
		{"checkpoint", "INSERT INTO sync_state (key, value) VALUES (?, ?)", []any{"k", "v"}},
	}
	for _, op := range ops {
		t.Run(op.desc, func(t *testing.T) {
			if _, err := db.Exec(op.query, op.args...); err != nil {
				t.Fatalf("%s failed: %v", op.desc, err)
			}
		})
	}

	recs, err := db.FindMessages(context.Background(), MessageQuery{RemoteIDs: []string{"b@x"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	if recs[0].Timestamp.Valid || recs[0].Type.Valid {
		t.Errorf("legacy row should scan NULL timestamp and type, got %+v", recs[0])
	}
}

func TestInsertMessageDuplicateIsNoop(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	inserted, err := db.InsertMessage(ctx, im("alice", "bob@x.com", "m1", "hi", 1000))
	if err != nil {
		t.Fatal(err)
	}
	if !inserted {
		t.Fatal("first insert should report inserted")
	}
	inserted, err = db.InsertMessage(ctx, im("alice", "bob@x.com", "m1", "changed", 2000))
	if err != nil {
		t.Fatal(err)
	}
	if inserted {
		t.Error("duplicate insert should report not inserted")
	}

	count, err := db.MessageCount(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestFindMessagesNewestOrdering(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for _, r := range []*MessageRecord{
		im("alice", "bob@x.com", "m3", "three", 3000),
		im("alice", "bob@x.com", "m1", "one", 1000),
		im("alice", "bob@x.com", "m2b", "two b", 2000),
		im("alice", "bob@x.com", "m2a", "two a", 2000),
	} {
		if _, err := db.InsertMessage(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	recs, err := db.FindMessages(ctx, MessageQuery{RemoteIDs: []string{"bob@x.com"}, Limit: 3, Newest: true})
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, r := range recs {
		ids = append(ids, r.MsgID)
	}
	want := []string{"m2a", "m2b", "m3"}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
	}
}

func TestFindMessagesEmptyRemoteSet(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if _, err := db.InsertMessage(ctx, im("alice", "bob@x.com", "m1", "hi", 1000)); err != nil {
		t.Fatal(err)
	}
	recs, err := db.FindMessages(ctx, MessageQuery{})
	if err != nil {
		t.Fatalf("empty remote set should not error: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("got %d records, want 0", len(recs))
	}
}

func TestFindMessagesPeriodAndKeyword(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for _, r := range []*MessageRecord{
		im("alice", "bob@x.com", "m1", "Hello there", 1000),
		im("alice", "bob@x.com", "m2", "50% off", 2000),
		im("alice", "bob@x.com", "m3", "bye", 3000),
	} {
		if _, err := db.InsertMessage(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.UpsertContact(ctx, &Contact{Address: "bob@x.com", MetaContactID: "bob", DisplayName: "Bobby", Kind: TypeIM}); err != nil {
		t.Fatal(err)
	}

	since, until := int64(1000), int64(3000)
	recs, err := db.FindMessages(ctx, MessageQuery{RemoteIDs: []string{"bob@x.com"}, Since: &since, Until: &until})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].MsgID != "m1" || recs[1].MsgID != "m2" {
		t.Errorf("period [1000,3000) = %+v, want m1,m2", recs)
	}

	recs, err = db.FindMessages(ctx, MessageQuery{RemoteIDs: []string{"bob@x.com"}, Keyword: "HELLO"})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].MsgID != "m1" {
		t.Errorf("keyword HELLO = %+v, want m1", recs)
	}
	if recs[0].PeerName != "Bobby" {
		t.Errorf("peer name = %q, want Bobby", recs[0].PeerName)
	}

	// Wildcards in keywords are literal.
	recs, err = db.FindMessages(ctx, MessageQuery{RemoteIDs: []string{"bob@x.com"}, Keyword: "%"})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].MsgID != "m2" {
		t.Errorf("keyword %% = %+v, want m2", recs)
	}

	// Display name matches every record of the counterpart.
	recs, err = db.FindMessages(ctx, MessageQuery{RemoteIDs: []string{"bob@x.com"}, Keyword: "bobby"})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Errorf("keyword bobby matched %d records, want 3", len(recs))
	}
}

func TestKeywordFoldsUnicode(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for _, r := range []*MessageRecord{
		im("alice", "ana@x.com", "m1", "Olá, café às três", 1000),
		im("alice", "ana@x.com", "m2", "ΣΟΦΙΑ", 2000),
	} {
		if _, err := db.InsertMessage(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	for keyword, want := range map[string]string{"CAFÉ": "m1", "ÀS TRÊS": "m1", "σοφια": "m2"} {
		recs, err := db.FindMessages(ctx, MessageQuery{RemoteIDs: []string{"ana@x.com"}, Keyword: keyword})
		if err != nil {
			t.Fatal(err)
		}
		if len(recs) != 1 || recs[0].MsgID != want {
			t.Errorf("keyword %q = %+v, want %s", keyword, recs, want)
		}
	}

	last, err := db.LastMessagePerRemote(ctx, "", "CAFÉ", Page{})
	if err != nil {
		t.Fatal(err)
	}
	if len(last) != 1 || last[0].MsgID != "m1" {
		t.Errorf("last per remote for CAFÉ = %+v, want m1", last)
	}
}

func TestStatusTransitionsKeepOrdering(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for _, r := range []*MessageRecord{
		im("alice", "bob@x.com", "m1", "one", 1000),
		im("alice", "bob@x.com", "m2", "two", 2000),
	} {
		if _, err := db.InsertMessage(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	ok, err := db.SetMessageRead(ctx, "alice", "bob@x.com", "m1", true)
	if err != nil || !ok {
		t.Fatalf("SetMessageRead = %v, %v", ok, err)
	}
	ok, err = db.SetMessageFailed(ctx, "alice", "bob@x.com", "m2")
	if err != nil || !ok {
		t.Fatalf("SetMessageFailed = %v, %v", ok, err)
	}
	ok, err = db.SetMessageProviderID(ctx, "alice", "bob@x.com", "m2", "sms-gw-7")
	if err != nil || !ok {
		t.Fatalf("SetMessageProviderID = %v, %v", ok, err)
	}
	ok, err = db.SetMessageRead(ctx, "alice", "bob@x.com", "missing", true)
	if err != nil || ok {
		t.Fatalf("SetMessageRead(missing) = %v, %v; want false, nil", ok, err)
	}

	recs, err := db.FindMessages(ctx, MessageQuery{RemoteIDs: []string{"bob@x.com"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].MsgID != "m1" || recs[1].MsgID != "m2" {
		t.Fatalf("ordering changed: %+v", recs)
	}
	if !recs[0].Read || recs[0].Timestamp.Int64 != 1000 {
		t.Errorf("m1 = %+v, want read with ts 1000", recs[0])
	}
	if !recs[1].Failed || recs[1].ProviderID != "sms-gw-7" {
		t.Errorf("m2 = %+v, want failed with provider id", recs[1])
	}
}

func TestLastMessagePerRemote(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for _, r := range []*MessageRecord{
		im("alice", "bob@x.com", "m1", "old", 1000),
		im("alice", "bob@x.com", "m2", "new", 3000),
		im("alice", "+15551234", "s1", "yo", 2000),
	} {
		if _, err := db.InsertMessage(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	recs, err := db.LastMessagePerRemote(ctx, "", "", Page{})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].MsgID != "m2" || recs[1].MsgID != "s1" {
		t.Errorf("got %+v, want m2 then s1", recs)
	}

	recs, err = db.LastMessagePerRemote(ctx, "alice", "old", Page{})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].MsgID != "m1" {
		t.Errorf("keyword old = %+v, want m1", recs)
	}

	recs, err = db.LastMessagePerRemote(ctx, "", "", Page{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].MsgID != "s1" {
		t.Errorf("second page = %+v, want s1", recs)
	}
}

func TestGroupQueries(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	recs := []*GroupMessageRecord{
		{LocalID: "alice", RoomID: "room1", MsgID: "c1", Timestamp: ts(500), Type: TypeStatus, Subject: sql.NullString{String: "Team", Valid: true}},
		{LocalID: "alice", RoomID: "room1", SenderID: "bob", MsgID: "g1", Body: "first", Timestamp: ts(1000), Type: TypeGroup},
		{LocalID: "alice", RoomID: "room1", SenderID: "bob", MsgID: "g2", Body: "second", Timestamp: ts(2000), Type: TypeGroup},
		{LocalID: "alice", RoomID: "room2", MsgID: "c2", Timestamp: ts(700), Type: TypeStatus},
		{LocalID: "alice", RoomID: "room2", MsgID: "c3", Timestamp: ts(900), Type: TypeStatus, Subject: sql.NullString{String: "Renamed", Valid: true}},
	}
	for _, r := range recs {
		if _, err := db.InsertGroupMessage(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	last, err := db.FindGroupMessages(ctx, GroupQuery{RoomIDs: []string{"room1"}, Limit: 1, Newest: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(last) != 1 || last[0].MsgID != "g2" {
		t.Errorf("last group message = %+v, want g2", last)
	}

	perRoom, err := db.LastGroupMessagePerRoom(ctx, "", "", Page{})
	if err != nil {
		t.Fatal(err)
	}
	if len(perRoom) != 1 || perRoom[0].RoomID != "room1" {
		t.Errorf("per room = %+v, want only room1", perRoom)
	}

	markers, err := db.FirstStatusPerRoom(ctx, "", Page{})
	if err != nil {
		t.Fatal(err)
	}
	if len(markers) != 1 || markers[0].MsgID != "c2" {
		t.Errorf("creation markers = %+v, want c2", markers)
	}

	subject, ok, err := db.RoomSubject(ctx, "room2")
	if err != nil || !ok || subject != "Renamed" {
		t.Errorf("RoomSubject = %q, %v, %v; want Renamed", subject, ok, err)
	}
}

func TestInTxRollsBackOnError(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	err := db.InTx(ctx, func(tx *Tx) error {
		if _, err := tx.InsertMessage(ctx, im("alice", "bob@x.com", "m1", "hi", 1000)); err != nil {
			return err
		}
		return sql.ErrTxDone
	})
	if err == nil {
		t.Fatal("expected error from InTx")
	}
	count, err := db.MessageCount(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0 after rollback", count)
	}
}

func TestContacts(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := db.UpsertContact(ctx, &Contact{Address: "bob@x.com", MetaContactID: "bob", DisplayName: "Bob", Kind: TypeIM}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertContact(ctx, &Contact{Address: "+15551234", MetaContactID: "bob", Kind: TypeSMS}); err != nil {
		t.Fatal(err)
	}

	// Bulk import must not rebind an address that already has a MetaContact.
	if err := db.BulkUpsertContacts(ctx, []Contact{{Address: "bob@x.com", MetaContactID: "other", DisplayName: "Robert", Kind: TypeIM}}); err != nil {
		t.Fatal(err)
	}
	c, err := db.GetContact(ctx, "bob@x.com")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.MetaContactID != "bob" || c.DisplayName != "Robert" {
		t.Errorf("got %+v, want meta bob with name Robert", c)
	}

	aliases, err := db.ContactsByMeta(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(aliases) != 2 {
		t.Fatalf("got %d aliases, want 2", len(aliases))
	}

	removed, err := db.DeleteMetaContact(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 2 {
		t.Errorf("removed %v, want 2 addresses", removed)
	}
	c, err = db.GetContact(ctx, "bob@x.com")
	if err != nil {
		t.Fatal(err)
	}
	if c != nil {
		t.Errorf("expected nil after delete, got %+v", c)
	}
}

func TestCheckpoint(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if _, ok, err := db.Checkpoint(ctx, "last_history_batch"); err != nil || ok {
		t.Fatalf("missing checkpoint = %v, %v", ok, err)
	}
	if err := db.SetCheckpoint(ctx, "last_history_batch", "1000"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetCheckpoint(ctx, "last_history_batch", "2000"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := db.Checkpoint(ctx, "last_history_batch")
	if err != nil || !ok || v != "2000" {
		t.Errorf("Checkpoint = %q, %v, %v; want 2000", v, ok, err)
	}
}
