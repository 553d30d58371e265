package directory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/matheus3301/chatlog/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDirectory(t *testing.T) (*Directory, *store.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	d, err := New(db, "US", 16, nil)
	require.NoError(t, err)
	return d, db
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in       string
		wantAddr string
		wantKind string
	}{
		{"Bob@X.com", "bob@x.com", store.TypeIM},
		{"bob@x.com/Laptop", "bob@x.com", store.TypeIM},
		{"15551234567:12@s.whatsapp.net", "15551234567@s.whatsapp.net", store.TypeIM},
		{"+1 (555) 123-4567", "+15551234567", store.TypeSMS},
		{"555-123-4567", "+15551234567", store.TypeSMS},
		{"  ", "", store.TypeIM},
		{"SomeHandle", "somehandle", store.TypeIM},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			addr, kind := Normalize(tt.in, "US")
			assert.Equal(t, tt.wantAddr, addr)
			assert.Equal(t, tt.wantKind, kind)
		})
	}
}

func TestLinkResolveAliases(t *testing.T) {
	d, _ := testDirectory(t)
	ctx := context.Background()

	require.NoError(t, d.Link(ctx, "bob", "Bob@X.com", "Bob"))
	require.NoError(t, d.Link(ctx, "bob", "+1 555 123 4567", ""))

	c, err := d.Resolve(ctx, "bob@x.com")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "bob", c.MetaContactID)
	assert.Equal(t, "Bob", c.DisplayName)

	c, err = d.Resolve(ctx, "555.123.4567")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, store.TypeSMS, c.Kind)

	aliases, err := d.Aliases(ctx, "bob")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bob@x.com", "+15551234567"}, aliases)
}

func TestResolveUnknown(t *testing.T) {
	d, _ := testDirectory(t)

	c, err := d.Resolve(context.Background(), "nobody@x.com")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestEnsureRegistersUnknownAddress(t *testing.T) {
	d, _ := testDirectory(t)
	ctx := context.Background()

	c, err := d.Ensure(ctx, "Carol@Y.org", "Carol")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "carol@y.org", c.MetaContactID)

	// A second call keeps the existing binding.
	require.NoError(t, d.Link(ctx, "carol", "carol@y.org", ""))
	c, err = d.Ensure(ctx, "carol@y.org", "")
	require.NoError(t, err)
	assert.Equal(t, "carol", c.MetaContactID)
}

func TestDeleteInvalidatesCache(t *testing.T) {
	d, _ := testDirectory(t)
	ctx := context.Background()

	require.NoError(t, d.Link(ctx, "bob", "bob@x.com", "Bob"))
	c, err := d.Resolve(ctx, "bob@x.com")
	require.NoError(t, err)
	require.NotNil(t, c)

	require.NoError(t, d.Delete(ctx, "bob"))
	c, err = d.Resolve(ctx, "bob@x.com")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestSync(t *testing.T) {
	d, db := testDirectory(t)
	ctx := context.Background()

	require.NoError(t, d.Link(ctx, "bob", "bob@x.com", "Bob"))
	require.NoError(t, d.Sync(ctx, []store.Contact{
		{Address: "bob@x.com", DisplayName: "Bobby"},
		{Address: "Dave@Z.net", DisplayName: "Dave"},
		{Address: ""},
	}))

	count, err := db.ContactCount(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	c, err := d.Resolve(ctx, "bob@x.com")
	require.NoError(t, err)
	assert.Equal(t, "bob", c.MetaContactID, "sync must not rebind an existing address")
	assert.Equal(t, "Bobby", c.DisplayName)

	c, err = d.Resolve(ctx, "dave@z.net")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "dave@z.net", c.MetaContactID)
}
