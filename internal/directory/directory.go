// Package directory resolves protocol addresses and phone numbers to
// MetaContacts, the higher-level identities conversations are grouped by.
package directory

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/matheus3301/chatlog/internal/store"
	"go.uber.org/zap"
)

// DefaultCacheSize bounds the address resolution cache.
const DefaultCacheSize = 1024

// Directory is the contact-directory service backed by the contacts table.
type Directory struct {
	db     *store.DB
	cache  *lru.Cache[string, store.Contact]
	region string
	logger *zap.Logger
}

// New creates a directory. region is the default phone-number region (ISO 3166 code).
func New(db *store.DB, region string, cacheSize int, logger *zap.Logger) (*Directory, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, store.Contact](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create contact cache: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{db: db, cache: cache, region: region, logger: logger}, nil
}

// Normalize canonicalizes an address using the directory's phone region.
func (d *Directory) Normalize(address string) (string, string) {
	return Normalize(address, d.region)
}

// Resolve returns the directory entry for an address, or nil when the
// address belongs to no MetaContact.
func (d *Directory) Resolve(ctx context.Context, address string) (*store.Contact, error) {
	addr, _ := d.Normalize(address)
	if addr == "" {
		return nil, nil
	}
	if c, ok := d.cache.Get(addr); ok {
		return &c, nil
	}
	c, err := d.db.GetContact(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", addr, err)
	}
	if c == nil {
		return nil, nil
	}
	d.cache.Add(addr, *c)
	return c, nil
}

// Aliases returns every address of a MetaContact.
func (d *Directory) Aliases(ctx context.Context, metaID string) ([]string, error) {
	contacts, err := d.db.ContactsByMeta(ctx, metaID)
	if err != nil {
		return nil, fmt.Errorf("aliases of %q: %w", metaID, err)
	}
	out := make([]string, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, c.Address)
	}
	return out, nil
}

// Link binds an address to a MetaContact, replacing any previous binding.
func (d *Directory) Link(ctx context.Context, metaID, address, displayName string) error {
	addr, kind := d.Normalize(address)
	if addr == "" || metaID == "" {
		return fmt.Errorf("link: empty address or meta contact id")
	}
	if err := d.db.UpsertContact(ctx, &store.Contact{
		Address:       addr,
		MetaContactID: metaID,
		DisplayName:   displayName,
		Kind:          kind,
	}); err != nil {
		return fmt.Errorf("link %q to %q: %w", addr, metaID, err)
	}
	d.cache.Remove(addr)
	return nil
}

// Ensure returns the entry for an address, registering it as its own
// MetaContact when it is unknown.
func (d *Directory) Ensure(ctx context.Context, address, displayName string) (*store.Contact, error) {
	c, err := d.Resolve(ctx, address)
	if err != nil || c != nil {
		return c, err
	}
	addr, _ := d.Normalize(address)
	if err := d.Link(ctx, addr, addr, displayName); err != nil {
		return nil, err
	}
	d.logger.Debug("registered contact", zap.String("address", addr))
	return d.Resolve(ctx, addr)
}

// Delete removes a MetaContact and all its aliases.
func (d *Directory) Delete(ctx context.Context, metaID string) error {
	removed, err := d.db.DeleteMetaContact(ctx, metaID)
	if err != nil {
		return fmt.Errorf("delete %q: %w", metaID, err)
	}
	for _, addr := range removed {
		d.cache.Remove(addr)
	}
	return nil
}

// Sync bulk-imports contacts, each address becoming its own MetaContact
// unless it is already bound.
func (d *Directory) Sync(ctx context.Context, contacts []store.Contact) error {
	normalized := make([]store.Contact, 0, len(contacts))
	for _, c := range contacts {
		addr, kind := d.Normalize(c.Address)
		if addr == "" {
			continue
		}
		meta := c.MetaContactID
		if meta == "" {
			meta = addr
		}
		normalized = append(normalized, store.Contact{Address: addr, MetaContactID: meta, DisplayName: c.DisplayName, Kind: kind})
	}
	if err := d.db.BulkUpsertContacts(ctx, normalized); err != nil {
		return fmt.Errorf("sync contacts: %w", err)
	}
	d.cache.Purge()
	d.logger.Info("contacts synced", zap.Int("count", len(normalized)))
	return nil
}
