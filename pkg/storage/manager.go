package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kwgt/luwiki-sub000/pkg/events"
	"github.com/kwgt/luwiki-sub000/pkg/log"
	"github.com/kwgt/luwiki-sub000/pkg/types"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

// RootPagePath is the path of the wiki's root page.
const RootPagePath = types.RootPagePath

// Manager is the single façade over the open store and the asset root
// directory. Every public operation is a method on Manager; callers from
// multiple goroutines may call into it concurrently, bbolt's own
// single-writer transaction serializes mutations.
type Manager struct {
	db        *bolt.DB
	assetRoot string
	broker    *events.Broker
	log       zerolog.Logger
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithEventBroker makes the Manager publish an events.Event after committed
// page and asset writes, so an external full-text indexer can react without
// polling. Lock and user writes, CreateDraftPage, CompactPageSource,
// UndeleteAsset and DeleteAssetHard publish no event. Omitting this option makes writes a no-op with respect to
// eventing; nothing else changes.
func WithEventBroker(b *events.Broker) Option {
	return func(m *Manager) { m.broker = b }
}

// WithLogger overrides the default component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// Open opens (creating if necessary) a bbolt database at dbPath and
// wraps it in a Manager rooted at assetRoot.
func Open(dbPath, assetRoot string, opts ...Option) (*Manager, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory %q: %w", filepath.Dir(dbPath), err)
	}

	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", dbPath, err)
	}

	m, err := NewManager(db, assetRoot, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

// NewManager wraps an already-open bbolt database. Buckets are created if
// missing; the asset root directory is created if missing.
func NewManager(db *bolt.DB, assetRoot string, opts ...Option) (*Manager, error) {
	if err := createBuckets(db); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	if err := os.MkdirAll(assetRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create asset root %q: %w", assetRoot, err)
	}

	m := &Manager{
		db:        db,
		assetRoot: assetRoot,
		log:       log.WithComponent("storage"),
	}
	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// Close closes the underlying store. It does not touch the asset root.
func (m *Manager) Close() error {
	return m.db.Close()
}

func (m *Manager) publish(ev *events.Event) {
	if m.broker == nil || ev == nil {
		return
	}
	m.broker.Publish(ev)
}

// EnsureDefaultRoot installs the built-in root page if path "/" is
// absent, authored by authorUsername. If "/" already exists this is a
// no-op. A concurrent creator winning the race is tolerated: the insert
// path's PageAlreadyExists is mapped to success, matching the source
// system's documented ensure-default-root behavior.
func (m *Manager) EnsureDefaultRoot(authorUsername string) error {
	const op = "EnsureDefaultRoot"

	exists := false
	err := m.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPagePath)
		exists = b.Get([]byte(RootPagePath)) != nil
		return nil
	})
	if err != nil {
		return types.WrapError(op, types.KindInternal, err)
	}
	if exists {
		return nil
	}

	_, err = m.CreatePage(RootPagePath, authorUsername, defaultRootSource())
	if err != nil {
		if e, ok := err.(*types.Error); ok && e.Kind == types.KindPageAlreadyExists {
			m.log.Debug().Msg("default root already created by a concurrent bootstrap")
			return nil
		}
		return err
	}

	m.log.Info().Str("author", authorUsername).Msg("installed default root page")
	return nil
}
