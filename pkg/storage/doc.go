/*
Package storage implements the content storage engine: the transactional
data layer behind a self-hosted wiki's pages, assets, locks and users.

The package is organized the way the domain's components are organized,
leaf components first:

  - schema.go:       bbolt bucket layout, key encodings, bootstrap
  - linkrefs.go:      Markdown internal-link extraction
  - txn_helpers.go:   lock verification, recursive subtree collection,
                       draft/soft/hard delete cores shared by every
                       write operation
  - users.go:         credential records
  - locks.go:         page lock leases
  - pages_read.go:     point lookups, prefix listing, revision listing
  - pages_write.go:    create, put, rename, rollback, compact, delete,
                       undelete, and their recursive variants
  - assets.go:        content-addressed asset files plus their metadata
  - collector.go:      periodic Prometheus gauge collection

A single façade, Manager, owns the open bbolt database and the asset
root directory and exposes every operation as a method. All of Manager's
methods are safe to call from multiple goroutines: bbolt itself
serializes write transactions and snapshots read transactions, so the
Manager adds no locking of its own.

# Architecture

	┌────────────────────── STORAGE ENGINE ─────────────────────┐
	│                                                             │
	│  ┌─────────────────────────────────────────────┐          │
	│  │                  Manager                      │          │
	│  │  - db: *bbolt.DB  (single-writer, MVCC)       │          │
	│  │  - assetRoot: content-addressed file tree     │          │
	│  │  - broker: *events.Broker (optional)          │          │
	│  └──────────────────┬──────────────────────────┘          │
	│                     │                                       │
	│  ┌──────────────────▼──────────────────────────┐          │
	│  │    bbolt buckets (names end in "_table")      │          │
	│  │  page_path          (path -> page id)        │          │
	│  │  deleted_page_path  (path -> {page id})      │          │
	│  │  page_index         (page id -> PageIndex)   │          │
	│  │  page_source        ((id,rev) -> PageSource) │          │
	│  │  lock_info          (token -> LockInfo)      │          │
	│  │  asset_info         (asset id -> AssetInfo)  │          │
	│  │  asset_lookup       ((page,name) -> asset id)│          │
	│  │  asset_group        (page id -> {asset id})  │          │
	│  │  user_id            (username -> user id)    │          │
	│  │  user_info          (user id -> UserInfo)    │          │
	│  └──────────────────┬──────────────────────────┘          │
	│                     │                                       │
	│  ┌──────────────────▼──────────────────────────┐          │
	│  │         <assetRoot>/xx/yyy/<asset id>         │          │
	│  └────────────────────────────────────────────────┘        │
	└─────────────────────────────────────────────────────────────┘

Every write opens one bbolt write transaction, performs its mutations,
commits, and only then touches the filesystem: asset file deletions
happen strictly after the commit that detached them, and an asset file
written ahead of its metadata row is removed if the transaction that was
going to record it aborts. See txn_helpers.go and assets.go for the two
places this ordering is load-bearing.

# Observer to full-text indexing

The core never reads or writes a search index. ListPageIndexEntries,
ListPageSourceEntries and ListPageSourceEntriesByID exist so an external
indexer can re-scan state on its own schedule, and the Manager publishes
an events.Event after committed page and asset writes (see
WithEventBroker for the writes that publish none) so that indexer doesn't
have to poll blindly. Both paths are read-only from the core's perspective;
reindexing never happens inside a core transaction.
*/
package storage
