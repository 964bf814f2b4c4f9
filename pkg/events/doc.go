/*
Package events provides an in-memory event broker used to notify external
observers — chiefly a full-text search indexer — of committed changes.

The storage engine's transactions never touch the search index (see
pkg/storage's package doc, "Observer to full-text indexing"). Instead,
once a write transaction commits, the Manager publishes an Event
describing what changed; a subscriber reindexes at its own pace, outside
any core transaction.

# Architecture

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  Manager write op                                         │
	│       │ (after commit)                                    │
	│       ▼                                                    │
	│  Broker.Publish(&Event{Type: EventPageUpdated, ...})      │
	│       │                                                    │
	│  Broadcast Loop (non-blocking, buffer: 100)               │
	│       │                                                    │
	│       ▼                                                    │
	│  Subscriber Channels (buffer: 50 each)                    │
	│       │                                                    │
	│       ▼                                                    │
	│  Full-text indexer: list_page_source_entries_by_id, etc.  │
	└────────────────────────────────────────────────────────┘

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	go func() {
		for ev := range sub {
			reindex(ev.PageId)
		}
	}()

	mgr, err := storage.NewManager(db, assetRoot, storage.WithEventBroker(broker))

A publish never blocks the writer and a full subscriber buffer simply
drops the event; the indexer is expected to periodically reconcile by
re-scanning pages, not to treat the event stream as a durable log.
*/
package events
