/*
Package types defines the core data structures used throughout the content
storage engine.

This package contains the domain model shared by every component of the
engine: sortable identifiers, the page index and its revisions, lock leases,
asset metadata, and user records. These types are used by pkg/storage for
persistence and by pkg/events for change notification; they carry no
dependency on the storage backend itself.

# Architecture

The types package is the foundation of the engine's data model. It defines:

  - Id: a single 128-bit sortable identifier shared by pages, assets, users
    and lock tokens (distinguished by named aliases, not by representation)
  - PageIndex: the tagged live/draft page header, revision bounds and
    rename history
  - PageSource: one page revision, including its optional rename marker and
    link-reference snapshot
  - LockInfo: a page lock lease, minted with a 5 minute expiration
  - AssetInfo: asset metadata, independent from the asset's file bytes
  - UserInfo: a credential record with salted, memory-hard password hashing

All types are designed to be:
  - Serializable (JSON, for storage as bbolt values)
  - Self-contained (no storage-backend imports)
  - Closed over a fixed error surface (see Error, Kind)

# Usage

Minting an id and building a page index:

	id := types.NewPageId()
	idx := types.NewLivePageIndex(id, "/docs/intro", 1)
*/
package types
