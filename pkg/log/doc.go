/*
Package log provides structured logging for the content storage engine
using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support
filtering by severity level.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("storage")                 │          │
	│  │  - WithPageID("01h...")                     │          │
	│  │  - WithUserID("01h...")                     │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Usage

Initializing the logger:

	import "github.com/kwgt/luwiki-sub000/pkg/log"

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Simple logging:

	log.Info("store opened")
	log.Debug("sweeping expired locks")
	log.Warn("stale lock token cleared")
	log.Error("asset file orphaned after failed commit")

Structured logging:

	log.Logger.Info().
		Str("page_id", pageID.String()).
		Uint64("revision", rev).
		Msg("page revision written")

Component loggers:

	storageLog := log.WithComponent("storage")
	storageLog.Debug().Msg("opening write transaction")

	pageLog := log.WithPageID(pageID.String())
	pageLog.Info().Msg("page renamed")

# Design Patterns

Global Logger Pattern: a single package-level Logger instance, initialized
once at process start, accessible from every package without threading a
logger through every call.

Context Logger Pattern: create child loggers carrying fixed fields (page
id, user id) and pass those down instead of repeating the field at every
call site. Asset operations log asset_id as a field on the storage
component logger rather than through a dedicated child logger, since
they always happen already inside a component-scoped call site.

Do:
  - Use structured fields for queryable data
  - Log errors with .Err() so the cause is captured
  - Include the entity id (page/user) as context

Don't:
  - Log Markdown source or asset bytes
  - Log password hashes or salts
  - Concatenate strings where a typed field would do
*/
package log
