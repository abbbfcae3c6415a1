package storage

import (
	"context"

	"github.com/roman-kulish/spectrum-scanner/internal/spectrum"
)

// Store provides an interface for recording spectrum scanning data. It
// handles sessions and spectrum rows in a thread-safe manner. All operations
// that write to the database should be considered atomic.
type Store interface {
	// CreateSession initializes a new scanning session and returns its unique
	// identifier. config may be a string, []byte or any JSON-serializable
	// value; it is stored verbatim for later inspection.
	CreateSession(ctx context.Context, deviceType, deviceID string, config any) (sessionID int64, err error)

	// Session retrieves a specific scanning session by its ID.
	Session(ctx context.Context, id int64) (session *spectrum.ScanSession, err error)

	// Sessions returns all scanning sessions stored in the database, ordered
	// by start time ascending.
	Sessions(ctx context.Context) (sessions []*spectrum.ScanSession, err error)

	// StoreRow saves one spectrum row under the given session.
	StoreRow(ctx context.Context, sessionID int64, row *spectrum.Row) error

	// Rows returns all spectrum rows recorded under the given session,
	// ordered by timestamp ascending.
	Rows(ctx context.Context, sessionID int64) ([]spectrum.Row, error)

	// Close releases all database connections and resources. After Close is
	// called, the store instance cannot be reused. It is safe to call Close
	// multiple times.
	Close() error
}

// New creates a Store backed by a SQLite database at dbPath. The database
// and schema are created lazily on first write.
func New(dbPath string) Store {
	return NewSqliteStore(dbPath)
}
