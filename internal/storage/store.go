package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Config is the minimal configuration needed to open a FactStore.
//
// When to use:
//   - Use Config when constructing a FactStore via New or a Managed handle via Open.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
//   - MaxConns <= 0 leaves the backend's default pool size in place.
//
// Errors:
//   - New returns an error if Kind is empty or unsupported.
type Config struct {
	Kind     string
	DSN      string
	MaxConns int
}

// FactWriter covers the table-level operations of a load.
type FactWriter interface {
	// TableExists reports whether table exists in the target store.
	TableExists(ctx context.Context, table string) (bool, error)

	// CreateFactTable creates table with the given columns if it does not
	// exist yet.
	CreateFactTable(ctx context.Context, table string, columns []ColumnSpec) error

	// DropTable drops table if it exists.
	DropTable(ctx context.Context, table string) error

	// DeleteRelationRows deletes every row of table whose relation column
	// equals relation and returns the number of deleted rows.
	DeleteRelationRows(ctx context.Context, table, relation string) (int64, error)

	// InsertFactRows inserts rows aligned with columns. Values are nil (NULL),
	// string, float64 or time.Time.
	InsertFactRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)
}

// ProgressStore persists the (kind, name) records of ProgressTable.
type ProgressStore interface {
	EnsureProgressTable(ctx context.Context) error
	LoadProgress(ctx context.Context) ([]ProgressRecord, error)
	SaveProgress(ctx context.Context, rec ProgressRecord) error
	DeleteProgress(ctx context.Context, rec ProgressRecord) error
	DropProgressTable(ctx context.Context) error
}

// Dialect renders the statements that differ between backends. Rendering is
// pure and never touches the database.
type Dialect interface {
	// CreateIndexSQL renders idx on table. It reports false when the backend
	// cannot express the index (for example full text on sqlite).
	CreateIndexSQL(table string, idx IndexSpec) (string, bool)

	// StatisticsSQL returns the statements that refresh planner statistics
	// for table, in execution order.
	StatisticsSQL(table string, columns []string) []string
}

// FactStore is the backend-agnostic interface of the loader.
//
// IMPORTANT: This interface is intentionally minimal and focused on the
// operations the load engine, the progress tracker and the index scheduler
// need. Each backend implements these semantics in its own idiomatic way
// (Postgres CopyFrom, SQLite multi-row INSERT, SQL Server bracket quoting,
// etc).
//
// Concurrency:
//   - Implementations must be safe for concurrent use; the index scheduler
//     issues statements from several goroutines against one store.
type FactStore interface {
	FactWriter
	ProgressStore
	Dialect

	// Ping checks that the underlying connection is usable.
	Ping(ctx context.Context) error

	// Exec runs a single statement that returns no rows.
	Exec(ctx context.Context, sql string) error

	// Close releases any backend resources (connections, pools, etc).
	//
	// Edge cases:
	//   - Callers should treat Close as "call once".
	Close()
}

type factory func(ctx context.Context, cfg Config) (FactStore, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//   - The `kind` string becomes the lookup key used by New.
//
// Edge cases:
//   - Registering the same kind more than once panics. This is intentional to
//     fail fast and avoid ambiguous backend selection.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs a FactStore using the registered backend factory.
//
// Concurrency:
//   - Safe for concurrent use with Register. New takes a read lock while
//     selecting the factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (FactStore, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// Kinds returns the registered backend kinds in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
