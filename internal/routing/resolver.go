package routing

import (
	"context"
	"sync"
	"time"

	"github.com/openpress/cptables/internal/schema"
	"github.com/openpress/cptables/pkg/logger"
)

// Route is the per-call routing decision for one post type.
type Route struct {
	Diverted     bool
	ContentTable string
	MetaTable    string
}

// sharedRoute is what every undiverted post type gets.
var sharedRoute = Route{
	Diverted:     false,
	ContentTable: schema.SharedContentTable,
	MetaTable:    schema.SharedMetaTable,
}

// Resolver is the interception point the CRUD entry points consult on every
// call. The decision is pure per call; the only retained state is a
// short-lived table-existence cache, since the flag and the actual tables
// can drift if a drop step failed. A flag without its tables resolves to the
// shared pair.
type Resolver struct {
	flags  *FlagStore
	schema *schema.Store

	mu        sync.Mutex
	existence map[string]existenceEntry
}

type existenceEntry struct {
	exists    bool
	checkedAt time.Time
}

// existenceTTL bounds how stale the table-existence cache may get. Matches
// the lifetime of a slow request, not a deploy cycle.
const existenceTTL = 30 * time.Second

// NewResolver creates a resolver over the flag store and schema store.
func NewResolver(flags *FlagStore, schemaStore *schema.Store) *Resolver {
	return &Resolver{
		flags:     flags,
		schema:    schemaStore,
		existence: make(map[string]existenceEntry),
	}
}

// Resolve returns the table pair that is authoritative for the post type.
// Errors reading the flag set degrade to the shared pair rather than failing
// the caller's CRUD operation.
func (r *Resolver) Resolve(ctx context.Context, postType string) Route {
	enabled, err := r.flags.IsEnabled(ctx, postType)
	if err != nil {
		logger.Warn("routing flags unavailable, using shared tables: %v", err)
		return sharedRoute
	}
	if !enabled {
		return sharedRoute
	}

	// Both tables of the pair must exist; a half-failed drop can leave
	// one behind, and meta queries against a missing table would fail.
	if !r.tableExists(schema.ContentTable(postType)) || !r.tableExists(schema.MetaTable(postType)) {
		logger.Warn("post type %s flagged for custom storage but its table pair is incomplete, using shared tables", postType)
		return sharedRoute
	}

	return Route{
		Diverted:     true,
		ContentTable: schema.ContentTable(postType),
		MetaTable:    schema.MetaTable(postType),
	}
}

// Invalidate drops the cached existence entries for a post type. Called by
// the orchestrator after schema changes.
func (r *Resolver) Invalidate(postType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.existence, schema.ContentTable(postType))
	delete(r.existence, schema.MetaTable(postType))
}

func (r *Resolver) tableExists(table string) bool {
	r.mu.Lock()
	entry, ok := r.existence[table]
	r.mu.Unlock()
	if ok && time.Since(entry.checkedAt) < existenceTTL {
		return entry.exists
	}

	exists := r.schema.HasTable(table)
	r.mu.Lock()
	r.existence[table] = existenceEntry{exists: exists, checkedAt: time.Now()}
	r.mu.Unlock()
	return exists
}
