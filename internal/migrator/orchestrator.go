// Package migrator coordinates full migration runs: schema preparation, the
// batch movers, reference rewriting, routing flag flips and cache
// invalidation, in the order that keeps readers consistent at every step.
package migrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openpress/cptables/internal/common"
	"github.com/openpress/cptables/internal/domain"
	"github.com/openpress/cptables/internal/mover"
	"github.com/openpress/cptables/internal/rewriter"
	"github.com/openpress/cptables/internal/routing"
	"github.com/openpress/cptables/internal/schema"
	"github.com/openpress/cptables/pkg/cache"
	"github.com/openpress/cptables/pkg/logger"
)

// Options carries the tunables a run needs from configuration.
type Options struct {
	PostTypes []string
	BatchSize int
	StatusTTL time.Duration
	LockTTL   time.Duration
}

// Orchestrator runs activation and deactivation migrations for registered
// post types. One migration per post type at a time, enforced by a lease in
// the cache service; different post types may migrate concurrently.
type Orchestrator struct {
	db         *gorm.DB
	schema     *schema.Store
	flags      *routing.FlagStore
	resolver   *routing.Resolver
	cache      cache.Service
	rewriter   *rewriter.Rewriter
	registered map[string]bool
	batchSize  int
	statusTTL  time.Duration
	lockTTL    time.Duration
}

// New wires an orchestrator from its collaborators.
func New(db *gorm.DB, schemaStore *schema.Store, flags *routing.FlagStore, resolver *routing.Resolver, cacheSvc cache.Service, opts Options) *Orchestrator {
	registered := make(map[string]bool, len(opts.PostTypes))
	for _, t := range opts.PostTypes {
		registered[t] = true
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	statusTTL := opts.StatusTTL
	if statusTTL <= 0 {
		statusTTL = cache.TTLStatus
	}
	lockTTL := opts.LockTTL
	if lockTTL <= 0 {
		lockTTL = 2 * time.Hour
	}
	return &Orchestrator{
		db:         db,
		schema:     schemaStore,
		flags:      flags,
		resolver:   resolver,
		cache:      cacheSvc,
		rewriter:   rewriter.New(db),
		registered: registered,
		batchSize:  batchSize,
		statusTTL:  statusTTL,
		lockTTL:    lockTTL,
	}
}

func (o *Orchestrator) validate(postType string) error {
	if !domain.IsValidTypeName(postType) {
		return common.ErrInvalidTypeName
	}
	if !o.registered[postType] {
		return common.ErrUnknownPostType
	}
	return nil
}

// Enable moves a post type's rows out of the shared tables into its custom
// pair and flips the routing flag. Re-running against an already-enabled
// type is harmless: the movers find nothing left in the shared tables and
// the upserts make partial prior runs converge.
func (o *Orchestrator) Enable(ctx context.Context, postType string) (*domain.MigrationStatus, error) {
	return o.run(ctx, postType, domain.DirectionToCustom)
}

// Disable moves the rows back to the shared tables, rewrites references for
// any remapped identities, and clears the routing flag before the first row
// moves so new writes land in the shared tables throughout.
func (o *Orchestrator) Disable(ctx context.Context, postType string) (*domain.MigrationStatus, error) {
	return o.run(ctx, postType, domain.DirectionToShared)
}

func (o *Orchestrator) run(ctx context.Context, postType, direction string) (*domain.MigrationStatus, error) {
	if err := o.validate(postType); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	ok, err := o.cache.AcquireLease(ctx, postType, runID, o.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire migration lease: %w", err)
	}
	if !ok {
		return nil, common.ErrMigrationInProgress
	}
	defer func() {
		// Release with a fresh context so a cancelled run still frees
		// the lease instead of waiting out the TTL.
		if err := o.cache.ReleaseLease(context.Background(), postType); err != nil {
			logger.WithPostType(postType).Warn().Err(err).Msg("failed to release migration lease")
		}
	}()

	log := logger.WithRunID(runID)
	log.Info().Str("post_type", postType).Str("direction", direction).Msg("migration started")

	st := &domain.MigrationStatus{
		RunID:     runID,
		PostType:  postType,
		Phase:     domain.PhaseInProgress,
		Direction: direction,
		Message:   "starting",
	}
	o.setStatus(ctx, st)

	if direction == domain.DirectionToCustom {
		return o.runForward(ctx, st)
	}
	return o.runReverse(ctx, st)
}

func (o *Orchestrator) runForward(ctx context.Context, st *domain.MigrationStatus) (*domain.MigrationStatus, error) {
	postType := st.PostType

	st.Message = "preparing custom tables"
	o.setStatus(ctx, st)
	if err := o.schema.EnsureSchema(postType); err != nil {
		return o.fail(ctx, st, fmt.Errorf("prepare custom tables: %w", err))
	}

	content := mover.NewContentMover(o.db, postType, domain.DirectionToCustom)
	if err := o.moveAll(ctx, content, st, "rows", true); err != nil {
		return o.fail(ctx, st, fmt.Errorf("move content rows: %w", err))
	}

	meta := mover.NewMetaMover(o.db, postType, domain.DirectionToCustom, content.Remap())
	if err := o.moveAll(ctx, meta, st, "meta rows", false); err != nil {
		return o.fail(ctx, st, fmt.Errorf("move meta rows: %w", err))
	}

	if err := o.flags.Enable(ctx, postType); err != nil {
		return o.fail(ctx, st, fmt.Errorf("enable routing flag: %w", err))
	}
	o.invalidateReadPath(ctx, postType)

	// Shared-table cleanup runs only after the flag flip: until then the
	// shared rows are still the live copies readers see.
	st.Message = "cleaning up shared tables"
	o.setStatus(ctx, st)
	if err := o.cleanupShared(ctx, postType); err != nil {
		return o.fail(ctx, st, fmt.Errorf("clean up shared tables: %w", err))
	}

	return o.complete(ctx, st)
}

func (o *Orchestrator) runReverse(ctx context.Context, st *domain.MigrationStatus) (*domain.MigrationStatus, error) {
	postType := st.PostType

	if !o.schema.HasTable(schema.ContentTable(postType)) || !o.schema.HasTable(schema.MetaTable(postType)) {
		return o.fail(ctx, st, fmt.Errorf("custom tables for %s: %w", postType, common.ErrTableMissing))
	}

	// The flag clears before any row moves. New writes land in the shared
	// tables from here on and cannot be stranded in a pair that is about
	// to be drained.
	if err := o.flags.Disable(ctx, postType); err != nil {
		return o.fail(ctx, st, fmt.Errorf("disable routing flag: %w", err))
	}
	o.invalidateReadPath(ctx, postType)

	content := mover.NewContentMover(o.db, postType, domain.DirectionToShared)
	if err := o.moveAll(ctx, content, st, "rows", true); err != nil {
		return o.fail(ctx, st, fmt.Errorf("move content rows: %w", err))
	}

	meta := mover.NewMetaMover(o.db, postType, domain.DirectionToShared, content.Remap())
	if err := o.moveAll(ctx, meta, st, "meta rows", false); err != nil {
		return o.fail(ctx, st, fmt.Errorf("move meta rows: %w", err))
	}

	if remap := content.Remap(); len(remap) > 0 {
		st.Message = fmt.Sprintf("rewriting references for %d remapped rows", len(remap))
		o.setStatus(ctx, st)
		if err := o.rewriter.Apply(ctx, postType, remap); err != nil {
			return o.fail(ctx, st, fmt.Errorf("rewrite references: %w", err))
		}
	}

	if n, err := o.rewriter.SweepOrphans(ctx); err != nil {
		logger.WithPostType(postType).Warn().Err(err).Msg("orphan sweep failed")
	} else if n > 0 {
		logger.WithPostType(postType).Info().Int64("rows", n).Msg("swept orphaned meta rows")
	}

	o.invalidateReadPath(ctx, postType)
	final, err := o.complete(ctx, st)
	if err != nil {
		return final, err
	}

	// Dropping the drained pair is best effort. A leftover empty pair is
	// inert: the flag is already cleared, so nothing routes to it.
	if err := o.schema.DropSchema(postType); err != nil {
		logger.WithPostType(postType).Warn().Err(err).Msg("failed to drop custom tables after deactivation")
	}
	o.resolver.Invalidate(postType)

	return final, nil
}

// batchMover is the paging loop contract shared by the content and meta
// movers.
type batchMover interface {
	Total(ctx context.Context) (int64, error)
	MoveBatch(ctx context.Context, batchSize int, cursor int64) (mover.BatchResult, error)
}

// moveAll drains one mover. When advance is set the status record's progress
// counters track this mover; otherwise only the message changes, so progress
// stays monotonic across the content and meta phases.
func (o *Orchestrator) moveAll(ctx context.Context, mv batchMover, st *domain.MigrationStatus, shape string, advance bool) error {
	total, err := mv.Total(ctx)
	if err != nil {
		return fmt.Errorf("count %s: %w", shape, err)
	}
	if advance {
		st.Total = total
	}

	var cursor, moved int64
	for {
		res, err := mv.MoveBatch(ctx, o.batchSize, cursor)
		if err != nil {
			return err
		}
		moved += int64(res.Moved)
		cursor = res.Cursor
		rowsMovedTotal.WithLabelValues(st.PostType, st.Direction, shape).Add(float64(res.Moved))

		if advance {
			st.Progress = moved
		}
		st.Message = fmt.Sprintf("%d of %d %s moved", moved, total, shape)
		o.setStatus(ctx, st)

		if res.Done {
			return nil
		}
	}
}

func (o *Orchestrator) complete(ctx context.Context, st *domain.MigrationStatus) (*domain.MigrationStatus, error) {
	st.Phase = domain.PhaseCompleted
	st.Progress = st.Total
	st.Message = fmt.Sprintf("migration complete: %d rows moved", st.Total)
	o.setStatus(ctx, st)
	migrationsTotal.WithLabelValues(st.Direction, "completed").Inc()
	logger.WithRunID(st.RunID).Info().
		Str("post_type", st.PostType).
		Str("direction", st.Direction).
		Int64("rows", st.Total).
		Msg("migration completed")
	return st, nil
}

// fail records the terminal state and stops. Nothing is reverted: the movers
// are idempotent, so the documented recovery is fixing the cause and
// re-running the same toggle.
func (o *Orchestrator) fail(ctx context.Context, st *domain.MigrationStatus, err error) (*domain.MigrationStatus, error) {
	st.Phase = domain.PhaseFailed
	st.Message = err.Error()
	o.setStatus(ctx, st)
	migrationsTotal.WithLabelValues(st.Direction, "failed").Inc()
	logger.WithRunID(st.RunID).Error().
		Str("post_type", st.PostType).
		Err(err).
		Msg("migration failed")
	return st, err
}

// setStatus writes the whole record. Status is advisory; a cache write
// failure is logged and the run continues.
func (o *Orchestrator) setStatus(ctx context.Context, st *domain.MigrationStatus) {
	if err := o.cache.SetStatus(ctx, st.PostType, st, o.statusTTL); err != nil {
		logger.WithPostType(st.PostType).Warn().Err(err).Msg("failed to write migration status")
	}
}

func (o *Orchestrator) invalidateReadPath(ctx context.Context, postType string) {
	o.resolver.Invalidate(postType)
	if err := o.cache.InvalidatePosts(ctx, postType); err != nil {
		logger.WithPostType(postType).Warn().Err(err).Msg("failed to invalidate post cache")
	}
}

// cleanupShared deletes the post type's rows from the shared pair after a
// forward migration. Meta first: the content rows anchor the type-scoped
// subquery.
func (o *Orchestrator) cleanupShared(ctx context.Context, postType string) error {
	sub := o.db.Table(schema.SharedContentTable).
		Select("`ID`").
		Where("post_type = ?", postType)
	if err := o.db.WithContext(ctx).Table(schema.SharedMetaTable).
		Where("post_id IN (?)", sub).
		Delete(nil).Error; err != nil {
		return fmt.Errorf("delete meta rows from %s: %w", schema.SharedMetaTable, err)
	}
	if err := o.db.WithContext(ctx).Table(schema.SharedContentTable).
		Where("post_type = ?", postType).
		Delete(nil).Error; err != nil {
		return fmt.Errorf("delete content rows from %s: %w", schema.SharedContentTable, err)
	}
	return nil
}

// Status reports the current migration record for a post type. A missing
// record means idle, not an error, and the type does not have to be
// registered: pollers may ask about any safely-named type and get the idle
// zero record back.
func (o *Orchestrator) Status(ctx context.Context, postType string) (*domain.MigrationStatus, error) {
	if !domain.IsValidTypeName(postType) {
		return nil, common.ErrInvalidTypeName
	}
	var st domain.MigrationStatus
	err := o.cache.GetStatus(ctx, postType, &st)
	if err == cache.ErrMiss {
		return domain.IdleStatus(postType), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read migration status: %w", err)
	}
	return &st, nil
}

// Sweep deletes meta rows whose parent content row no longer exists in the
// shared tables.
func (o *Orchestrator) Sweep(ctx context.Context) (int64, error) {
	return o.rewriter.SweepOrphans(ctx)
}
