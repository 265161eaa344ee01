// Command migrate toggles custom-table storage for a post type from the
// command line, without going through the admin API. It shares the engine
// with the API server, so a CLI run and an API run contend for the same
// lease when Redis is configured.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/openpress/cptables/internal/config"
	"github.com/openpress/cptables/internal/domain"
	"github.com/openpress/cptables/internal/migrator"
	"github.com/openpress/cptables/internal/routing"
	"github.com/openpress/cptables/internal/schema"
	pkgcache "github.com/openpress/cptables/pkg/cache"
	pkglogger "github.com/openpress/cptables/pkg/logger"
	pkgredis "github.com/openpress/cptables/pkg/redis"
)

func main() {
	var (
		configPath = flag.String("config", "", "config file path (default configs/config.$APP_ENV.yaml)")
		postType   = flag.String("type", "", "post type to operate on")
		enable     = flag.Bool("enable", false, "move the post type into its custom table pair")
		disable    = flag.Bool("disable", false, "move the post type back to the shared tables")
		batchSize  = flag.Int("batch-size", 0, "rows per batch (overrides config)")
		dryRun     = flag.Bool("dry-run", false, "report what would move, change nothing")
		verify     = flag.Bool("verify", false, "validate the custom table pair against the expected schema")
		list       = flag.Bool("list", false, "list custom table pairs found in the database")
	)
	flag.Parse()

	config.LoadDotEnv()
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "local"
	}
	pkglogger.InitStructured(env)

	path := *configPath
	if path == "" {
		path = fmt.Sprintf("configs/config.%s.yaml", env)
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *batchSize > 0 {
		cfg.Migration.BatchSize = *batchSize
	}

	db, err := openDB(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	schemaStore := schema.NewStore(db, cfg.Migration.TableHandling)

	switch {
	case *list:
		runList(schemaStore)
		return
	case *verify:
		requireType(*postType)
		runVerify(schemaStore, *postType)
		return
	case *dryRun:
		requireType(*postType)
		runDryRun(db, schemaStore, *postType)
		return
	case *enable == *disable:
		fmt.Fprintln(os.Stderr, "exactly one of -enable or -disable is required (or -list, -verify, -dry-run)")
		flag.Usage()
		os.Exit(2)
	}
	requireType(*postType)

	var cacheService pkgcache.Service
	redisClient, err := pkgredis.NewClient(
		cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize,
	)
	if err != nil {
		pkglogger.Warn("Redis unavailable: %v (lease only guards this process)", err)
		cacheService = pkgcache.NewMemoryService()
	} else {
		cacheService = pkgcache.NewService(redisClient)
	}

	flagStore := routing.NewFlagStore(db, cacheService)
	resolver := routing.NewResolver(flagStore, schemaStore)
	orchestrator := migrator.New(db, schemaStore, flagStore, resolver, cacheService, migrator.Options{
		PostTypes: cfg.Migration.PostTypes,
		BatchSize: cfg.Migration.BatchSize,
		StatusTTL: cfg.Migration.StatusTTL,
		LockTTL:   cfg.Migration.LockTTL,
	})

	ctx := context.Background()
	var st *domain.MigrationStatus
	if *enable {
		st, err = orchestrator.Enable(ctx, *postType)
	} else {
		st, err = orchestrator.Disable(ctx, *postType)
	}
	if err != nil {
		if st != nil {
			log.Fatalf("Migration failed (%s): %s", st.Phase, st.Message)
		}
		log.Fatalf("Migration failed: %v", err)
	}
	fmt.Printf("%s: %s (%d rows)\n", *postType, st.Phase, st.Total)
}

func requireType(postType string) {
	if postType == "" {
		fmt.Fprintln(os.Stderr, "-type is required")
		flag.Usage()
		os.Exit(2)
	}
}

func runList(store *schema.Store) {
	tables, err := store.DetectExisting()
	if err != nil {
		log.Fatalf("Failed to inspect tables: %v", err)
	}
	if len(tables) == 0 {
		fmt.Println("no custom table pairs found")
		return
	}
	for _, t := range tables {
		kind := "content"
		if t.Meta {
			kind = "meta"
		}
		fmt.Printf("%-30s type=%-15s %-7s %d rows\n", t.Table, t.PostType, kind, t.Rows)
	}
}

func runVerify(store *schema.Store, postType string) {
	content := schema.ContentTable(postType)
	meta := schema.MetaTable(postType)
	failed := false

	for _, table := range []string{content, meta} {
		if !store.HasTable(table) {
			fmt.Printf("%s: missing\n", table)
			failed = true
			continue
		}
		var diff *schema.Diff
		var err error
		if table == content {
			diff, err = store.ValidateContentTable(table)
		} else {
			diff, err = store.ValidateMetaTable(table)
		}
		if err != nil {
			log.Fatalf("Failed to validate %s: %v", table, err)
		}
		if diff.Clean() {
			fmt.Printf("%s: ok\n", table)
		} else {
			fmt.Printf("%s: %s\n", table, diff)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

func runDryRun(db *gorm.DB, store *schema.Store, postType string) {
	var shared int64
	if err := db.Table(schema.SharedContentTable).
		Where("post_type = ?", postType).
		Count(&shared).Error; err != nil {
		log.Fatalf("Failed to count shared rows: %v", err)
	}

	content := schema.ContentTable(postType)
	var custom int64
	if store.HasTable(content) {
		if err := db.Table(content).
			Where("post_type = ?", postType).
			Count(&custom).Error; err != nil {
			log.Fatalf("Failed to count custom rows: %v", err)
		}
	}

	fmt.Printf("post type %s:\n", postType)
	fmt.Printf("  shared table rows:  %d (would move on -enable)\n", shared)
	if store.HasTable(content) {
		fmt.Printf("  custom table rows:  %d (would move on -disable)\n", custom)
	} else {
		fmt.Printf("  custom tables:      not created yet\n")
	}
}

func openDB(cfg *config.Config) (*gorm.DB, error) {
	mysqlCfg, err := mysqldriver.ParseDSN(cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}
	return gorm.Open(mysql.Open(mysqlCfg.FormatDSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
}
