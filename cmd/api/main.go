package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/openpress/cptables/internal/config"
	"github.com/openpress/cptables/internal/handler"
	"github.com/openpress/cptables/internal/middleware"
	"github.com/openpress/cptables/internal/migrator"
	"github.com/openpress/cptables/internal/repository"
	"github.com/openpress/cptables/internal/routes"
	"github.com/openpress/cptables/internal/routing"
	"github.com/openpress/cptables/internal/schema"
	"github.com/openpress/cptables/internal/service"
	pkgcache "github.com/openpress/cptables/pkg/cache"
	"github.com/openpress/cptables/pkg/jwt"
	pkglogger "github.com/openpress/cptables/pkg/logger"
	pkgredis "github.com/openpress/cptables/pkg/redis"
)

// getConfigPath returns the config file path based on APP_ENV.
func getConfigPath() string {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf("configs/config.%s.yaml", env)
}

func main() {
	dotenvFiles := config.LoadDotEnv()

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "local"
	}
	pkglogger.InitStructured(env)
	pkglogger.Info("APP_ENV=%s, loaded env files: %v", env, dotenvFiles)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := initDB(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	pkglogger.Info("Connected to MySQL at %s:%d", cfg.Database.Host, cfg.Database.Port)

	// Redis is optional. Without it the cache service falls back to a
	// process-local store; migration leases then only guard this instance.
	var cacheService pkgcache.Service
	redisClient, err := pkgredis.NewClient(
		cfg.Redis.Host,
		cfg.Redis.Port,
		cfg.Redis.Password,
		cfg.Redis.DB,
		cfg.Redis.PoolSize,
	)
	if err != nil {
		pkglogger.Warn("Redis unavailable: %v (using in-process cache)", err)
		cacheService = pkgcache.NewMemoryService()
	} else {
		pkglogger.Info("Connected to Redis")
		cacheService = pkgcache.NewService(redisClient)
	}

	jwtManager := jwt.NewManager(cfg.JWT.Secret, cfg.JWT.ExpiresIn)

	schemaStore := schema.NewStore(db, cfg.Migration.TableHandling)
	flagStore := routing.NewFlagStore(db, cacheService)
	resolver := routing.NewResolver(flagStore, schemaStore)
	orchestrator := migrator.New(db, schemaStore, flagStore, resolver, cacheService, migrator.Options{
		PostTypes: cfg.Migration.PostTypes,
		BatchSize: cfg.Migration.BatchSize,
		StatusTTL: cfg.Migration.StatusTTL,
		LockTTL:   cfg.Migration.LockTTL,
	})

	postRepo := repository.NewPostRepository(db, resolver)
	metaRepo := repository.NewMetaRepository(db, resolver)
	postService := service.NewPostService(postRepo, metaRepo, cacheService)

	postHandler := handler.NewPostHandler(postService)
	adminHandler := handler.NewAdminHandler(orchestrator, schemaStore)

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	allowOrigins := cfg.CORS.AllowOrigins
	if allowOrigins == "" {
		allowOrigins = "http://localhost:3000"
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     splitAndTrim(allowOrigins, ","),
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		AllowCredentials: true,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		ExposeHeaders:    []string{"X-Request-ID"},
		MaxAge:           86400,
	}))

	router.Use(middleware.Metrics())
	router.Use(middleware.RequestLogger())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "cptables",
			"time":    time.Now().Unix(),
		})
	})

	routes.Setup(router, postHandler, adminHandler, jwtManager)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	pkglogger.Info("Listening on %s", addr)
	if err := router.Run(addr); err != nil {
		log.Fatalf("Server stopped: %v", err)
	}
}

func initDB(cfg *config.Config) (*gorm.DB, error) {
	mysqlCfg, err := mysqldriver.ParseDSN(cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	logMode := gormlogger.Warn
	if cfg.IsDevelopment() {
		logMode = gormlogger.Info
	}
	db, err := gorm.Open(mysql.Open(mysqlCfg.FormatDSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(logMode),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
