package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"filevault-backend/internal/files"
	"filevault-backend/internal/quota"
	"filevault-backend/internal/services/health"
	"filevault-backend/internal/shared/auth"
	"filevault-backend/internal/shared/config"
	"filevault-backend/internal/shared/server"
	"filevault-backend/internal/shared/server/middleware"
	"filevault-backend/internal/shared/storage/blob"
	localstore "filevault-backend/internal/shared/storage/blob/local"
	s3store "filevault-backend/internal/shared/storage/blob/s3"
	"filevault-backend/internal/shared/storage/db"
	"filevault-backend/internal/shared/telemetry"
	"filevault-backend/internal/vault"
)

// App holds shared dependencies and the configured router.
type App struct {
	Config       config.Config
	Router       *gin.Engine
	DB           *sql.DB
	Blobs        blob.Store
	FilesRepo    files.Repo
	QuotaService *quota.Service
	VaultService *vault.Service
	FilesHandler *vault.Handler
	QuotaHandler *quota.Handler
}

// Build prepares dependencies and wires routes. Without DATABASE_URL in a
// dev-like env the repositories fall back to memory.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}

	secret, err := auth.Secret(cfg.Env, cfg.JWTSecret)
	if err != nil {
		return nil, err
	}

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		closeDB(sqlDB)
		return nil, err
	}

	app := &App{
		Config: cfg,
		DB:     sqlDB,
		Blobs:  store,
	}
	buildServices(app)

	app.Router = server.NewRouter(server.RouterDeps{
		Config:      cfg,
		Files:       app.FilesHandler,
		Quota:       app.QuotaHandler,
		Health:      health.NewService(pinger(sqlDB)),
		AuthSecret:  secret,
		RateLimiter: middleware.NewRateLimiter(nil),
	})

	telemetry.Info("bootstrap.ready", map[string]any{
		"env":               cfg.Env,
		"database":          sqlDB != nil,
		"object_store":      cfg.ObjectStoreType,
		"charge_duplicates": cfg.QuotaChargeDuplicates,
	})
	return app, nil
}

// Close releases the database pool, if any.
func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			telemetry.Warn("bootstrap.memory_mode", map[string]any{"reason": "DATABASE_URL empty"})
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required in %s", cfg.Env)
	}

	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultServerOptions()))
	if err != nil {
		if isDevLike(cfg.Env) {
			telemetry.Warn("bootstrap.memory_mode", map[string]any{"reason": "database connect failed", "error": err})
			return nil, nil
		}
		return nil, err
	}
	if err := db.RunMigrations(ctx, sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (blob.Store, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		if strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, fmt.Errorf("OBJECT_STORE=s3 requires S3_BUCKET")
		}
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	default:
		return localstore.New(cfg.BlobDir, cfg.BlobCompression == "zstd")
	}
}

func buildServices(app *App) {
	var repo files.Repo
	var quotaSvc *quota.Service
	if app.DB != nil {
		repo = &files.PGRepo{DB: app.DB}
		quotaSvc = quota.NewPostgresService(quota.NewPGStore(app.DB, app.Config.QuotaDefaultLimitBytes))
	} else {
		repo = files.NewMemoryRepo()
		quotaSvc = quota.NewService(app.Config.QuotaDefaultLimitBytes)
	}

	vaultSvc := &vault.Service{
		Files:            repo,
		Blobs:            app.Blobs,
		Quota:            quotaSvc,
		SpoolDir:         app.Config.SpoolDir,
		ChargeDuplicates: app.Config.QuotaChargeDuplicates,
	}

	app.FilesRepo = repo
	app.QuotaService = quotaSvc
	app.VaultService = vaultSvc
	app.FilesHandler = vault.NewHandler(vaultSvc, app.Config.MaxUploadBytes)
	app.QuotaHandler = quota.NewHandler(quotaSvc)
}

// pinger avoids handing health a typed-nil *sql.DB.
func pinger(sqlDB *sql.DB) health.Pinger {
	if sqlDB == nil {
		return nil
	}
	return sqlDB
}

func closeDB(sqlDB *sql.DB) {
	if sqlDB != nil {
		_ = sqlDB.Close()
	}
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}
