package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/kasuganosora/guilds/server/api/rest"
	"github.com/kasuganosora/guilds/server/audit"
	"github.com/kasuganosora/guilds/server/cache"
	"github.com/kasuganosora/guilds/server/command"
	"github.com/kasuganosora/guilds/server/config"
	"github.com/kasuganosora/guilds/server/confirm"
	dbadapter "github.com/kasuganosora/guilds/server/db"
	"github.com/kasuganosora/guilds/server/event"
	"github.com/kasuganosora/guilds/server/guild"
	"github.com/kasuganosora/guilds/server/host"
	"github.com/kasuganosora/guilds/server/lang"
	mw "github.com/kasuganosora/guilds/server/middleware"
	"github.com/kasuganosora/guilds/server/model"
	"github.com/kasuganosora/guilds/server/scheduler"
	"github.com/kasuganosora/guilds/server/storage"
	"github.com/kasuganosora/guilds/server/storage/filestore"
	"github.com/kasuganosora/guilds/server/storage/sqlstore"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

func main() {
	app := &cli.Command{
		Name:    "guilds",
		Usage:   "Run the guild server",
		Version: config.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config/config.yaml",
				Usage:   "Path to the YAML configuration",
			},
			&cli.BoolFlag{
				Name:  "console",
				Usage: "Read guild commands from stdin as the server console",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return run(ctx, c.String("config"), c.Bool("console"))
		},
	}
	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatalf("guilds: %v", err)
	}
}

// newLogger builds the zap logger: console encoding in debug, JSON otherwise,
// optionally teed into a rotated file.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	var enc zapcore.Encoder
	if cfg.Server.Debug {
		enc = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		level = zapcore.DebugLevel
	} else {
		enc = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}
	sinks := []zapcore.WriteSyncer{zapcore.Lock(os.Stdout)}
	if cfg.Log.File != "" {
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
			Compress:   true,
		}))
	}
	core := zapcore.NewCore(enc, zapcore.NewMultiWriteSyncer(sinks...), level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

// openBackend picks the guild store for storage.mode. db is opened on demand
// and shared with the audit trail.
func openBackend(cfg *config.Config, db func() (*gorm.DB, error)) (storage.Backend, error) {
	if cfg.Storage.Mode == "file" {
		return filestore.Open(cfg.Storage.Dir)
	}
	gdb, err := db()
	if err != nil {
		return nil, err
	}
	return sqlstore.Open(gdb)
}

func run(ctx context.Context, cfgPath string, console bool) error {
	holder, err := config.NewHolder(cfgPath)
	if err != nil {
		return err
	}
	cfg := holder.Current().Config

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints are disabled")
	}
	if cfg.Server.JWTSecret == "" {
		logger.Warn("server.jwt_secret is not set; player sessions cannot be issued")
	}

	catalog, err := lang.Load(cfg.LanguagesDir, cfg.Lang)
	if err != nil {
		logger.Warn("language file not loaded, using built-in messages",
			zap.String("lang", cfg.Lang), zap.Error(err))
		catalog = lang.Default()
	}

	// ---- Database (lazy) ----
	var gdb *gorm.DB
	openDB := func() (*gorm.DB, error) {
		if gdb != nil {
			return gdb, nil
		}
		dbCfg := cfg.Database
		if cfg.Storage.Mode == dbadapter.ModeSQLite || cfg.Storage.Mode == dbadapter.ModeMySQL {
			dbCfg.Mode = cfg.Storage.Mode
		}
		db, err := dbadapter.Open(dbCfg)
		if err != nil {
			return nil, err
		}
		if err := model.AutoMigrate(db); err != nil {
			_ = dbadapter.Close(db)
			return nil, fmt.Errorf("db migrate: %w", err)
		}
		gdb = db
		logger.Info("database ready", zap.String("mode", dbCfg.Mode))
		return gdb, nil
	}
	defer func() {
		if gdb != nil {
			_ = dbadapter.Close(gdb)
		}
	}()

	// ---- Cache / PubSub ----
	c, ps, err := cache.Open(cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	})
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer c.Close()
	defer ps.Close()

	// ---- Main loop and storage ----
	loop := scheduler.NewLoop(logger, 4096)
	backend, err := openBackend(cfg, openDB)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	writer := storage.NewWriter(backend, loop, cfg.Storage.Workers, logger)

	// ---- Host adapters ----
	players := host.NewDirectory(logger)
	var (
		economy host.Economy = host.Unavailable{}
		ledger  *host.Ledger
	)
	if cfg.Economy.Enabled {
		ledger = host.NewLedger(c, cfg.Economy.Key, cfg.Economy.StartingBalance)
		economy = ledger
	}
	visual := host.NewVisual(host.VisualOptions{
		Tablist:        cfg.TablistGuilds,
		UseDisplayName: cfg.TablistUseDisplayName,
		NameTag:        cfg.Hook("nametagedit"),
	}, ps, players, logger)

	bus := event.NewBus(logger)
	event.AttachRelay(bus, ps)

	rt := &command.Runtime{
		Model:   guild.NewManager(holder.Current().Rules),
		Tracker: confirm.NewTracker(cfg.ConfirmTTL()),
		Store:   writer,
		Bus:     bus,
		Economy: economy,
		Visual:  visual,
		World:   players,
		Players: players,
		Config:  holder,
		Catalog: catalog,
		Exec:    loop,
		Logger:  logger,
	}
	if cfg.Updater.Enabled {
		rt.Updater = host.NewUpdater(cfg.Updater.URL, config.Version, cfg.Updater.Timeout, cfg.Updater.MaxRetries, c, logger)
	}
	var auditSvc *audit.Service
	if cfg.Audit.Enabled {
		db, err := openDB()
		if err != nil {
			return fmt.Errorf("audit: %w", err)
		}
		auditSvc = audit.New(db, logger)
		defer auditSvc.Stop(context.Background())
		rt.Audit = auditSvc
	}
	dispatcher := command.NewDispatcher(rt)

	// The loop is not running yet, so loading owns the model here.
	if err := rt.Load(ctx); err != nil {
		return fmt.Errorf("load guilds: %w", err)
	}
	logger.Info("guilds loaded", zap.Int("guilds", rt.Model.Len()), zap.String("storage", cfg.Storage.Mode))

	loopDone := make(chan struct{})
	go func() {
		_ = loop.Run(context.Background())
		close(loopDone)
	}()

	sched := scheduler.New(logger, loop)
	rt.Schedule(sched, cfg)

	if rt.Updater != nil {
		rt.Updater.CheckAsync(ctx, loop, func(rel host.Release, err error) {
			switch {
			case err != nil:
				logger.Warn("update check failed", zap.Error(err))
			case host.Newer(rel.Version, config.Version):
				logger.Warn("a newer version is available",
					zap.String("latest", rel.Version), zap.String("running", config.Version))
			}
		})
	}

	// ---- HTTP bridge ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(cfg.Server.RateLimitRPS), cfg.Server.RateLimitBurst, mw.ByClientIP))
	apirest.Mount(r, apirest.Deps{
		Loop:       loop,
		Dispatcher: dispatcher,
		Runtime:    rt,
		Cache:      c,
		Ledger:     ledger,
		Audit:      auditSvc,
		Scheduler:  sched,
		Server:     cfg.Server,
		Logger:     logger,
	})
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.Port), Handler: r}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if console {
		go func() {
			runConsole(sigCtx, os.Stdin, os.Stdout, loop, dispatcher, logger)
			stop()
		}()
	}

	var runErr error
	select {
	case <-sigCtx.Done():
		logger.Info("shutting down")
	case runErr = <-serveErr:
		logger.Error("http server failed", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	sched.Stop()
	if err := loop.Call(shutdownCtx, func() {
		if n := rt.Tracker.DeclineAll(); n > 0 {
			logger.Info("pending confirmations declined", zap.Int("count", n))
		}
		rt.SaveAll()
	}); err != nil {
		logger.Error("final save not queued", zap.Error(err))
	}
	if err := writer.FlushAll(shutdownCtx); err != nil {
		logger.Error("guild writes did not finish", zap.Error(err))
	}
	loop.Stop()
	<-loopDone
	if err := writer.Close(); err != nil {
		logger.Error("close storage", zap.Error(err))
	}
	logger.Info("server stopped")
	return runErr
}
