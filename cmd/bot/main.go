package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"torrent-bot/internal/bot"
	"torrent-bot/internal/config"
	"torrent-bot/internal/engine"
	"torrent-bot/internal/history"
	apphttp "torrent-bot/internal/http"
	"torrent-bot/internal/logging"
	"torrent-bot/internal/monitor"
	"torrent-bot/internal/registry"
	"torrent-bot/internal/repository"
	"torrent-bot/internal/repository/sqlite"
)

func main() {
	bootstrap := logrus.New()
	bootstrap.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		bootstrap.Fatalf("load config: %v", err)
	}

	logger, err := logging.Setup(cfg.Log.Path)
	if err != nil {
		bootstrap.Fatalf("setup logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	journal := sqlite.NewTaskJournal(db)
	if err := journal.Init(ctx); err != nil {
		logger.Fatalf("init task journal: %v", err)
	}

	hist, err := history.Open(cfg.History.Path, logger)
	if err != nil {
		logger.Fatalf("open history store: %v", err)
	}

	reg := registry.New()

	eng, err := engine.New(engine.Config{
		DataDir:          cfg.Download.Dir,
		MaxDownloadSpeed: cfg.Download.MaxDownloadSpeed,
		MaxUploadSpeed:   cfg.Download.MaxUploadSpeed,
		Logger:           logger,
	})
	if err != nil {
		logger.Fatalf("start torrent engine: %v", err)
	}

	mon := monitor.New(monitor.Config{
		Interval:     cfg.Monitor.Interval,
		ErrorBackoff: cfg.Monitor.ErrorBackoff,
		Logger:       logger,
	}, reg, hist, eng, journal)

	tb, err := bot.New(bot.Config{
		Token:       cfg.Telegram.BotToken,
		GroupID:     cfg.Telegram.GroupID,
		DownloadDir: cfg.Download.Dir,
		LogPath:     cfg.Log.Path,
		Logger:      logger,
	}, eng, reg, hist, mon, journal)
	if err != nil {
		logger.Fatalf("start telegram bot: %v", err)
	}
	mon.SetNotifier(tb)

	eng.OnMetadata(func(id, name string) {
		reg.SetName(id, name)
		if task, err := reg.Get(id); err == nil {
			if err := journal.Save(context.Background(), task); err != nil {
				logger.Warnf("refresh journal name for %s: %v", id, err)
			}
		}
	})

	if err := resumeTasks(ctx, journal, eng, reg, logger); err != nil {
		logger.Warnf("resume tasks: %v", err)
	}

	mon.Start(ctx)
	go tb.Run(ctx)
	tb.AnnounceStartup()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	apphttp.NewHandler(reg, hist, eng).RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.Infof("status api listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	logger.Info("torrent bot started successfully")

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	mon.Stop()
	eng.Close()

	logger.Info("bye")
}

// resumeTasks re-adds journaled downloads to the engine after a restart.
// A descriptor that fails to re-add stays journaled so the next start can
// retry it.
func resumeTasks(ctx context.Context, journal repository.TaskJournal, eng engine.Engine, reg *registry.Registry, logger *logrus.Logger) error {
	tasks, err := journal.List(ctx)
	if err != nil {
		return err
	}

	for _, task := range tasks {
		id, name, err := eng.Add(ctx, task.Descriptor)
		if err != nil {
			logger.Warnf("resume %s (%s): %v", task.ID, task.DisplayName(), err)
			continue
		}
		if name != "" {
			task.Name = name
		}
		if err := reg.Insert(id, task); err != nil {
			logger.Warnf("track resumed %s: %v", id, err)
			continue
		}
		logger.Infof("resumed download %s (%s)", task.DisplayName(), id)
	}
	return nil
}
