package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/misaka-danmu/danmu-server/internal/api"
	"github.com/misaka-danmu/danmu-server/internal/config"
	"github.com/misaka-danmu/danmu-server/internal/db"
	"github.com/misaka-danmu/danmu-server/internal/event"
	"github.com/misaka-danmu/danmu-server/internal/library"
	"github.com/misaka-danmu/danmu-server/internal/scheduler"
	"github.com/misaka-danmu/danmu-server/internal/service"
	"github.com/misaka-danmu/danmu-server/internal/task"
	"github.com/misaka-danmu/danmu-server/internal/tmdb"
	"github.com/misaka-danmu/danmu-server/pkg/logging"
)

func main() {
	// 1. Load Config
	if err := config.LoadConfig("."); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg := config.AppConfig

	// 2. Logging
	if closer := logging.Setup(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	}); closer != nil {
		defer closer.Close()
	}

	// 3. Database
	absPath, _ := filepath.Abs(cfg.Database.Path)
	log.Printf("Initializing database at: %s", absPath)
	db.InitDB(cfg.Database.Path, logging.DebugEnabled())
	defer func() {
		if err := db.CloseDB(); err != nil {
			log.Printf("Failed to close database: %v", err)
		}
	}()

	bus := event.NewInMemoryBus()
	store := library.NewStore(db.DB)

	// 4. Task queue
	queue := task.NewQueue(task.Options{
		Workers:       cfg.Tasks.Workers,
		MaxHistory:    cfg.Tasks.MaxHistory,
		RetryAttempts: cfg.Tasks.StoreRetryAttempts,
		RetryDelay:    cfg.Tasks.StoreRetryDelay,
		Store:         task.NewGormStore(db.DB),
		Bus:           bus,
	})

	// 未配置 token 时保持接口值为 nil，导入时跳过补全
	var metadata service.MetadataProvider
	if cfg.Metadata.TmdbToken != "" {
		metadata = tmdb.NewClient(cfg.Metadata.TmdbToken, cfg.Metadata.Proxy)
	} else {
		log.Println("TMDB token not configured, import enrichment disabled")
	}

	merger := service.NewMergeExecutor(store, bus)
	services := &service.Services{
		Scanner: service.NewDuplicateScanner(store),
		Merger:  merger,
		Batch: service.NewBatchOrchestrator(merger, service.BatchOptions{
			Parallelism:   cfg.Tasks.Workers,
			RetryAttempts: cfg.Tasks.StoreRetryAttempts,
			RetryDelay:    cfg.Tasks.StoreRetryDelay,
		}),
		Importer:    service.NewImporter(store, metadata, bus),
		Deleter:     service.NewDeleter(store, bus),
		Maintenance: service.NewMaintenance(store),
	}
	services.RegisterTasks(queue)
	queue.Start()

	// 5. Scheduler
	sch := scheduler.NewManager(queue, cfg.Scheduler.MaintenanceCron)
	if err := sch.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	// 6. HTTP
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(gin.Recovery())
	api.InitRoutes(r, &api.Handler{
		Store:       store,
		Services:    services,
		Queue:       queue,
		Bus:         bus,
		WaitTimeout: cfg.Server.WaitTimeout,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}
	go func() {
		log.Printf("Server starting on port %d", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	sch.Stop()
	// 正在执行的事务会先提交，之后才关闭数据库
	queue.Stop()
}
