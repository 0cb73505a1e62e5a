package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/misaka-danmu/danmu-server/internal/db"
	"github.com/misaka-danmu/danmu-server/internal/library"
	"github.com/misaka-danmu/danmu-server/internal/service"
)

// offlineHooks 离线运行时没有任务队列，也没有并发写者
type offlineHooks struct {
	total, done int
}

func (h *offlineHooks) SetTotal(total int)           { h.total = total }
func (h *offlineHooks) Checkpoint() error            { return nil }
func (h *offlineHooks) Lock(...uint) (func(), error) { return func() {}, nil }
func (h *offlineHooks) Advance(n int)                { h.done += n }

// 请先停掉服务再运行，否则与服务的写入没有条目锁保护
func main() {
	dbPath := flag.String("db", "data/danmu.db", "path to the library database")
	dryRun := flag.Bool("dry-run", false, "only list orphan sources")
	flag.Parse()

	if _, err := os.Stat(*dbPath); err != nil {
		log.Fatalf("Database not found: %v", err)
	}
	conn, err := db.Open(*dbPath, false)
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		if sqlDB, err := conn.DB(); err == nil {
			sqlDB.Close()
		}
	}()

	ctx := context.Background()
	store := library.NewStore(conn)

	if *dryRun {
		orphans, err := store.OrphanSourceIDs(ctx)
		if err != nil {
			log.Fatal("Error finding orphans:", err)
		}
		if len(orphans) == 0 {
			fmt.Println("No orphan sources found.")
			return
		}
		fmt.Printf("Found %d orphan sources: %v\n", len(orphans), orphans)
		return
	}

	hooks := &offlineHooks{}
	res, err := service.NewMaintenance(store).Run(ctx, hooks)
	if err != nil {
		log.Fatalf("Maintenance failed after %d/%d steps: %v", hooks.done, hooks.total, err)
	}
	fmt.Printf("Done. Recounted %d entries, removed %d orphan sources.\n", res.Recounted, res.OrphansRemoved)
}
