package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/misaka-danmu/danmu-server/internal/db"
	"github.com/misaka-danmu/danmu-server/internal/library"
	"github.com/misaka-danmu/danmu-server/internal/service"
)

// 只读：列出重复分组和建议保留的条目，不做任何合并
func main() {
	dbPath := flag.String("db", "data/danmu.db", "path to the library database")
	strict := flag.Bool("strict", false, "group by tmdb id and season")
	asJSON := flag.Bool("json", false, "print groups as JSON")
	flag.Parse()

	// 不存在时不要新建空库
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

	groups, err := service.NewDuplicateScanner(library.NewStore(conn)).Scan(context.Background(), *strict)
	if err != nil {
		log.Fatalf("Scan failed: %v", err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(groups); err != nil {
			log.Fatal(err)
		}
		return
	}

	if len(groups) == 0 {
		fmt.Println("No duplicate groups found.")
		return
	}
	fmt.Printf("Found %d duplicate groups:\n", len(groups))
	for _, g := range groups {
		season := "-"
		if g.Season != nil {
			season = fmt.Sprintf("S%d", *g.Season)
		}
		fmt.Printf("\nTMDB %s %s\n", g.TmdbID, season)
		for _, item := range g.Items {
			mark := " "
			if item.AnimeID == g.SuggestedTargetAnimeID {
				mark = "*"
			}
			fmt.Printf("  %s [%d] %s (sources: %d)\n", mark, item.AnimeID, item.Title, item.SourceCount)
		}
	}
	fmt.Println("\n" + strings.Repeat("-", 40))
	fmt.Println("* = suggested entry to keep")
}
