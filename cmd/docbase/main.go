// Command docbase is a small demonstration CLI wiring config loading,
// a DocumentEngine, its counter subsystem and its event bus together
// the way a host process embedding the engine would.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"docbase/config"
	"docbase/engine"
	"docbase/events"
	"docbase/query"
)

// Version is set at build time.
var Version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config.yaml")
	dbName := flag.String("db", "demo", "database name")
	flag.Parse()

	fmt.Printf("docbase v%s starting...\n", Version)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	eng, err := engine.Open(cfg.Root, *dbName, cfg.EngineOptions()...)
	if err != nil {
		log.Fatalf("Error opening database: %v", err)
	}
	defer eng.Counter().Close()

	eng.Events().On(events.Change, func(e events.Event) {
		log.Printf("change: kind=%s id=%s", e.Kind, e.ID)
	})

	done := make(chan error, 1)
	eng.Insert(engine.Document{"id": "seed", "n": float64(1)}, func(err error, count int) {
		done <- err
	})
	if err := <-done; err != nil {
		log.Fatalf("Error inserting seed document: %v", err)
	}

	result := make(chan struct {
		err   error
		res   any
		count int
	}, 1)
	eng.Find(query.New(), func(err error, res any, count int) {
		result <- struct {
			err   error
			res   any
			count int
		}{err, res, count}
	})
	r := <-result
	if r.err != nil {
		log.Fatalf("Error querying database: %v", r.err)
	}
	fmt.Printf("database %q now holds %d document(s)\n", *dbName, r.count)

	os.Exit(0)
}
