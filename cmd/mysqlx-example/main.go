// Command mysqlx-example wires a config-driven mysqlx.DB together with
// the optional metrics and api packages and runs one demonstration
// query loop until a shutdown signal arrives. It is not a benchmark
// harness or a general-purpose CLI — it exists to show the pieces
// assembled the way a real program would assemble them.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dbbouncer/mysqlx"
	"github.com/dbbouncer/mysqlx/api"
	"github.com/dbbouncer/mysqlx/config"
	"github.com/dbbouncer/mysqlx/metrics"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional; falls back to env vars)")
	apiAddr := flag.String("api-addr", "127.0.0.1:8080", "address for the stats/metrics HTTP server")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("mysqlx-example starting...")

	opts, watcher := loadOptions(*configPath)
	if watcher != nil {
		defer watcher.Stop()
	}

	m := metrics.New()
	opts.Metrics = m

	db, err := mysqlx.Open(opts)
	if err != nil {
		log.Fatalf("opening db: %v", err)
	}
	defer db.Close()

	apiServer := api.NewServer(db, m)
	if err := apiServer.Start(*apiAddr); err != nil {
		log.Fatalf("starting api server: %v", err)
	}
	defer apiServer.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runDemoLoop(ctx, db)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %s, shutting down...", sig)
}

// loadOptions builds mysqlx.Options from a config file when one is given,
// starting a hot-reload watcher that re-applies it is left for callers
// that actually need live DSN changes; this demo just reloads the
// printed settings on change. With no config path it falls back to
// environment variables so the example still runs out of the box.
func loadOptions(path string) (mysqlx.Options, *config.Watcher) {
	if path == "" {
		return mysqlx.Options{
			Network:        "tcp",
			Address:        envOr("MYSQLX_ADDRESS", "127.0.0.1:3306"),
			Username:       envOr("MYSQLX_USERNAME", "root"),
			Password:       os.Getenv("MYSQLX_PASSWORD"),
			Database:       envOr("MYSQLX_DATABASE", "test"),
			MaxConnections: 10,
			AcquireTimeout: 5 * time.Second,
		}, nil
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	watcher, err := config.NewWatcher(path, func(newCfg *config.Config) {
		log.Printf("config changed: %+v", newCfg.Redacted())
	})
	if err != nil {
		log.Printf("warning: config hot-reload not available: %v", err)
	}

	return cfg.Options(), watcher
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type demoRow struct {
	Value int64
}

func (d *demoRow) ScanMySQLRow(row *mysqlx.Row) error {
	v, err := row.Int64(0)
	if err != nil {
		return err
	}
	d.Value = v
	return nil
}

// runDemoLoop issues one trivial query every five seconds to exercise the
// pool, prepared-statement cache, and metrics wiring end to end.
func runDemoLoop(ctx context.Context, db *mysqlx.DB) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rows, err := mysqlx.FetchAll[demoRow](ctx, db, "select 1")
			if err != nil {
				log.Printf("demo query failed: %v", err)
				continue
			}
			if len(rows) == 1 {
				log.Printf("demo query ok, value=%d, pool=%+v", rows[0].Value, db.Stats())
			}
		}
	}
}
