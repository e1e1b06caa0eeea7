package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sessiontrace/backend/internal/config"
	"github.com/sessiontrace/backend/internal/discovery"
	"github.com/sessiontrace/backend/internal/eventbus"
	"github.com/sessiontrace/backend/internal/query"
	"github.com/sessiontrace/backend/internal/registry"
	"github.com/sessiontrace/backend/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (defaults to ~/.config/sessiontrace/config.yaml)")
	logRoot := flag.String("log-root", "", "Override the directory scanned for session logs")
	port := flag.Int("port", 0, "Override server port")
	flag.Parse()

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath()
	}

	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *logRoot != "" {
		cfg.Discovery.LogRoot = *logRoot
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan registry.Event, 256)
	reg := registry.New(cfg, events)
	reg.Start()

	bus := eventbus.New(reg, events, cfg.Server.MaxConnections)
	go bus.Run()

	surface := query.New(reg)
	server := transport.New(cfg, surface, bus)

	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	scanner := discovery.New(cfg.Discovery.LogRoot, cfg.Discovery.StaleAfter)
	runDiscoveryScan(reg, scanner) // initial scan at startup, before the periodic loop begins

	scanInterval := cfg.Discovery.ScanInterval
	if scanInterval <= 0 {
		scanInterval = discovery.DefaultScanInterval
	}
	go discoveryLoop(ctx, reg, scanner, scanInterval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGHUP:
				reloadConfig(cfgPath, cfg)
			default:
				log.Println("shutting down...")
				cancel()
				reg.Stop()
				bus.Stop()
				os.Exit(0)
			}
		}
	}()

	log.Printf("watching %s", cfg.Discovery.LogRoot)
	if err := transport.ListenAndServe(cfg, mux); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func discoveryLoop(ctx context.Context, reg *registry.Registry, scanner *discovery.Scanner, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runDiscoveryScan(reg, scanner)
		case <-ctx.Done():
			return
		}
	}
}

func runDiscoveryScan(reg *registry.Registry, scanner *discovery.Scanner) {
	for _, ev := range scanner.Scan() {
		reg.HandleDiscoveryEvent(ev)
	}
}

// reloadConfig re-reads cfgPath, logs what changed (see config.Diff) and
// copies the new values into cur. Running components are not rebuilt:
// values they copied at startup stay as they were, and only fields read
// from cur at the point of use see the new values.
func reloadConfig(cfgPath string, cur *config.Config) {
	fresh, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		log.Printf("config reload failed: %v", err)
		return
	}
	changes := config.Diff(cur, fresh)
	if len(changes) == 0 {
		log.Println("config reload: no changes")
		return
	}
	for _, c := range changes {
		log.Printf("config reload: %s", c)
	}
	*cur = *fresh
}
