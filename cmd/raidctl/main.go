// Command raidctl is a small demonstration harness: it registers a "raid0"
// passthrough personality and serves the JSON control surface over HTTP.
// It creates no array itself; array.create opens an in-memory base device
// by name on demand for each base_bdevs entry. It is not part of the module's tested surface; every repo
// this size in the pack ships a cmd/ entry point, so this one does too.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/lattice-storage/go-raid"
	"github.com/lattice-storage/go-raid/basedev"
	"github.com/lattice-storage/go-raid/internal/apploop"
	"github.com/lattice-storage/go-raid/internal/config"
	"github.com/lattice-storage/go-raid/internal/ctrl"
	"github.com/lattice-storage/go-raid/internal/interfaces"
	"github.com/lattice-storage/go-raid/internal/logging"
	"github.com/lattice-storage/go-raid/internal/resync"
	"github.com/lattice-storage/go-raid/internal/superblock"
)

func main() {
	var (
		listenAddr = flag.String("listen", "127.0.0.1:7262", "control surface listen address")
		sizeStr    = flag.String("size", "64M", "size of each memory base device (e.g., 64M, 1G)")
		numSlots   = flag.Int("slots", 2, "minimum slot count of the raid0 personality")
		verbose    = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	size, err := parseSize(*sizeStr)
	if err != nil {
		log.Fatalf("invalid size %q: %v", *sizeStr, err)
	}

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	registry := raid.NewRegistry()
	if err := registry.Register(raid.NewPassthroughPersonality("raid0", *numSlots)); err != nil {
		logger.Error("failed to register personality", "error", err)
		os.Exit(1)
	}

	catalog := raid.NewCatalog()
	codec := superblock.NewCodec()
	examine := raid.NewExamineEngine(catalog, registry, codec, raid.HostHooks{}, 1, logger)
	members := raid.NewMemberEngine(catalog, codec, examine, raid.MemberHostHooks{}, logger)
	cfg := config.Default()
	limiter := resync.NewLimiter(cfg.ProcessMaxBandwidthMBSec, cfg.ProcessWindowSizeKB)

	devices := make(map[string]interfaces.BaseDevice)
	open := func(name string) (interfaces.BaseDevice, error) {
		if dev, ok := devices[name]; ok {
			return dev, nil
		}
		dev := basedev.NewMemory(size)
		devices[name] = dev
		return dev, nil
	}

	dispatcher := apploop.NewDispatcher(64, logger)
	dispatcher.Start()

	server := ctrl.NewServer(catalog, registry, codec, examine, members, cfg, limiter, open, dispatcher, logger)

	logger.Info("raidctl listening", "addr", *listenAddr, "base_device_size", formatSize(size))
	fmt.Printf("raidctl control surface listening on http://%s\n", *listenAddr)
	fmt.Printf("POST /v1/array.create {\"name\":\"r0\",\"strip_size_kb\":64,\"raid_level\":\"raid0\",\"base_bdevs\":[\"dev0\",\"dev1\"]}\n")
	fmt.Printf("Press Ctrl+C to stop...\n")

	httpSrv := &http.Server{Addr: *listenAddr, Handler: server.Router()}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("control surface exited", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")
	httpSrv.Close()
	if err := dispatcher.Stop(); err != nil {
		logger.Error("application thread shutdown error", "error", err)
	}
}

// parseSize parses a size string like "64M", "1G", "512K".
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(s)

	var multiplier int64 = 1
	var numStr string

	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "G")
	default:
		numStr = s
	}

	num, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, err
	}
	return num * multiplier, nil
}

// formatSize formats a byte count as a human-readable string.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	units := []string{"K", "M", "G", "T"}
	return fmt.Sprintf("%.1f %sB", float64(bytes)/float64(div), units[exp])
}
