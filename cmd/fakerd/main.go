// Command fakerd is a minimal demonstration host for the faker core: it
// loads a .torrent from disk, starts one faker against it, and logs
// stats snapshots until interrupted.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prxssh/phantom/internal/config"
	"github.com/prxssh/phantom/internal/identity"
	"github.com/prxssh/phantom/internal/registry"
	"github.com/prxssh/phantom/internal/stats"
	"github.com/prxssh/phantom/pkg/logging"
)

const (
	exitOK            = 0
	exitFatal         = 1
	exitInvalidConfig = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	handler := logging.NewPrettyHandler(os.Stderr, nil)
	slog.SetDefault(slog.New(handler))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return exitInvalidConfig
	}

	if len(os.Args) < 2 {
		slog.Error("usage: fakerd <torrent-path>")
		return exitFatal
	}

	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		slog.Error(
			"failed to read torrent file",
			slog.String("path", os.Args[1]),
			slog.String("error", err.Error()),
		)
		return exitFatal
	}

	reg := registry.New()
	id := reg.Create(registry.SourceManual)

	if _, err := reg.LoadTorrent(id, data); err != nil {
		slog.Error("failed to parse torrent", slog.String("error", err.Error()))
		return exitInvalidConfig
	}

	fakerCfg := stats.Config{
		Port:           6881,
		Client:         identity.QBittorrent,
		Version:        "5.1.4",
		NumWant:        50,
		UploadRate:     100,
		UpdateInterval: 30 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	if err := reg.Start(ctx, id, &fakerCfg); err != nil {
		slog.Error("failed to start faker", slog.String("error", err.Error()))
		return exitFatal
	}
	slog.Info(
		"faker started",
		slog.String("id", id),
		slog.String("data_dir", cfg.DataDir),
	)

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			stopCtx, stopCancel := context.WithTimeout(
				context.Background(),
				35*time.Second,
			)
			if err := reg.Stop(stopCtx, id); err != nil {
				slog.Error("stop failed", slog.String("error", err.Error()))
			}
			stopCancel()
			return exitOK
		case <-ticker.C:
			snap, err := reg.Stats(id)
			if err != nil {
				slog.Error("stats failed", slog.String("error", err.Error()))
				continue
			}
			slog.Info(
				"faker stats",
				slog.String("state", snap.State.String()),
				slog.Uint64("uploaded", snap.Uploaded),
				slog.Uint64("downloaded", snap.Downloaded),
				slog.Float64("ratio", snap.Ratio),
				slog.Uint64("left", snap.Left),
			)
		}
	}
}
