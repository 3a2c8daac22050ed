package main

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/do-ops885/ai-orchestrator-hub/internal/config"
	"github.com/do-ops885/ai-orchestrator-hub/internal/hive"
	"github.com/do-ops885/ai-orchestrator-hub/internal/ipc"
	"github.com/do-ops885/ai-orchestrator-hub/internal/metrics"
	"github.com/do-ops885/ai-orchestrator-hub/internal/natsbus"
	"github.com/do-ops885/ai-orchestrator-hub/internal/scheduler"
	"github.com/do-ops885/ai-orchestrator-hub/internal/store"
	"github.com/do-ops885/ai-orchestrator-hub/internal/telegram"
	"github.com/do-ops885/ai-orchestrator-hub/internal/web"
	"github.com/do-ops885/ai-orchestrator-hub/internal/workers"
)

var version = "dev"

const (
	eventRetention = 24 * time.Hour
	eventMaxMsgs   = 100_000
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Printf("hive %s\n", version)
		return
	case "serve":
		err = runServe()
	case "backup":
		err = runBackup(os.Args[2:])
	case "restore":
		err = runRestore(os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		slog.Error(os.Args[1]+" failed", "error", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: hive <command>

Commands:
  serve      Start the hive engine
  backup     Archive the store and config (-f <output.tar.zst>)
  restore    Restore an archive (-f <backup.tar.zst> [-overwrite])
  version    Print version
`)
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting hive", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	// SQLite store
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	h := hive.New(cfg, db, hive.Options{})
	if err := h.Load(); err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if created, err := h.EnsureAgents(cfg.Agents); err != nil {
		return fmt.Errorf("declare agents: %w", err)
	} else if len(created) > 0 {
		slog.Info("declared agents registered", "count", len(created))
	}

	// Embedded NATS
	bus, err := natsbus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer bus.Close()
	slog.Info("nats started", "port", bus.Port())

	client, err := natsbus.NewClient(bus)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer client.Close()

	bridge := natsbus.NewBridge(client, h.Bus(), cfg.Events.Buffer)
	if err := bridge.EnsureStream(eventRetention, eventMaxMsgs); err != nil {
		return fmt.Errorf("event stream: %w", err)
	}
	g.Go(func() error { bridge.Run(gctx); return nil })

	// Scheduler
	sched := scheduler.New(db, h, cfg.Scheduler)
	g.Go(func() error { sched.Run(gctx); return nil })

	// Control plane
	ipcSrv := ipc.NewServer(h, sched, client)
	if err := ipcSrv.Start(); err != nil {
		return fmt.Errorf("start ipc: %w", err)
	}
	defer ipcSrv.Stop()

	// Metrics
	m := metrics.New()
	m.WatchJournal(h.Journal())
	h.Swarm().OnSnapshot(m.Observe)
	g.Go(func() error { m.Run(gctx, h.Bus()); return nil })

	// Telegram alerts
	var bot *telegram.Bot
	if cfg.Telegram.Token != "" {
		bot, err = telegram.NewBot(cfg.Telegram, h)
		if err != nil {
			return fmt.Errorf("init telegram bot: %w", err)
		}
		g.Go(func() error {
			if err := bot.Start(gctx); err != nil {
				slog.Error("telegram bot stopped", "error", err)
			}
			return nil
		})
		slog.Info("telegram bot started", "chats", len(cfg.Telegram.ChatIDs))
	} else {
		slog.Warn("telegram token not set, alerts disabled")
	}

	// Web API
	if cfg.Web.Enabled {
		srv := web.NewServer(h, sched, m, client, cfg.Web, version)
		g.Go(func() error {
			if err := srv.Start(gctx); err != nil {
				return fmt.Errorf("web server: %w", err)
			}
			return nil
		})
	}

	// In-process workers
	var pool *workers.Pool
	if cfg.Workers.Count > 0 {
		pool = workers.NewPool(h, workers.NewSimulatedExecutor(cfg.Workers.WorkTime, uint64(time.Now().UnixNano())), workers.Options{
			PollInterval: cfg.Workers.PollInterval,
			MaxBackoff:   cfg.Workers.MaxBackoff,
			Heartbeat:    cfg.Workers.Heartbeat,
		})
		startWorkers(gctx, h, pool, cfg, cfg.Workers.Count)
	}

	g.Go(func() error { return h.Run(gctx) })

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
wait:
	for {
		select {
		case <-gctx.Done():
			slog.Error("component stopped, shutting down")
			break wait
		case sig := <-sigCh:
			if sig != syscall.SIGHUP {
				slog.Info("shutting down", "signal", sig)
				break wait
			}
			if next, err := reload(gctx, cfg, h, sched, bot, pool); err != nil {
				slog.Error("config reload failed", "error", err)
			} else {
				cfg = next
			}
		}
	}

	st := bus.Stats()
	slog.Info("stopping", "nats_clients", st.Clients, "nats_subscriptions", st.Subscriptions)
	cancel()
	if pool != nil {
		pool.Wait()
	}
	return g.Wait()
}

// startWorkers runs an in-process worker for up to limit declared agents.
func startWorkers(ctx context.Context, h *hive.Hive, pool *workers.Pool, cfg *config.Config, limit int) {
	running := len(pool.Running())
	for _, name := range slices.Sorted(maps.Keys(cfg.Agents)) {
		if running >= limit {
			return
		}
		a, err := h.Registry().GetByName(name)
		if err != nil {
			continue
		}
		pool.Start(ctx, a.ID)
		running = len(pool.Running())
	}
}

// reload applies the reloadable parts of a changed config file.
func reload(ctx context.Context, old *config.Config, h *hive.Hive, sched *scheduler.Scheduler, bot *telegram.Bot, pool *workers.Pool) (*config.Config, error) {
	next, err := config.Load()
	if err != nil {
		return nil, err
	}
	diff := config.Diff(old, next)
	for _, field := range diff.NonReloadable {
		slog.Warn("config change requires restart", "field", field)
	}
	if !diff.HasChanges() {
		slog.Info("config reloaded, nothing to apply")
		return next, nil
	}

	if len(diff.AgentsAdded) > 0 {
		created, err := h.EnsureAgents(next.Agents)
		if err != nil {
			return nil, err
		}
		slog.Info("declared agents added", "count", len(created))
		if pool != nil {
			startWorkers(ctx, h, pool, next, next.Workers.Count)
		}
	}
	for _, name := range diff.AgentsRemoved {
		slog.Warn("declared agent removed from config, remove it through the API", "agent", name)
	}
	for _, name := range diff.AgentsChanged {
		slog.Warn("declared agent changed in config, live agent keeps its learned state", "agent", name)
	}
	if diff.SchedulerChanged {
		sched.UpdateConfig(diff.NewPollInterval.PollInterval)
	}
	if diff.SwarmChanged {
		h.UpdateSwarm(diff.NewSwarm)
	}
	if diff.ChatIDsChanged && bot != nil {
		bot.UpdateChatIDs(diff.NewChatIDs)
	}
	slog.Info("config reloaded")
	return next, nil
}
