package main

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/moduhost/workerd/cmd"
	"github.com/moduhost/workerd/internal/api"
	"github.com/moduhost/workerd/internal/config"
	"github.com/moduhost/workerd/internal/detector"
	"github.com/moduhost/workerd/internal/events"
	"github.com/moduhost/workerd/internal/lifecycle"
	"github.com/moduhost/workerd/internal/logging"
	"github.com/moduhost/workerd/internal/metrics"
	"github.com/moduhost/workerd/internal/phpsrc"
	"github.com/moduhost/workerd/internal/registry"
	"github.com/moduhost/workerd/internal/signalfile"
	"github.com/moduhost/workerd/internal/supervisor"
	"github.com/moduhost/workerd/internal/systemd"
	"github.com/moduhost/workerd/internal/version"
	"github.com/moduhost/workerd/internal/watch"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"API listen address" short:"p" default:":8077" toml:"server.port" env:"SERVER_PORT"`

	// Lifecycle settings
	SignalPath      string `help:"Deploy signal file path" default:".worker-signal" toml:"lifecycle.signal_path" env:"LIFECYCLE_SIGNAL_PATH"`
	SignalTTLSec    int    `help:"Seconds before a written signal goes stale" default:"300" toml:"lifecycle.signal_ttl_sec" env:"LIFECYCLE_SIGNAL_TTL_SEC"`
	DrainTimeoutSec int    `help:"Seconds to wait for in-flight work before forcing termination" default:"30" toml:"lifecycle.drain_timeout_sec" env:"LIFECYCLE_DRAIN_TIMEOUT_SEC"`
	CheckInterval   int    `help:"Run filesystem detection every Nth check (0 = every check)" default:"10" toml:"lifecycle.check_interval" env:"LIFECYCLE_CHECK_INTERVAL"`
	CheckEveryMs    int    `help:"Milliseconds between lifecycle checks" default:"1000" toml:"lifecycle.check_every_ms" env:"LIFECYCLE_CHECK_EVERY_MS"`
	RebindThreshold int    `help:"Cumulative rebinds before a preventive drain" default:"100" toml:"lifecycle.rebind_threshold" env:"LIFECYCLE_REBIND_THRESHOLD"`

	// Modules settings
	RosterFile   string `help:"Module and worker roster file" default:"roster.toml" toml:"modules.roster_file" env:"MODULES_ROSTER_FILE"`
	WatchEnabled bool   `help:"Watch module directories and skip scans for clean modules" default:"true" toml:"modules.watch_enabled" env:"MODULES_WATCH_ENABLED"`

	// Supervisor settings
	MaxRestarts     int `help:"Crash restarts allowed per worker process" default:"3" toml:"supervisor.max_restarts" env:"SUPERVISOR_MAX_RESTARTS"`
	RestartDelaySec int `help:"Seconds between crash restarts" default:"2" toml:"supervisor.restart_delay_sec" env:"SUPERVISOR_RESTART_DELAY_SEC"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Logging settings
	LoggingLevel      string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat     string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingLifecycle  string `help:"Lifecycle manager logging level" default:"info" toml:"logging.lifecycle" env:"LOGGING_LIFECYCLE"`
	LoggingDetector   string `help:"Change detector logging level" default:"info" toml:"logging.detector" env:"LOGGING_DETECTOR"`
	LoggingSupervisor string `help:"Worker supervisor logging level" default:"info" toml:"logging.supervisor" env:"LOGGING_SUPERVISOR"`
	LoggingWatch      string `help:"Directory watcher logging level" default:"info" toml:"logging.watch" env:"LOGGING_WATCH"`
	LoggingAPI        string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingHTTP       string `help:"HTTP request logging level" default:"info" toml:"logging.http" env:"LOGGING_HTTP"`
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"lifecycle":  opts.LoggingLifecycle,
				"detector":   opts.LoggingDetector,
				"supervisor": opts.LoggingSupervisor,
				"watch":      opts.LoggingWatch,
				"api":        opts.LoggingAPI,
				"http":       opts.LoggingHTTP,
			},
		})
		logger := logging.GetLogger("main")

		roster := config.NewRosterManager(opts.RosterFile)
		if err := roster.Load(); err != nil {
			logger.Error("Failed to load roster", "error", err, "roster", opts.RosterFile)
			os.Exit(1)
		}

		eventBus := events.New()
		reg := registry.NewMemoryRegistry()
		container := registry.NewRebindContainer(opts.RebindThreshold)
		det := detector.New(detector.FSScanner{}, phpsrc.Classifier{}, logging.GetLogger("detector"))

		for code, mod := range roster.EnabledModules() {
			reg.Register(registry.NewStaticModule(
				registry.ModuleInfo{Code: code, Path: mod.Path},
				reloadHook(mod.ReloadCommand, code, logger),
				reloadHook(mod.ConfigReloadCommand, code, logger),
			))
		}

		manager := lifecycle.New(&lifecycle.Options{
			Config: lifecycle.Config{
				DrainTimeout:  time.Duration(opts.DrainTimeoutSec) * time.Second,
				CheckInterval: opts.CheckInterval,
				SignalPath:    opts.SignalPath,
				SignalTTL:     time.Duration(opts.SignalTTLSec) * time.Second,
			},
			Detector:  det,
			Registry:  reg,
			Container: container,
			Bus:       eventBus,
			Logger:    logging.GetLogger("lifecycle"),
		})

		var watcher *watch.Watcher
		if opts.WatchEnabled {
			w, err := watch.New(det.MarkDirty, logging.GetLogger("watch"))
			if err != nil {
				logger.Warn("Directory watcher unavailable, falling back to full scans", "error", err)
			} else {
				watcher = w
				for code, mod := range roster.EnabledModules() {
					if addErr := watcher.AddModule(code, mod.Path); addErr != nil {
						logger.Warn("Failed to watch module", "module", code, "error", addErr)
					}
				}
				det.EnableDirtyTracking()
			}
		}

		workers := roster.EnabledWorkers()
		workerIDs := make([]string, 0, len(workers))
		for id := range workers {
			workerIDs = append(workerIDs, id)
		}

		pool := supervisor.NewPool(&supervisor.PoolOptions{
			CommandProvider: func(id string) (string, error) {
				worker, ok := roster.EnabledWorkers()[id]
				if !ok {
					return "", errors.New("worker not in roster: " + id)
				}
				return worker.Command, nil
			},
			OnStateChange: func(id string, _, newState supervisor.State, _ error) {
				eventBus.Publish(events.WorkerProcessEvent{
					WorkerID:  id,
					State:     string(newState),
					Timestamp: time.Now().Format(time.RFC3339),
				})
			},
			MaxRestarts:  opts.MaxRestarts,
			RestartDelay: time.Duration(opts.RestartDelaySec) * time.Second,
			Logger:       logging.GetLogger("supervisor"),
		})

		server := api.NewServer(&api.Options{
			AuthUsername:      opts.AuthUsername,
			AuthPassword:      opts.AuthPassword,
			Manager:           manager,
			Registry:          reg,
			Detector:          det,
			Pool:              pool,
			Bus:               eventBus,
			WorkerIDs:         workerIDs,
			SignalPath:        opts.SignalPath,
			PrometheusHandler: metrics.Handler(),
		})

		stopLoop := make(chan struct{})

		hooks.OnStart(func() {
			manager.Boot()

			if watcher != nil {
				watcher.Start()
			}
			for _, id := range workerIDs {
				if startErr := pool.Start(id); startErr != nil {
					logger.Error("Failed to start worker", "id", id, "error", startErr)
				}
			}

			go lifecycleLoop(manager, container, pool, workerIDs,
				time.Duration(opts.CheckEveryMs)*time.Millisecond, stopLoop, logger)

			systemd.NotifyReady()
			logger.Info("Starting HTTP server", "port", opts.Port)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			systemd.NotifyStopping()
			logger.Info("Shutting down")
			close(stopLoop)

			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}
			if watcher != nil {
				if stopErr := watcher.Stop(); stopErr != nil {
					logger.Error("Error stopping watcher", "error", stopErr)
				}
			}
			pool.StopAll()

			// Leftover signals are for this generation only.
			if clearErr := signalfile.Clear(opts.SignalPath); clearErr != nil {
				logger.Warn("Failed to clear signal file", "error", clearErr)
			}
		})
	})

	cli.Root().Use = "workerd"
	cli.Root().Version = version.String()
	cli.Root().AddCommand(cmd.CreateSignalCmd())
	cli.Root().AddCommand(cmd.CreateDetectCmd())
	cli.Root().AddCommand(cmd.CreateServiceCmd())

	cli.Run()
}

// lifecycleLoop drives the manager's periodic check and restarts the worker
// processes when the lifecycle reaches its terminal state. A restart hands
// out a fresh process generation: new pool workers, zeroed rebind counters,
// and rebaselined modules.
func lifecycleLoop(manager *lifecycle.Manager, container *registry.RebindContainer,
	pool supervisor.Pool, workerIDs []string,
	every time.Duration, stop <-chan struct{}, logger *slog.Logger) {

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		action := manager.CheckForChanges()
		if action != lifecycle.ActionTerminate {
			continue
		}

		logger.Info("Lifecycle terminated, restarting worker processes")
		systemd.NotifyStatus("restarting worker processes")
		for _, id := range workerIDs {
			if err := pool.Restart(id); err != nil {
				logger.Error("Failed to restart worker", "id", id, "error", err)
			}
		}

		// The terminated generation's processes are gone, so the rebind
		// counters they accumulated go with them. Boot rebaselines every
		// module and opens the next generation.
		container.ResetCounters()
		manager.Boot()
		systemd.NotifyStatus("ready")
	}
}

// reloadHook builds a module reload callback that shells out to the
// configured command. A module without a command reports success, matching a
// module with nothing to reload.
func reloadHook(command, module string, logger *slog.Logger) func() bool {
	if command == "" {
		return nil
	}
	return func() bool {
		argv, err := supervisor.SplitCommand(command)
		if err != nil || len(argv) == 0 {
			logger.Error("Invalid reload command", "module", module, "error", err)
			return false
		}
		execCmd := exec.Command(argv[0], argv[1:]...)
		execCmd.Stdout = os.Stdout
		execCmd.Stderr = os.Stderr
		if runErr := execCmd.Run(); runErr != nil {
			logger.Error("Reload command failed", "module", module, "error", runErr)
			return false
		}
		return true
	}
}
