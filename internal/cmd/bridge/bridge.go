// Package bridge parses bridge command flags and starts the runtime.
package bridge

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"time"

	bridgeexec "github.com/tablelink/bridge/internal/bridge"
	"github.com/tablelink/bridge/internal/channel"
	"github.com/tablelink/bridge/internal/correlate"
	"github.com/tablelink/bridge/internal/host"
	"github.com/tablelink/bridge/internal/platform/cmd"
	"github.com/tablelink/bridge/internal/platform/discovery"
	"github.com/tablelink/bridge/internal/reconcile"
	"github.com/tablelink/bridge/internal/session"
	"github.com/tablelink/bridge/internal/storage"
	"github.com/tablelink/bridge/internal/storage/sqlite"
	"github.com/tablelink/bridge/internal/telemetry"
)

// Config holds bridge command configuration.
type Config struct {
	// BaseURL pins the orchestrator endpoint and skips discovery.
	BaseURL string `env:"TABLELINK_BASE_URL"`
	// DiscoveryHost overrides the host probed during discovery.
	DiscoveryHost string `env:"TABLELINK_DISCOVERY_HOST"`
	// DataPath locates the local database; empty keeps state in memory.
	DataPath string `env:"TABLELINK_DATA_PATH"`
	// PingInterval paces the persistent channel liveness probe.
	PingInterval time.Duration `env:"TABLELINK_PING_INTERVAL" envDefault:"30s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := cmd.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "Orchestrator base URL (skips discovery)")
	fs.StringVar(&cfg.DiscoveryHost, "discovery-host", cfg.DiscoveryHost, "Host probed during discovery")
	fs.StringVar(&cfg.DataPath, "data-path", cfg.DataPath, "Local database path (empty keeps state in memory)")
	fs.DurationVar(&cfg.PingInterval, "ping-interval", cfg.PingInterval, "Liveness probe interval")
	if err := cmd.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the bridge with the built-in in-memory host adapter, for
// standalone operation and local development.
func Run(ctx context.Context, cfg Config) error {
	fake := host.NewFake()
	return RunWithHost(ctx, cfg, fake, fake)
}

// RunWithHost starts the bridge against a concrete host adapter. It blocks
// until the context is canceled.
func RunWithHost(ctx context.Context, cfg Config, reader host.Reader, mutator host.Mutator) error {
	var store *sqlite.Store
	if cfg.DataPath != "" {
		opened, err := sqlite.Open(cfg.DataPath)
		if err != nil {
			return err
		}
		store = opened
		defer func() {
			if err := store.Close(); err != nil {
				log.Printf("bridge: close store: %v", err)
			}
		}()
	}

	var emitter *telemetry.Emitter
	var sessionStore storage.SessionStore
	if store != nil {
		emitter = telemetry.NewEmitter(store)
		sessionStore = store
	}

	client := session.NewClient(nil)
	manager := session.NewManager(client, sessionStore, session.Options{
		OnEvent: func(event session.Event) {
			log.Printf("bridge: session %s: %s", event.Kind, event.Message)
			if emitter != nil {
				_ = emitter.Emit(ctx, severityFor(event.Kind), "session",
					event.Message, map[string]string{"kind": string(event.Kind)})
			}
		},
	})

	table := correlate.NewTable()

	// The executor needs the router to answer commands and the persistent
	// channel needs the executor for inbound dispatch; the handler closure
	// breaks the construction cycle.
	var executor *bridgeexec.Bridge
	persistent := channel.NewPersistent(channel.InboundHandlerFunc(
		func(ctx context.Context, envelope channel.Envelope) {
			executor.HandleInbound(ctx, envelope)
		}), table)
	router := channel.NewRouter(manager, client, persistent, channel.NewFallback(nil), table,
		discovery.OrCandidateBaseURLs(cfg.BaseURL, cfg.DiscoveryHost))
	reconciler := reconcile.New(reader, router)
	executor = bridgeexec.New(router, reconciler, mutator, emitter)

	return cmd.RunWithTelemetry(ctx, cmd.ServiceBridge, func(ctx context.Context) error {
		if err := router.Initialize(ctx); err != nil {
			return err
		}
		manager.StartHealthMonitoring(ctx, router.BaseURL())
		defer func() {
			persistent.Close()
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			manager.Disconnect(disconnectCtx)
		}()

		interval := cfg.PingInterval
		if interval <= 0 {
			interval = 30 * time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := router.SendRequest(ctx, "ping", json.RawMessage(`{}`)); err != nil {
					log.Printf("bridge: liveness probe failed: %v", err)
				}
			}
		}
	})
}

func severityFor(kind session.EventKind) telemetry.Severity {
	switch kind {
	case session.EventCircuitOpened, session.EventCritical:
		return telemetry.SeverityError
	default:
		return telemetry.SeverityInfo
	}
}
