package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-homesync/internal/api"
	"github.com/nerrad567/gray-logic-homesync/internal/auth"
	"github.com/nerrad567/gray-logic-homesync/internal/backend"
	"github.com/nerrad567/gray-logic-homesync/internal/connection"
	"github.com/nerrad567/gray-logic-homesync/internal/device"
	"github.com/nerrad567/gray-logic-homesync/internal/homesync"
	"github.com/nerrad567/gray-logic-homesync/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-homesync/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-homesync/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-homesync/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-homesync/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-homesync/internal/localexec"
	"github.com/nerrad567/gray-logic-homesync/internal/queue"
	"github.com/nerrad567/gray-logic-homesync/internal/schema"
	"github.com/nerrad567/gray-logic-homesync/internal/store"
	"github.com/nerrad567/gray-logic-homesync/migrations"
)

const historyWriteTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync daemon",
	Long: `Connects to the MQTT broker and the backend, opens every configured
device and keeps it in sync until interrupted.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context(), resolveConfigPath(configPath))
	},
}

// run wires the daemon and blocks until ctx is cancelled.
//
// Shutdown closes device handles first so their presence paths are cleared
// while the store is still connected.
func run(ctx context.Context, path string) error {
	log := logging.Default()

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	set := metrics.NewSet()
	log = logging.New(cfg.Logging, version).WithMetrics(set)
	log.Info("homesync starting", "version", version, "commit", commit, "build_date", date, "config", path)

	g, gctx := errgroup.WithContext(ctx)

	var (
		observers []func(device.Commit)
		history   device.History
	)
	checks := make(map[string]api.Checker)

	if cfg.Database.Enabled {
		db, err := database.Open(ctx, database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			if err := db.Close(); err != nil {
				log.Error("error closing database", "error", err)
			}
		}()

		applied, err := db.Migrate(ctx, migrations.FS)
		if err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		checks["database"] = db
		log.Info("database ready", "path", db.Path(), "migrations_applied", applied)

		repo := device.NewSQLiteHistory(db.DB)
		history = repo
		observers = append(observers, device.HistoryObserver(repo, log, historyWriteTimeout))

		keep := time.Duration(cfg.Database.RetentionDays) * 24 * time.Hour
		g.Go(func() error {
			database.RunRetention(gctx, database.Retention{Keep: keep}, repo, log.With("component", "retention"))
			return nil
		})
	}

	if cfg.InfluxDB.Enabled {
		influx, err := influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			log.Warn("InfluxDB connection failed, continuing without telemetry", "error", err)
		} else {
			defer func() {
				if err := influx.Close(); err != nil {
					log.Error("error closing InfluxDB", "error", err)
				}
			}()
			influx.SetOnError(func(err error) {
				log.Error("InfluxDB write error", "error", err)
			})
			observers = append(observers, influx.Observer())
			checks["influxdb"] = influx
			log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
		}
	}

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		if err := mqttClient.Close(); err != nil {
			log.Error("error closing MQTT", "error", err)
		}
	}()
	mqttClient.SetLogger(log)
	checks["mqtt"] = mqttClient
	log.Info("MQTT connected", "broker", cfg.MQTT.Broker.Host, "port", cfg.MQTT.Broker.Port)

	st := store.NewMQTT(mqttClient, cfg.MQTT.Broker.ClientID)
	st.SetLogger(log.With("component", "store"))
	if err := st.Watch(); err != nil {
		return fmt.Errorf("watching peer presence: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error("error closing store", "error", err)
		}
	}()

	client := backend.New(backend.Config{
		Endpoint:  cfg.Backend.Endpoint,
		UserAgent: cfg.Backend.UserAgent,
		Compress:  cfg.Backend.Compress,
		Timeout:   cfg.BackendTimeout(),
	}, nil)

	manager := connection.NewManager(connectionConfig(cfg, set), client, st)
	manager.SetLogger(log.With("component", "connection"))
	defer manager.Close()

	var local *localexec.Service
	if cfg.Local.Enabled {
		local = localexec.New(localConfig(cfg, set))
		local.SetLogger(log.With("component", "localexec"))
		defer local.Close()

		srv, err := api.New(api.Deps{
			Addr:    net.JoinHostPort(cfg.Local.Host, strconv.Itoa(cfg.Local.CommandPort)),
			Logger:  log.With("component", "api"),
			Local:   local,
			History: history,
			Metrics: set,
			Version: version,
			Checks:  checks,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		local.SetServer(srv)
		log.Info("local execution enabled", "proxy_id", local.ProxyID(), "command_port", cfg.Local.CommandPort)
	}

	creds := credentials(cfg.Account)
	handles := make([]*homesync.Handle, 0, len(cfg.Devices))
	defer func() {
		for i := len(handles) - 1; i >= 0; i-- {
			handles[i].Close()
		}
	}()

	for _, dc := range cfg.Devices {
		dev, err := toDevice(dc)
		if err != nil {
			return fmt.Errorf("device %s: %w", dc.ID, err)
		}
		h, err := homesync.Open(homesync.Options{
			Device:       dev,
			Manager:      manager,
			Credentials:  creds,
			Group:        cfg.Account.Group,
			Validator:    schema.ValidatorFor(dev.Traits),
			Execute:      schema.Execute,
			AsyncTimeout: cfg.AsyncTimeout(),
			Local:        local,
			Observers:    observers,
			Logger:       log.With("device_id", dev.ID),
		})
		if err != nil {
			return fmt.Errorf("opening device %s: %w", dev.ID, err)
		}
		handles = append(handles, h)

		g.Go(func() error {
			if err := h.Ready(gctx); err != nil {
				if gctx.Err() == nil {
					log.Error("device failed to sync", "device_id", h.ID(), "error", err)
				}
				return nil
			}
			log.Info("device synced", "device_id", h.ID())
			return nil
		})
	}

	log.Info("homesync started", "devices", len(handles))

	<-gctx.Done()
	log.Info("shutdown signal received, stopping...")

	for i := len(handles) - 1; i >= 0; i-- {
		handles[i].Close()
	}
	handles = handles[:0]

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("homesync stopped")
	return nil
}

// connectionConfig maps the connection and queue sections onto the manager settings.
func connectionConfig(cfg *config.Config, set *metrics.Set) connection.Config {
	cc := connection.DefaultConfig()
	cc.IdleGrace = cfg.IdleGrace()
	cc.AuthRetryMin, cc.AuthRetryMax = cfg.AuthRetry()
	cc.Metrics = set

	q := cfg.Queue
	cc.Queue.Lanes = map[queue.Kind]queue.Lane{
		queue.KindReportState: {Window: q.ReportState.WindowDuration(), Limit: q.ReportState.Limit, Overflow: queue.OverflowMerge},
		queue.KindSync:        {Window: q.Sync.WindowDuration(), Limit: q.Sync.Limit, Overflow: queue.OverflowCollapse},
		queue.KindNotify:      {Window: q.Notify.WindowDuration(), Limit: q.Notify.Limit, Overflow: queue.OverflowReject},
	}
	cc.Queue.Attempts = q.Attempts
	cc.Queue.RetryDelay = cfg.RetryDelay()
	return cc
}

func localConfig(cfg *config.Config, set *metrics.Set) localexec.Config {
	return localexec.Config{
		Host:          cfg.Local.Host,
		DiscoveryPort: cfg.Local.DiscoveryPort,
		ReplyPort:     cfg.Local.ReplyPort,
		CommandPort:   cfg.Local.CommandPort,
		MagicPacket:   cfg.Local.MagicPacket,
		IdleGrace:     cfg.LocalIdleGrace(),
		Metrics:       set,
	}
}

// credentials prefers the SSO token when one is configured.
func credentials(a config.AccountConfig) auth.Credentials {
	if a.SSOToken != "" {
		return auth.SSO{Token: a.SSOToken}
	}
	return auth.Password{Email: a.Email, Password: a.Password}
}

// toDevice converts a configured device. State maps are normalised through
// JSON so YAML integers compare equal to the float64 values the backend sends.
func toDevice(dc config.DeviceConfig) (*device.Device, error) {
	dev := &device.Device{
		ID:              dc.ID,
		Type:            device.Type(dc.Type),
		Name:            device.Name{Name: dc.Name, Nicknames: dc.Nicknames},
		WillReportState: dc.WillReportState,
		RoomHint:        dc.RoomHint,
	}
	for _, t := range dc.Traits {
		dev.Traits = append(dev.Traits, device.Trait(t))
	}

	if err := normalise(dc.Attributes, &dev.Attributes); err != nil {
		return nil, fmt.Errorf("attributes: %w", err)
	}
	if err := normalise(dc.State, &dev.State); err != nil {
		return nil, fmt.Errorf("state: %w", err)
	}
	if err := normalise(dc.NoraSpecific, &dev.NoraSpecific); err != nil {
		return nil, fmt.Errorf("nora_specific: %w", err)
	}
	if dev.State == nil {
		dev.State = device.State{}
	}
	return dev, nil
}

func normalise(in map[string]any, out any) error {
	if len(in) == 0 {
		return nil
	}
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
