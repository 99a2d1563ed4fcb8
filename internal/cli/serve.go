package cli

import (
	"github.com/spf13/cobra"

	"github.com/perchlabs/perch/internal/hub"
	"github.com/perchlabs/perch/internal/keys"
	"github.com/perchlabs/perch/internal/logger"
	"github.com/perchlabs/perch/internal/monitor"
	"github.com/perchlabs/perch/internal/provision"
	"github.com/perchlabs/perch/internal/registry"
	"github.com/perchlabs/perch/internal/web"
)

var (
	serveListenFlag  string
	serveDataDirFlag string
)

// serveCmd runs the monitoring daemon.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the watcher daemon",
	Long: `Start the monitoring daemon: warm SSH sessions to the registered
fleet, poll stats for connected dashboards, and serve the REST and
WebSocket API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListenFlag, "listen", "", "Listen address (overrides config)")
	serveCmd.Flags().StringVar(&serveDataDirFlag, "data-dir", "", "Data directory (overrides config)")
}

func serve() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveListenFlag != "" {
		cfg.Listen = serveListenFlag
	}
	if serveDataDirFlag != "" {
		cfg.DataDir = serveDataDirFlag
	}

	log := logger.Default()

	// A corrupt registry is fatal: silently dropping registered servers
	// would be worse than refusing to start.
	store, err := registry.Load(cfg.ServersFile())
	if err != nil {
		return err
	}

	pubKey, err := keys.Ensure(cfg.KeysDir())
	if err != nil {
		return err
	}

	pool := monitor.NewPool(monitor.PoolConfig{
		SSHTimeout:     cfg.SSHTimeout(),
		CommandTimeout: cfg.CommandTimeout(),
		Keepalive:      cfg.Keepalive(),
		SweepInterval:  cfg.HealthcheckInterval(),
		MaxWorkers:     cfg.MaxWorkers,
		KeysDir:        cfg.KeysDir(),
	}, log)
	defer pool.Stop()

	svc := monitor.NewService(store, pool)

	h := hub.New(hub.Config{
		Tick:                  cfg.Tick(),
		MinInterval:           cfg.MinInterval(),
		MaxInterval:           cfg.MaxInterval(),
		DefaultInterval:       cfg.DefaultInterval(),
		Pm2DetailLimit:        cfg.Pm2DetailLimit,
		SupervisorDetailLimit: cfg.SupervisorDetailLimit,
		MaxWorkers:            cfg.MaxWorkers,
	}, store, pool.Collect, log)
	go h.Run()
	defer h.Stop()

	go pool.WarmConnections(store.List())

	prov := provision.New(cfg.SSHTimeout(), log)
	server := web.New(cfg, svc, h, prov, pubKey, version, log)
	return server.Run()
}
