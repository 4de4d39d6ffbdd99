package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/marginalia/quill/go/api"
	"github.com/marginalia/quill/go/app"
	"github.com/marginalia/quill/go/auth"
	"github.com/marginalia/quill/go/doc"
	"github.com/marginalia/quill/go/session"
	"github.com/marginalia/quill/go/storage"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const iniFilename = "quill.ini"

// Config is the top-level configuration object of a quill server.
var Config = new(struct {
	Serve struct {
		Port        uint16 `long:"port" env:"PORT" default:"9080" description:"Port of the document API"`
		MonitorPort uint16 `long:"monitor-port" env:"MONITOR_PORT" default:"9090" description:"Port of the monitor endpoints"`
		APIURL      string `long:"api-url" env:"API_URL" description:"Externally reachable API URL advertised to clients (defaults to http://localhost:<port>/api)"`
		Dev         bool   `long:"dev" env:"DEV" description:"Development mode: mint a root token, allow token overrides, serve pprof"`
	} `group:"Serve" namespace:"serve" env-namespace:"SERVE"`

	Store struct {
		Backend string `long:"backend" env:"BACKEND" default:"local" choice:"local" choice:"bolt" description:"Change-log backend"`
		Path    string `long:"path" env:"PATH" default:"var/quill" description:"Directory (local) or database file (bolt) of the store"`
	} `group:"Store" namespace:"store" env-namespace:"STORE"`

	Auth struct {
		Seed string `long:"seed" env:"SEED" description:"Yaml file seeding root and author tokens"`
	} `group:"Auth" namespace:"auth" env-namespace:"AUTH"`

	Session struct {
		IdleTimeout   time.Duration `long:"idle-timeout" env:"IDLE_TIMEOUT" default:"20m" description:"End sessions idle for this long"`
		SweepInterval time.Duration `long:"sweep-interval" env:"SWEEP_INTERVAL" default:"1m" description:"How often the idle sweep runs"`
	} `group:"Session" namespace:"session" env-namespace:"SESSION"`

	Load struct {
		HeavyConnections int           `long:"heavy-connections" env:"HEAVY_CONNECTIONS" default:"200" description:"Connection count scored as fully loaded"`
		HeavyDocuments   int           `long:"heavy-documents" env:"HEAVY_DOCUMENTS" default:"500" description:"Open document count scored as fully loaded"`
		HeavySessions    int           `long:"heavy-sessions" env:"HEAVY_SESSIONS" default:"1000" description:"Session count scored as fully loaded"`
		HeavyStoreBytes  int64         `long:"heavy-store-bytes" env:"HEAVY_STORE_BYTES" default:"10737418240" description:"Store size scored as fully loaded"`
		SampleInterval   time.Duration `long:"sample-interval" env:"SAMPLE_INTERVAL" default:"5s" description:"Load factor sampling interval"`
	} `group:"Load" namespace:"load" env-namespace:"LOAD"`

	Log struct {
		Level  string `long:"level" env:"LEVEL" default:"info" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Logging level"`
		Format string `long:"format" env:"FORMAT" default:"text" choice:"json" choice:"text" description:"Logging output format"`
	} `group:"Logging" namespace:"log" env-namespace:"LOG"`
})

// drainTimeout bounds how long shutdown waits for connections to part.
const drainTimeout = 30 * time.Second

type cmdServe struct{}

func (cmdServe) Execute(_ []string) error {
	initLog()

	log.WithFields(log.Fields{
		"port":    Config.Serve.Port,
		"backend": Config.Store.Backend,
		"dev":     Config.Serve.Dev,
	}).Info("quill server configuration")

	var store, err = openStore()
	must(err, "opening store")
	defer store.Close()

	authority, err := auth.NewLocalAuthority(auth.LocalAuthorityConfig{
		SeedPath: Config.Auth.Seed,
		DevMode:  Config.Serve.Dev,
	})
	must(err, "building token authority")

	var registry = doc.NewRegistry(store, doc.DefaultOptions)
	var sessions = session.NewManager(registry, session.Config{
		IdleTimeout:   Config.Session.IdleTimeout,
		SweepInterval: Config.Session.SweepInterval,
	})

	var apiURL = Config.Serve.APIURL
	if apiURL == "" {
		apiURL = fmt.Sprintf("http://localhost:%d/api", Config.Serve.Port)
	}
	dispatcher, err := api.NewDispatcher(api.NewContext(), authority, sessions, apiURL, Config.Serve.Dev)
	must(err, "building dispatcher")

	var (
		shutdown = app.NewShutdownManager()
		signalCh = make(chan os.Signal, 1)
		server   *api.Server
	)

	// The sample closes over server, which is assigned below before
	// anything samples.
	var load = app.NewLoadFactor(app.LoadFactorConfig{
		HeavyConnections: Config.Load.HeavyConnections,
		HeavyDocuments:   Config.Load.HeavyDocuments,
		HeavySessions:    Config.Load.HeavySessions,
		HeavyStoreBytes:  Config.Load.HeavyStoreBytes,
	}, func(ctx context.Context) app.LoadStats {
		var stats = app.LoadStats{
			Connections: server.ConnCount(),
			Documents:   registry.Count(),
			Sessions:    sessions.Count(),
		}
		if s, err := store.Stats(ctx); err == nil {
			stats.StoreBytes = s.RoughSize
		}
		return stats
	})
	var traffic = app.NewTrafficSignal(func() int {
		return load.Value(context.Background())
	})

	server = api.NewServer(dispatcher, "/api", func() (bool, string) {
		if shutdown.IsShuttingDown() {
			return false, "shutting down"
		}
		return traffic.ShouldAllowTraffic()
	})

	var monitor = app.NewMonitor(traffic, load,
		func() bool { return !shutdown.IsShuttingDown() },
		func() map[string]any {
			var vars = map[string]any{
				"connections": server.ConnCount(),
				"documents":   registry.Count(),
				"sessions":    sessions.Count(),
			}
			if ids, err := authority.RootTokenIDs(context.Background()); err == nil {
				vars["rootTokenIds"] = ids
			}
			return vars
		},
		serveMode(), Config.Serve.Dev)

	var apiListener, monitorListener net.Listener
	apiListener, err = net.Listen("tcp", fmt.Sprintf(":%d", Config.Serve.Port))
	must(err, "binding API listener")
	monitorListener, err = net.Listen("tcp", fmt.Sprintf(":%d", Config.Serve.MonitorPort))
	must(err, "binding monitor listener")

	var apiServer = &http.Server{Handler: server.Router()}
	var monitorServer = &http.Server{Handler: monitor.Router()}

	var runCtx, stopTasks = context.WithCancel(context.Background())
	defer stopTasks()
	var tasks, tasksCtx = errgroup.WithContext(runCtx)

	tasks.Go(func() error {
		if err := apiServer.Serve(apiListener); err != http.ErrServerClosed {
			return fmt.Errorf("API server: %w", err)
		}
		return nil
	})
	tasks.Go(func() error {
		if err := monitorServer.Serve(monitorListener); err != http.ErrServerClosed {
			return fmt.Errorf("monitor server: %w", err)
		}
		return nil
	})
	tasks.Go(func() error { return sessions.Serve(tasksCtx) })
	tasks.Go(func() error { return load.Serve(tasksCtx, Config.Load.SampleInterval) })
	tasks.Go(func() error { return watchRootTokens(tasksCtx, authority) })

	// Install signal handler; a signal begins the drain sequence.
	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)

	tasks.Go(func() error {
		select {
		case sig := <-signalCh:
			log.WithField("signal", sig).Info("caught signal")
			shutdown.Shutdown(sig.String())
		case <-tasksCtx.Done():
			return nil
		}

		// Refuse new admissions, then wait out the live connections.
		traffic.SetShuttingDown()

		var drainCtx, cancel = context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := app.DrainConnections(drainCtx, server.ConnCount, server.CloseAll); err != nil {
			log.WithField("err", err).Warn("drain timed out; closing remaining connections")
		}

		var stopCtx, stopCancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = apiServer.Shutdown(stopCtx)
		_ = monitorServer.Shutdown(stopCtx)

		stopTasks()
		return nil
	})

	log.WithFields(log.Fields{
		"apiURL":  apiURL,
		"monitor": fmt.Sprintf(":%d", Config.Serve.MonitorPort),
	}).Info("starting quill-server")

	must(tasks.Wait(), "server task failed")
	log.Info("goodbye")

	return nil
}

func serveMode() string {
	if Config.Serve.Dev {
		return "dev"
	}
	return "production"
}

func openStore() (storage.Store, error) {
	switch Config.Store.Backend {
	case "bolt":
		return storage.NewBoltStore(Config.Store.Path)
	default:
		return storage.NewLocalStore(Config.Store.Path)
	}
}

// watchRootTokens logs root token rotations so operators can confirm a
// rollout took effect, without ever logging the secrets themselves.
func watchRootTokens(ctx context.Context, authority auth.Authority) error {
	for {
		if err := authority.WhenRootTokensChange(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("watching root tokens: %w", err)
		}
		if ids, err := authority.RootTokenIDs(ctx); err == nil {
			log.WithField("tokenIds", ids).Info("root token set changed")
		}
	}
}

func initLog() {
	if Config.Log.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	}
	if level, err := log.ParseLevel(Config.Log.Level); err == nil {
		log.SetLevel(level)
	}
}

func must(err error, msg string) {
	if err != nil {
		log.WithField("err", err).Fatal(msg)
	}
}

func main() {
	var parser = flags.NewParser(Config, flags.Default)

	_, _ = parser.AddCommand("serve", "Serve the quill document API", `
Serve the collaborative document API with the provided configuration,
until signaled to exit (via SIGTERM).
`, &cmdServe{})

	// An adjacent ini file seeds defaults; flags and env override it.
	if err := flags.NewIniParser(parser).ParseFile(iniFilename); err != nil && !os.IsNotExist(err) {
		log.WithField("err", err).Fatal("parsing " + iniFilename)
	}
	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
