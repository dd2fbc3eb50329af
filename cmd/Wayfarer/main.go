// Package main is the entry point of the Wayfarer service.
// It initializes the Kratos application with the HTTP server and the
// breaker snapshot job.
package main

import (
	"flag"
	"os"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/joho/godotenv"

	"Wayfarer/internal/conf"
	zapLogger "Wayfarer/pkg/log"

	_ "go.uber.org/automaxprocs"
)

// go build -ldflags "-X main.Version=x.y.z"
var (
	// Name is the name of the compiled software.
	Name = "wayfarer"
	// Version is the version of the compiled software.
	Version string
	// flagconf is the config flag.
	flagconf string

	id, _ = os.Hostname()
)

func init() {
	flag.StringVar(&flagconf, "conf", "../../configs/config.yaml", "config path, eg: -conf config.yaml")
}

func newApp(logger log.Logger, hs *http.Server, sc *snapshotCron) *kratos.App {
	return kratos.New(
		kratos.ID(id),
		kratos.Name(Name),
		kratos.Version(Version),
		kratos.Metadata(map[string]string{}),
		kratos.Logger(logger),
		kratos.Server(
			hs,
			sc,
		),
	)
}

func main() {
	flag.Parse()

	// .env is optional; real environment variables win
	_ = godotenv.Load()

	bc, err := conf.NewBootstrap(flagconf)
	if err != nil {
		// Use fallback logger before Zap is initialized
		log.Fatalf("failed to load configuration: %v", err)
	}
	if err := conf.Validate(bc); err != nil {
		log.Fatalf("%v", err)
	}

	zapLog, err := zapLogger.NewZapLogger(bc.Log)
	if err != nil {
		log.Fatalf("failed to initialize zap logger: %v", err)
	}
	defer func() { _ = zapLog.Sync() }()

	logger := zapLogger.NewKratosAdapter(zapLog)
	logger = log.With(logger,
		"service.id", id,
		"service.name", Name,
		"service.version", Version,
		"request_id", zapLogger.RequestID(),
	)

	zapLogger.NewLogHelper(logger).Startup("Wayfarer service starting",
		"http.addr", bc.Server.Http.Addr,
		"log.level", bc.Log.Level,
		"log.format", bc.Log.Format,
		"fetch.allowlist", bc.Fetch.Allowlist,
		"flight_search.target", bc.FlightSearch.Target,
		"cron.snapshot_spec", bc.Cron.SnapshotSpec,
	)

	app, cleanup, err := wireApp(bc.Server, bc.Data, bc.Resilience, bc.Fetch, bc.FlightSearch, bc.Irrops, bc.Cron, logger)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	// start and wait for stop signal
	if err := app.Run(); err != nil {
		panic(err)
	}
}
