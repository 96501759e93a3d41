// Command admitgated runs the admission-control gateway as a standalone
// daemon: it loads a YAML config, wires an example downstream handler, and
// serves both the guarded traffic port and a separate Prometheus metrics
// port.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/kestrelhq/admitgate"
	"github.com/kestrelhq/admitgate/internal/config"
	"github.com/kestrelhq/admitgate/internal/logging"
	"github.com/kestrelhq/admitgate/internal/tracing"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/admitgate.yaml", "Path to configuration file")
	addr := flag.String("addr", ":8080", "Main listener address")
	metricsAddr := flag.String("metrics-addr", ":9090", "Metrics listener address")
	showVersion := flag.Bool("version", false, "Show version information")
	validateOnly := flag.Bool("validate", false, "Validate configuration and exit")
	traceEnabled := flag.Bool("trace", false, "Enable OpenTelemetry tracing of the admission scheduler")
	traceEndpoint := flag.String("trace-endpoint", "", "OTLP/gRPC collector endpoint")
	traceInsecure := flag.Bool("trace-insecure", true, "Use an insecure (non-TLS) connection to the trace collector")
	flag.Parse()

	if *showVersion {
		fmt.Printf("admitgated %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *validateOnly {
		fmt.Println("configuration is valid")
		os.Exit(0)
	}

	logger, logCloser, err := logging.New(logging.Config{Level: "info", Output: "stdout"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	if logCloser != nil {
		defer logCloser.Close()
	}
	logging.SetGlobal(logger)

	logging.Info("starting admitgated",
		zap.String("version", version),
		zap.String("config", *configPath),
		zap.Int("min_priority", cfg.MinPriority),
		zap.Int("max_concurrent", cfg.MaxConcurrent),
		zap.Int("max_queue_depth", cfg.MaxQueueDepth),
	)

	sc := admitgate.DefaultServerConfig()
	sc.Addr = *addr
	sc.MetricsAddr = *metricsAddr

	server, err := admitgate.NewServer(cfg, sc,
		admitgate.WithHandler(exampleHandler()),
		admitgate.WithTracing(tracing.Config{
			Enabled:     *traceEnabled,
			ServiceName: "admitgate",
			Endpoint:    *traceEndpoint,
			Insecure:    *traceInsecure,
		}),
	)
	if err != nil {
		logging.Error("failed to create gateway", zap.Error(err))
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		logging.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

// exampleHandler stands in for the caller's real downstream application —
// admitgated is a reference daemon, not a reverse proxy.
func exampleHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintln(w, "ok")
	})
}
