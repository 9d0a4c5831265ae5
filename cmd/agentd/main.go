// cmd/agentd/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/EmbarkStudios/cervo/internal/config"
	"github.com/EmbarkStudios/cervo/internal/faketest"
	"github.com/EmbarkStudios/cervo/internal/handler"
	"github.com/EmbarkStudios/cervo/internal/metrics"
	"github.com/EmbarkStudios/cervo/internal/middleware"
	"github.com/EmbarkStudios/cervo/internal/statestore"
	"github.com/EmbarkStudios/cervo/pkg/graph"
	"github.com/EmbarkStudios/cervo/pkg/graph/onnxgraph"
	"github.com/EmbarkStudios/cervo/pkg/infer"
	"github.com/EmbarkStudios/cervo/pkg/runtime"
)

const serviceName = "agentd"

func main() {
	configFile := flag.String("config", "", "Path to config file (optional)")
	flag.Parse()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Printf("Starting %s...", serviceName)
	log.Printf("Configuration: port=%d, model_dir=%s, redis=%s, metrics=%d, otel=%v, fake_graph=%v",
		cfg.Port, cfg.ModelDir, cfg.Redis, cfg.MetricsPort, cfg.OTELEnabled, cfg.UseFakeGraph)

	var tracerShutdown func(context.Context) error
	if cfg.OTELEnabled {
		tracerShutdown, err = initTracer(cfg.OTELEndpoint)
		if err != nil {
			log.Printf("Warning: failed to initialize tracer: %v", err)
		} else {
			log.Printf("OpenTelemetry tracing enabled (endpoint: %s)", cfg.OTELEndpoint)
		}
	}

	rt := runtime.New()
	brains, closeGraphs, err := loadModels(cfg)
	if err != nil {
		log.Fatalf("Failed to load models: %v", err)
	}
	defer closeGraphs()

	for name, inf := range brains {
		id := rt.AddInferer(inf)
		logrus.WithFields(logrus.Fields{"model": name, "brain_id": id}).Info("registered model")
	}

	// The state store backs handler.Handler's BeginAgent/EndAgent endpoints,
	// which save and load a recurrent-wrapped brain's per-agent state around
	// an agent's lifetime so it survives an agentd restart. No other route
	// uses it.
	var store *statestore.Store
	if cfg.Redis != "" {
		store, err = statestore.New(cfg.Redis)
		if err != nil {
			log.Printf("Warning: failed to connect to Redis at %s: %v (continuing without state persistence)", cfg.Redis, err)
		} else {
			defer store.Close()
			log.Printf("Redis state store connected at %s", cfg.Redis)
		}
	}

	h := handler.New(rt, cfg.RunForBudget(), store)
	mux := http.NewServeMux()
	mux.Handle("POST /v1/brains/{brain}/agents/{agent}", instrument("push", h.Push))
	mux.Handle("POST /v1/brains/{brain}/agents/{agent}/begin", instrument("begin_agent", h.BeginAgent))
	mux.Handle("POST /v1/brains/{brain}/agents/{agent}/end", instrument("end_agent", h.EndAgent))
	mux.Handle("POST /v1/tick", instrument("tick", h.Tick))
	mux.Handle("DELETE /v1/brains/{brain}", instrument("remove", h.Remove))
	mux.Handle("GET /v1/brains/{brain}/shapes", instrument("shapes", h.Shapes))
	mux.Handle("GET /healthz", instrument("healthz", h.Healthz))
	mux.Handle("GET /readyz", instrument("readyz", h.Healthz))
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: middleware.RequestID(mux),
	}

	metrics.SetHealthy()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		metrics.SetUnhealthy()
		time.Sleep(2 * time.Second)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
		if tracerShutdown != nil {
			_ = tracerShutdown(ctx)
		}
	}()

	log.Printf("%s listening on %s", serviceName, server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to serve: %v", err)
	}
	log.Printf("Server shutdown complete")
}

func instrument(route string, fn http.HandlerFunc) http.Handler {
	return middleware.Metrics(route)(fn)
}

func loadConfig(configFile string) (*config.Config, error) {
	if configFile != "" {
		return config.LoadWithConfigFile(configFile)
	}
	return config.Load()
}

// loadModels builds one Inferer per model under cfg.ModelDir, keyed by its
// file name (without extension). In fake-graph mode it instead registers a
// couple of deterministic faketest.Graph-backed models, so agentd can be
// exercised end to end without a real ONNX Runtime shared library.
func loadModels(cfg *config.Config) (map[string]infer.Inferer, func(), error) {
	if cfg.UseFakeGraph {
		inf, err := infer.MemoizingDynamicFromGraph(faketest.NewGraph(
			[]graph.Shape{{Name: "observation", Dims: []int64{8}}},
			[]graph.Shape{{Name: "action", Dims: []int64{4}}},
		), []int{1, 4, 8})
		if err != nil {
			return nil, nil, fmt.Errorf("build fake inferer: %w", err)
		}
		return map[string]infer.Inferer{"fake-brain": inf}, func() {}, nil
	}

	if err := onnxgraph.Init(""); err != nil {
		return nil, nil, fmt.Errorf("init onnxruntime: %w", err)
	}

	entries, err := os.ReadDir(cfg.ModelDir)
	if err != nil {
		return nil, nil, fmt.Errorf("read model_dir %s: %w", cfg.ModelDir, err)
	}

	var graphs []*onnxgraph.Graph
	closeAll := func() {
		for _, g := range graphs {
			_ = g.Close()
		}
	}

	brains := make(map[string]infer.Inferer)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".onnx" {
			continue
		}
		path := filepath.Join(cfg.ModelDir, entry.Name())
		g, err := onnxgraph.FromFile(path)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("load model %s: %w", path, err)
		}
		graphs = append(graphs, g)

		inf, err := infer.MemoizingDynamicFromGraph(g, nil)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("build inferer for %s: %w", path, err)
		}
		name := entry.Name()[:len(entry.Name())-len(filepath.Ext(entry.Name()))]
		brains[name] = inf
	}

	if len(brains) == 0 {
		closeAll()
		return nil, nil, fmt.Errorf("no .onnx models found under %s", cfg.ModelDir)
	}

	return brains, closeAll, nil
}

func initTracer(endpoint string) (func(context.Context) error, error) {
	if endpoint != "" {
		log.Printf("Note: using stdout trace exporter (OTLP endpoint %s not wired)", endpoint)
	}
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
