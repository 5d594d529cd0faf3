package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Mindburn-Labs/helm-runbook/pkg/audit"
	"github.com/Mindburn-Labs/helm-runbook/pkg/config"
	"github.com/Mindburn-Labs/helm-runbook/pkg/connector"
	"github.com/Mindburn-Labs/helm-runbook/pkg/database"
	"github.com/Mindburn-Labs/helm-runbook/pkg/metering"
	"github.com/Mindburn-Labs/helm-runbook/pkg/observability"
	"github.com/Mindburn-Labs/helm-runbook/pkg/runbook"
	"github.com/Mindburn-Labs/helm-runbook/pkg/runbook/component"
	"github.com/Mindburn-Labs/helm-runbook/pkg/runbook/executor"
	"github.com/Mindburn-Labs/helm-runbook/pkg/runbook/planner"
	"github.com/Mindburn-Labs/helm-runbook/pkg/runbook/registry"
	"github.com/Mindburn-Labs/helm-runbook/pkg/runbook/store"
	"github.com/Mindburn-Labs/helm-runbook/pkg/versioning"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing: it never calls os.Exit itself.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stdout)
		return 2
	}

	switch args[1] {
	case "run":
		return runRunbookCmd(args[2:], stdout, stderr)
	case "version", "--version", "-v":
		return runVersionCmd(stdout)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "helm-runbook: DAG-based compliance runbook executor")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  helm-runbook run <runbook.yaml>   execute a runbook and print its result")
	fmt.Fprintln(w, "  helm-runbook version              print engine version and API stability")
	fmt.Fprintln(w, "  helm-runbook help                 show this help")
}

func runVersionCmd(w io.Writer) int {
	fmt.Fprintf(w, "helm-runbook engine %s\n", versioning.EngineVersion.String())
	apis := versioning.EngineAPIs()
	for _, name := range []string{"runbook-schema", "component", "execution-result"} {
		if api, ok := apis.GetAPI(name); ok {
			fmt.Fprintf(w, "  %-20s %s (%s)\n", api.Name, api.CurrentVersion.String(), api.Stability)
		}
	}
	return 0
}

func runRunbookCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "usage: helm-runbook run <runbook.yaml>")
		return 2
	}
	path := args[0]

	cfg := config.Load()
	logger := newLogger(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	provider, err := observability.New(ctx, &observability.Config{
		ServiceName:    "helm-runbook",
		ServiceVersion: versioning.EngineVersion.String(),
		Environment:    "production",
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.OTLPEndpoint != "",
	})
	if err != nil {
		fmt.Fprintf(stderr, "observability init failed: %v\n", err)
		return 1
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = provider.Shutdown(shutdownCtx)
	}()

	runCtx, span := provider.StartSpan(ctx, "helm-runbook.run")
	defer span.End()

	reg := buildRegistry(cfg, logger)

	plan, err := planner.Plan(path, reg)
	if err != nil {
		fmt.Fprintf(stderr, "plan failed: %v\n", err)
		return 1
	}

	auditLogger := newAuditLogger(cfg)
	meter, tenantID := newMeter(cfg)

	ex := executor.New(reg, store.New(), auditLogger, logger)
	if meter != nil {
		ex = ex.WithMeter(meter, tenantID)
	}
	ex = ex.WithRetry(executor.RetryPolicy{
		MaxRetries:       3,
		BaseDelay:        200 * time.Millisecond,
		BreakerThreshold: 5,
		BreakerTimeout:   30 * time.Second,
	})

	result, err := ex.Execute(runCtx, plan)
	if err != nil {
		provider.RecordError(runCtx, err)
		fmt.Fprintf(stderr, "execution failed: %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, result.Summary())
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(summarize(result))

	if result.Cancelled || len(result.Failed) > 0 {
		return 1
	}
	return 0
}

func summarize(result *executor.ExecutionResult) map[string]any {
	outcomes := make(map[string]string, len(result.Outcomes))
	for id, o := range result.Outcomes {
		outcomes[id] = string(o.Kind)
	}
	return map[string]any{
		"outcomes":  outcomes,
		"cost":      result.Cost,
		"cancelled": result.Cancelled,
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func newAuditLogger(cfg *config.Config) audit.Logger {
	if cfg.AuditLogPath != "" {
		return audit.NewStoreLogger(store.NewAuditStore())
	}
	return audit.NewLogger()
}

// newMeter returns a metering.Meter backed by Postgres when
// cfg.MeteringDatabaseURL is set, otherwise nil (metering disabled).
func newMeter(cfg *config.Config) (metering.Meter, string) {
	if cfg.MeteringDatabaseURL == "" {
		return nil, ""
	}
	db, err := sql.Open("postgres", cfg.MeteringDatabaseURL)
	if err != nil {
		return nil, ""
	}
	return metering.NewPostgresMeter(db), "default"
}

// buildRegistry wires the reference connectors available to every runbook:
// a zero-trust-gated local file source, and, when a metering database is
// configured, a regionally-routed SQL query source sharing the same
// connection.
func buildRegistry(cfg *config.Config, logger *slog.Logger) *registry.Registry {
	reg := registry.New()

	gate := connector.NewZeroTrustGate()
	gate.SetPolicy(&connector.TrustPolicy{
		ConnectorID:        "local-file",
		TrustLevel:         connector.TrustLevelFull,
		MaxTTLSeconds:      3600,
		RateLimitPerMinute: 0,
		RequireProvenance:  false,
	})
	reg.RegisterSource("file", connector.NewTrustEnforcingSourceFactory(
		"local-file", "internal", 3600, connector.TrustLevelFull, fileSourceFactory{}, gate,
	))

	if cfg.MeteringDatabaseURL != "" {
		primary, err := connectionConfigFromURL(cfg.MeteringDatabaseURL)
		if err != nil {
			logger.Warn("failed to parse metering database URL for query source", "error", err)
			return reg
		}
		router, err := database.NewMultiRegionRouter(database.MultiRegionConfig{Primary: primary})
		if err != nil {
			logger.Warn("failed to build multi-region router", "error", err)
			return reg
		}
		reg.RegisterSource("db-query", database.NewQuerySourceFactory(router, queryResultSchema))
	}

	return reg
}

// connectionConfigFromURL decomposes a postgres:// DSN into the discrete
// fields MultiRegionConfig.Primary requires.
func connectionConfigFromURL(dsn string) (database.ConnectionConfig, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return database.ConnectionConfig{}, err
	}
	port, _ := strconv.Atoi(u.Port())
	password, _ := u.User.Password()
	return database.ConnectionConfig{
		Host:     u.Hostname(),
		Port:     port,
		Database: strings.TrimPrefix(u.Path, "/"),
		User:     u.User.Username(),
		Password: password,
		SSLMode:  "disable",
		Region:   database.RegionPrimary,
	}, nil
}

// queryResultSchema describes the JSON row-set output of a db-query source.
var queryResultSchema = runbook.Schema{Name: "db_query_result", Version: "1.0.0"}

// fileSourceFactory reads a local file named by the "path" property as a
// runbook artifact, wrapped by a zero-trust gate in buildRegistry.
type fileSourceFactory struct{}

func (fileSourceFactory) Create(properties map[string]any) (component.Source, error) {
	path, ok := properties["path"].(string)
	if !ok || path == "" {
		return nil, fmt.Errorf("file source requires a \"path\" property")
	}
	return fileSource{path: path}, nil
}

func (fileSourceFactory) GetSupportedOutputSchemas() []runbook.Schema {
	return []runbook.Schema{fileSchema}
}

var fileSchema = runbook.Schema{Name: "file_content", Version: "1.0.0"}

type fileSource struct {
	path string
}

func (s fileSource) Extract(ctx context.Context) (*runbook.Message, error) {
	content, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	return &runbook.Message{ID: "file:" + s.path, Content: string(content), Schema: fileSchema}, nil
}
