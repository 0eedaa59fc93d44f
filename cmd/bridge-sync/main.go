// Package main implements the bridge-sync command line interface: the sync
// and status subcommands that drive the Runner against the mappings
// configured under a .bridge root.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/datasnap-cloud/bridge/internal/controlplane"
	"github.com/datasnap-cloud/bridge/internal/extract/logfile"
	"github.com/datasnap-cloud/bridge/internal/logging"
	"github.com/datasnap-cloud/bridge/internal/mapping"
	"github.com/datasnap-cloud/bridge/internal/metrics"
	"github.com/datasnap-cloud/bridge/internal/reportstore"
	"github.com/datasnap-cloud/bridge/internal/runner"
	"github.com/datasnap-cloud/bridge/internal/statestore"
	"github.com/datasnap-cloud/bridge/internal/uploader"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: bridge-sync <sync|status> [flags]")
		return 3
	}

	switch args[0] {
	case "sync":
		return runSync(args[1:])
	case "status":
		return runStatus(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", args[0])
		return 3
	}
}

// mappingIDList collects repeated --mapping flags into an ordered slice.
type mappingIDList []string

func (l *mappingIDList) String() string { return strings.Join(*l, ",") }
func (l *mappingIDList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func runSync(args []string) int {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)

	all := fs.Bool("all", false, "run every configured mapping")
	var only mappingIDList
	fs.Var(&only, "mapping", "run only this mapping id (repeatable)")
	dryRun := fs.Bool("dry-run", false, "produce artifacts but never upload or advance watermarks")
	force := fs.Bool("force", false, "reset watermark and last_error before running")
	sequential := fs.Bool("sequential", false, "run mappings one at a time")
	parallel := fs.Bool("parallel", false, "run mappings concurrently (default)")
	workers := fs.Int("workers", 0, "worker pool size (0 = default, capped at 8)")
	batchSize := fs.Int("batch-size", 0, "override batch_size for every mapping (0 = use mapping default)")
	status := fs.Bool("status", false, "print the resulting RunState for each mapping after the run")
	report := fs.String("report", "", "optional s3://bucket/key destination for the run summary")

	if err := fs.Parse(args); err != nil {
		return 3
	}

	cfg, err := loadRuntimeConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 3
	}

	mappings, err := mapping.LoadDir(cfg.mappingsDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 3
	}

	if !*all && len(only) == 0 {
		fmt.Fprintln(os.Stderr, "configuration error: one of --all or --mapping is required")
		return 3
	}
	if *sequential && *parallel {
		fmt.Fprintln(os.Stderr, "configuration error: --sequential and --parallel are mutually exclusive")
		return 3
	}

	if *batchSize > 0 {
		for i := range mappings {
			mappings[i].Transfer.BatchSize = *batchSize
		}
	}

	onlySet := map[string]bool{}
	for _, id := range only {
		onlySet[id] = true
	}

	parallelism := *workers
	if *sequential {
		parallelism = 1
	}

	logFile, err := logging.OpenLogFile(cfg.logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: failed to open log file: %v\n", err)
		return 3
	}
	defer logFile.Close()
	logger := logging.New(logFile, logging.ParseLevel(cfg.logLevel))

	store, err := statestore.NewFileStore(cfg.statePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: failed to open state store: %v\n", err)
		return 3
	}

	secrets := envSecretResolver{}
	met := metrics.New()
	client := controlplane.New(cfg.controlPlaneURL, cfg.apiKey)
	if cfg.httpTimeoutSeconds > 0 {
		timeout := time.Duration(cfg.httpTimeoutSeconds) * time.Second
		client.TokenTimeout = timeout
		client.NotifyTimeout = timeout
	}
	up := uploader.New(client, met)

	r := runner.New(store, secrets, up, logger)

	if err := os.RemoveAll(cfg.scratchDir); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: failed to clear scratch directory: %v\n", err)
		return 3
	}
	if err := os.MkdirAll(cfg.scratchDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: failed to create scratch directory: %v\n", err)
		return 3
	}

	opts := runner.Options{
		DryRun:      *dryRun || cfg.forceDryRun,
		Force:       *force,
		Parallelism: parallelism,
		Only:        onlySet,
		ScratchDir:  cfg.scratchDir,
		RunID:       nextRunID(),
	}

	result := r.Run(context.Background(), mappings, opts, logfile.New())

	printReport(result)
	if *status {
		printStatus(context.Background(), store, mappings)
	}

	if *report != "" {
		if err := uploadReport(context.Background(), *report, opts.RunID, result); err != nil {
			fmt.Fprintf(os.Stderr, "failed to upload run report: %v\n", err)
		}
	}

	return result.ExitCode()
}

func uploadReport(ctx context.Context, uri string, runID int64, result runner.RunReport) error {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}
	up, err := reportstore.NewUploader(s3.NewFromConfig(awsCfg), uri)
	if err != nil {
		return err
	}
	return up.Upload(ctx, runID, result)
}

func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return 3
	}

	cfg, err := loadRuntimeConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 3
	}

	mappings, err := mapping.LoadDir(cfg.mappingsDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 3
	}

	store, err := statestore.NewFileStore(cfg.statePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: failed to open state store: %v\n", err)
		return 3
	}

	printStatus(context.Background(), store, mappings)
	return 0
}

func printReport(report runner.RunReport) {
	ids := make([]string, 0, len(report))
	for id := range report {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		o := report[id]
		switch o.Status {
		case runner.Succeeded:
			fmt.Printf("%s: ok (%d records, %d batches, %s)\n", id, o.Records, o.Batches, o.Duration)
		case runner.Skipped:
			fmt.Printf("%s: skipped (%s)\n", id, o.SkipReason)
		case runner.Failed:
			fmt.Printf("%s: failed: %s: %s\n", id, o.ErrorKind, o.Message)
		}
	}
}

func printStatus(ctx context.Context, store statestore.Store, mappings []mapping.Mapping) {
	for _, m := range mappings {
		st, err := store.Load(ctx, m.ID)
		if err != nil {
			fmt.Printf("%s: failed to load state: %v\n", m.ID, err)
			continue
		}
		fmt.Printf("%s: watermark=%q last_success=%s last_error=%q uploaded_total=%d\n",
			m.ID, st.Watermark, st.LastSuccessAt.Format("2006-01-02T15:04:05Z"), st.LastError, st.RecordsUploadedTotal)
	}
}

// envSecretResolver resolves secret_ref as the name of an environment
// variable holding the plaintext credential. Encrypted local credential
// storage is out of scope for the core; operators wire secret_ref to
// whatever injects their environment (systemd EnvironmentFile, a secrets
// manager sidecar, etc).
type envSecretResolver struct{}

func (envSecretResolver) Resolve(ctx context.Context, secretRef string) (string, error) {
	v, ok := os.LookupEnv(secretRef)
	if !ok {
		return "", fmt.Errorf("secret_ref %q is not set in the environment", secretRef)
	}
	return v, nil
}

type runtimeConfig struct {
	root            string
	mappingsDir     string
	statePath       string
	logPath         string
	scratchDir      string
	logLevel        string
	controlPlaneURL string
	apiKey          string

	httpTimeoutSeconds int
	forceDryRun        bool
}

// loadRuntimeConfig reads the ambient configuration: the .bridge root
// (overridable via BRIDGE_CONFIG_DIR) and the environment variables the
// core recognizes directly.
func loadRuntimeConfig() (runtimeConfig, error) {
	root := os.Getenv("BRIDGE_CONFIG_DIR")
	if root == "" {
		root = ".bridge"
	}

	cfg := runtimeConfig{
		root:            root,
		mappingsDir:     filepath.Join(root, "config", "mappings"),
		statePath:       filepath.Join(root, "state", "sync_state.json"),
		logPath:         filepath.Join(root, "logs", "sync.log"),
		scratchDir:      filepath.Join(root, "scratch"),
		logLevel:        os.Getenv("BRIDGE_LOG_LEVEL"),
		controlPlaneURL: os.Getenv("BRIDGE_CONTROL_PLANE_URL"),
		apiKey:          os.Getenv("BRIDGE_API_KEY"),
	}

	if v := os.Getenv("BRIDGE_HTTP_TIMEOUT"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return runtimeConfig{}, fmt.Errorf("invalid BRIDGE_HTTP_TIMEOUT %q: %w", v, err)
		}
		cfg.httpTimeoutSeconds = secs
	}

	if v := os.Getenv("BRIDGE_DRY_RUN"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return runtimeConfig{}, fmt.Errorf("invalid BRIDGE_DRY_RUN %q: %w", v, err)
		}
		cfg.forceDryRun = b
	}

	if cfg.controlPlaneURL == "" {
		return runtimeConfig{}, fmt.Errorf("BRIDGE_CONTROL_PLANE_URL is required")
	}
	if cfg.apiKey == "" {
		return runtimeConfig{}, fmt.Errorf("BRIDGE_API_KEY is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.logPath), 0755); err != nil {
		return runtimeConfig{}, fmt.Errorf("failed to create log directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.statePath), 0755); err != nil {
		return runtimeConfig{}, fmt.Errorf("failed to create state directory: %w", err)
	}

	return cfg, nil
}

// nextRunID assigns a run id unique enough to namespace scratch artifacts
// across invocations without a coordination service.
func nextRunID() int64 {
	return time.Now().UnixNano()
}
