// Command netchunk is the CLI front-end over the storage engine:
// upload, download, list, delete, verify, health, version, help. One
// flag.FlagSet per verb, flag-then-dispatch style, with a consistent
// stderr-progress/stdout-result/exit-code (0/1/2) convention.
// Configuration loading, path expansion, and this CLI are a thin
// boundary — every decision worth remembering lives in internal/config,
// internal/engine, and internal/repair; this file only parses flags and
// prints.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"github.com/quantarax/netchunk/internal/blobstore"
	"github.com/quantarax/netchunk/internal/config"
	"github.com/quantarax/netchunk/internal/engine"
	"github.com/quantarax/netchunk/internal/localdb"
	"github.com/quantarax/netchunk/internal/ncerrors"
	"github.com/quantarax/netchunk/internal/observability"
	"github.com/quantarax/netchunk/internal/repair"
	"github.com/quantarax/netchunk/internal/validation"
)

// version is the build version reported by the `version` verb.
const version = "0.1.0"

// defaultRebalanceMoveCap bounds how many chunk moves one verify-time
// rebalance pass performs, to avoid runaway churn. There is no
// dedicated config key for it, so the CLI picks a conservative default
// rather than adding one.
const defaultRebalanceMoveCap = 64

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		usage()
		return 2
	}

	verb, rest := args[0], args[1:]
	switch verb {
	case "upload":
		return cmdUpload(rest)
	case "download":
		return cmdDownload(rest)
	case "list":
		return cmdList(rest)
	case "delete":
		return cmdDelete(rest)
	case "verify":
		return cmdVerify(rest)
	case "health":
		return cmdHealth(rest)
	case "version":
		fmt.Println("netchunk " + version)
		return 0
	case "help", "-h", "--help":
		usage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "netchunk: unknown verb %q\n\n", verb)
		usage()
		return 2
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: netchunk <verb> [options] [arguments]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Verbs:")
	fmt.Fprintln(os.Stderr, "  upload   <local_path> <remote_name>   store a file, replicated across servers")
	fmt.Fprintln(os.Stderr, "  download <remote_name> <local_path>   reassemble a stored file")
	fmt.Fprintln(os.Stderr, "  list                                  list stored files")
	fmt.Fprintln(os.Stderr, "  delete   <remote_name>                remove a stored file")
	fmt.Fprintln(os.Stderr, "  verify   <remote_name> [--repair]      check, and optionally repair, chunk health")
	fmt.Fprintln(os.Stderr, "  health                                probe configured servers, show recent activity")
	fmt.Fprintln(os.Stderr, "  version                               print the build version")
	fmt.Fprintln(os.Stderr, "  help                                  print this message")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Every verb except version and help accepts -config <path> (default: netchunk.json).")
}

// environment bundles everything one CLI invocation needs, built once
// from the configured file and torn down via its cleanup func.
type environment struct {
	cfg          config.Config
	eng          *engine.Engine
	stores       map[string]blobstore.Store
	repairRunner *repair.Runner
	journal      *localdb.Journal
	cache        *localdb.ManifestCache
}

func buildEnvironment(cfgPath string) (*environment, func(), error) {
	noop := func() {}

	ctx := context.Background()
	shutdownTracing, err := observability.InitTracing(ctx, "netchunk")
	if err != nil {
		return nil, noop, err
	}
	cleanup := func() { shutdownTracing(context.Background()) }
	fail := func(err error) (*environment, func(), error) {
		cleanup()
		return nil, noop, err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fail(err)
	}
	reg, err := cfg.BuildRegistry()
	if err != nil {
		return fail(err)
	}

	stores := make(map[string]blobstore.Store, len(cfg.Servers))
	for _, s := range cfg.Servers {
		base := s.BasePath
		if base == "" {
			base = filepath.Join(os.TempDir(), "netchunk", s.ID)
		}
		st, err := blobstore.NewDirStore(base)
		if err != nil {
			return fail(err)
		}
		stores[s.ID] = st
	}

	eng := engine.New(reg, stores, engine.Config{
		ChunkSize:               cfg.ChunkSize,
		ReplicationFactor:       cfg.ReplicationFactor,
		MinReplicasRequired:     cfg.MinReplicasRequired,
		MaxConcurrentOperations: cfg.MaxConcurrentOperations,
		MaxRetryAttempts:        cfg.MaxRetryAttempts,
		AlwaysVerifyIntegrity:   cfg.AlwaysVerifyIntegrity,
		KeepManifestBackup:      cfg.MaxBackups > 0,
		MaxManifestBackups:      cfg.MaxBackups,
	}, rate.Inf, 64)

	eng.Logger = observability.NewLogger("netchunk", version, os.Stderr)
	eng.Metrics = observability.NewMetrics()

	runner := repair.New(reg, stores)
	eng.Repair = runner

	env := &environment{cfg: cfg, eng: eng, stores: stores, repairRunner: runner}

	if cfg.LocalDBDir != "" {
		if mkErr := os.MkdirAll(cfg.LocalDBDir, 0o755); mkErr == nil {
			if j, jErr := localdb.OpenJournal(filepath.Join(cfg.LocalDBDir, "journal.db")); jErr == nil {
				env.journal = j
				eng.Journal = j
			}
			if c, cErr := localdb.OpenManifestCache(filepath.Join(cfg.LocalDBDir, "cache.db")); cErr == nil {
				env.cache = c
			}
			tracingShutdown := cleanup
			cleanup = func() {
				if env.journal != nil {
					env.journal.Close()
				}
				if env.cache != nil {
					env.cache.Close()
				}
				tracingShutdown()
			}
		}
	}

	return env, cleanup, nil
}

// progressObserver prints phase transitions to stderr, keeping stdout
// reserved for results.
func progressObserver() engine.Observer {
	return func(p engine.Progress) {
		if p.Total > 0 {
			fmt.Fprintf(os.Stderr, "%-20s %d/%d chunks, %d/%d bytes\n", p.Phase, p.Current, p.Total, p.BytesDone, p.BytesTotal)
			return
		}
		fmt.Fprintf(os.Stderr, "%s\n", p.Phase)
	}
}

// fail prints a stable, stack-trace-free description of err and
// returns the exit code for "operation failed".
func fail(err error) int {
	fmt.Fprintf(os.Stderr, "netchunk: %s\n", describeError(err))
	return 1
}

// failUsage is fail's counterpart for problems with how the CLI itself
// was invoked — an unreadable or invalid config file, an unresolvable
// server list — which gets exit code 2, same as a bad flag.
func failUsage(err error) int {
	fmt.Fprintf(os.Stderr, "netchunk: %s\n", describeError(err))
	return 2
}

func describeError(err error) string {
	if ne, ok := err.(*ncerrors.Error); ok {
		return string(ne.Kind) + ": " + ne.Message
	}
	return err.Error()
}

func cmdUpload(args []string) int {
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	cfgPath := fs.String("config", "netchunk.json", "path to the netchunk configuration file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Usage: netchunk upload [options] <local_path> <remote_name>")
		fs.PrintDefaults()
		return 2
	}
	localPath, remoteName := fs.Arg(0), fs.Arg(1)
	if err := validation.ValidateFilePath(localPath, true); err != nil {
		fmt.Fprintf(os.Stderr, "netchunk: local_path: %v\n", err)
		return 2
	}
	if err := validation.ValidateStringNonEmpty(remoteName); err != nil {
		fmt.Fprintf(os.Stderr, "netchunk: remote_name: %v\n", err)
		return 2
	}

	env, cleanup, err := buildEnvironment(*cfgPath)
	if err != nil {
		return failUsage(err)
	}
	defer cleanup()
	env.eng.Observer = progressObserver()

	m, stats, err := env.eng.Upload(context.Background(), localPath, remoteName)
	if err != nil {
		return fail(err)
	}
	if env.cache != nil {
		_ = env.cache.Put(remoteName, m.ManifestID)
	}

	fmt.Printf("uploaded %s as %q: %d chunks, %d bytes, %d degraded, manifests_written=%d, took %s\n",
		localPath, remoteName, stats.TotalChunks, stats.BytesUploaded, stats.ChunksDegraded, stats.ManifestsWritten, stats.Duration.Round(time.Millisecond))
	return 0
}

func cmdDownload(args []string) int {
	fs := flag.NewFlagSet("download", flag.ContinueOnError)
	cfgPath := fs.String("config", "netchunk.json", "path to the netchunk configuration file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Usage: netchunk download [options] <remote_name> <local_path>")
		fs.PrintDefaults()
		return 2
	}
	remoteName, localPath := fs.Arg(0), fs.Arg(1)
	if err := validation.ValidateStringNonEmpty(remoteName); err != nil {
		fmt.Fprintf(os.Stderr, "netchunk: remote_name: %v\n", err)
		return 2
	}

	env, cleanup, err := buildEnvironment(*cfgPath)
	if err != nil {
		return failUsage(err)
	}
	defer cleanup()
	env.eng.Observer = progressObserver()

	stats, err := env.eng.Download(context.Background(), remoteName, localPath)
	if err != nil {
		return fail(err)
	}

	fmt.Printf("downloaded %q to %s: %d chunks, %d bytes, integrity_verified=%v, took %s\n",
		remoteName, localPath, stats.TotalChunks, stats.BytesDownloaded, stats.IntegrityVerified, stats.Duration.Round(time.Millisecond))
	return 0
}

func cmdList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	cfgPath := fs.String("config", "netchunk.json", "path to the netchunk configuration file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	env, cleanup, err := buildEnvironment(*cfgPath)
	if err != nil {
		return failUsage(err)
	}
	defer cleanup()

	manifests, err := env.eng.List(context.Background())
	if err != nil {
		return fail(err)
	}
	if len(manifests) == 0 {
		fmt.Println("no stored files")
		return 0
	}
	for _, m := range manifests {
		fmt.Printf("%-24s %12d bytes  %4d chunks  rf=%d  %s\n", m.RemoteName, m.TotalSize, m.ChunkCount, m.ReplicationFactor, m.OriginalFilename)
	}
	return 0
}

func cmdDelete(args []string) int {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	cfgPath := fs.String("config", "netchunk.json", "path to the netchunk configuration file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: netchunk delete [options] <remote_name>")
		fs.PrintDefaults()
		return 2
	}
	remoteName := fs.Arg(0)

	env, cleanup, err := buildEnvironment(*cfgPath)
	if err != nil {
		return failUsage(err)
	}
	defer cleanup()
	env.eng.Observer = progressObserver()

	if err := env.eng.Delete(context.Background(), remoteName); err != nil {
		return fail(err)
	}
	if env.cache != nil {
		_ = env.cache.Forget(remoteName)
	}

	fmt.Printf("deleted %q\n", remoteName)
	return 0
}

func cmdVerify(args []string) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	cfgPath := fs.String("config", "netchunk.json", "path to the netchunk configuration file")
	repairFlag := fs.Bool("repair", false, "repair degraded/critical/lost chunks after verifying")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: netchunk verify [options] <remote_name>")
		fs.PrintDefaults()
		return 2
	}
	remoteName := fs.Arg(0)
	// Flags may also follow the remote name (verify <remote_name> --repair).
	if err := fs.Parse(fs.Args()[1:]); err != nil {
		return 2
	}

	env, cleanup, err := buildEnvironment(*cfgPath)
	if err != nil {
		return failUsage(err)
	}
	defer cleanup()
	env.eng.Observer = progressObserver()
	env.repairRunner.Progress = func(done, total int) {
		fmt.Fprintf(os.Stderr, "%-20s %d/%d chunks healthy\n", "verify", done, total)
	}

	ctx := context.Background()
	doRepair := *repairFlag || env.cfg.AutoRepairEnabled

	stats, err := env.eng.Verify(ctx, remoteName, doRepair)
	if err != nil {
		return fail(err)
	}

	fmt.Printf("verified %q: %d chunks (healthy=%d degraded=%d critical=%d lost=%d), repaired=%d\n",
		remoteName, stats.ChunksVerified, stats.Healthy, stats.Degraded, stats.Critical, stats.Lost, stats.ChunksRepaired)

	if doRepair && env.cfg.RebalancingEnabled {
		if manifests, lerr := env.eng.List(ctx); lerr == nil {
			for _, m := range manifests {
				if m.RemoteName != remoteName {
					continue
				}
				rs, rerr := env.repairRunner.Rebalance(ctx, m, defaultRebalanceMoveCap)
				if rerr == nil && rs.Moved > 0 {
					fmt.Printf("rebalanced %q: moved %d replicas\n", remoteName, rs.Moved)
				}
				break
			}
		}
	}

	if stats.Lost > 0 {
		return 1
	}
	return 0
}

func cmdHealth(args []string) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	cfgPath := fs.String("config", "netchunk.json", "path to the netchunk configuration file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	env, cleanup, err := buildEnvironment(*cfgPath)
	if err != nil {
		return failUsage(err)
	}
	defer cleanup()

	ctx := context.Background()
	checker := observability.NewHealthChecker(version)
	for _, desc := range env.eng.Registry.List() {
		store, ok := env.stores[desc.ID]
		if !ok {
			checker.RegisterCheck(desc.ID, func(ctx context.Context) observability.ComponentHealth {
				return observability.ComponentHealth{Status: observability.HealthStatusUnhealthy, Message: "no BlobStore configured"}
			})
			continue
		}
		checker.RegisterCheck(desc.ID, observability.BlobStoreCheck(desc.ID, store))
	}
	if env.cache != nil {
		checker.RegisterCheck("manifest_cache", observability.ManifestCacheCheck(func(ctx context.Context) error {
			return env.cache.Ping(ctx)
		}))
	}
	if env.journal != nil {
		checker.RegisterCheck("journal", observability.JournalCheck(env.journal.Ping))
	}

	report := checker.Check(ctx)
	for _, desc := range env.eng.Registry.List() {
		health := report.Checks[desc.ID]
		var probeErr error
		if health.Status != observability.HealthStatusOK {
			probeErr = ncerrors.New(ncerrors.Transport, health.Message)
		}
		env.eng.Registry.SetHealth(desc.ID, probeErr == nil, probeErr)
		fmt.Printf("%-16s priority=%-4d %s (%s)\n", desc.ID, desc.Priority, health.Status, health.Message)
	}
	for _, name := range []string{"manifest_cache", "journal"} {
		if health, ok := report.Checks[name]; ok {
			fmt.Printf("%-16s %s (%s)\n", name, health.Status, health.Message)
		}
	}

	if env.journal != nil {
		if entries, jerr := env.journal.Recent(ctx, 10); jerr == nil && len(entries) > 0 {
			fmt.Println("recent activity:")
			for _, e := range entries {
				outcome := "ok"
				if !e.Success {
					outcome = "failed"
				}
				fmt.Printf("  %s  %-8s %-24s %-6s %s\n", e.RecordedAt.Format(time.RFC3339), e.Verb, e.RemoteName, outcome, e.Duration.Round(time.Millisecond))
			}
		}
	}

	if report.Status != observability.HealthStatusOK {
		return 1
	}
	return 0
}
