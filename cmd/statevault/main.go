package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"statevault/internal/cache"
	"statevault/internal/logging"
	"statevault/internal/persistence"
	"statevault/internal/snapshot"
	"statevault/pkg/config"
)

var (
	configPath = flag.String("config", "configs/statevault.yaml", "Path to configuration file")
	instanceID = flag.String("instance-id", "", "Unique store instance identifier")
	dataDir    = flag.String("data-dir", "", "Override the data directory")
	serve      = flag.Bool("serve", false, "Keep running with auto snapshots until interrupted")
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: statevault [flags] <command> [args]

Commands:
  set <key> <value>          Store a value
  get <key>                  Fetch a value
  delete <key>               Remove a key
  keys                       List stored keys
  save                       Persist the current state to disk
  load                       Reload state from disk
  snapshot [description]     Create a full snapshot
  delta-snapshot [base]      Create a delta snapshot against base (or latest)
  restore <version|tag>      Restore a snapshot
  list                       List stored snapshots
  compare <v1> <v2>          Diff two snapshots
  tag <version> <tag>        Tag a snapshot
  export <file>              Export the store to a file
  import <file>              Import a store archive
  metrics                    Print engine metrics

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Early error before logging is initialized
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Override with command line flags
	if *instanceID != "" {
		cfg.Instance.ID = *instanceID
	}
	if *dataDir != "" {
		cfg.Instance.DataDir = *dataDir
	}

	logger, err := logging.InitializeFromConfig(cfg.Instance.ID, logging.LogConfig{
		Level:         cfg.Logging.Level,
		EnableConsole: cfg.Logging.EnableConsole,
		EnableFile:    cfg.Logging.EnableFile,
		LogFile:       cfg.Logging.LogFile,
		BufferSize:    cfg.Logging.BufferSize,
		LogDir:        cfg.Logging.LogDir,
		MaxFileSize:   cfg.Logging.MaxFileSize,
		MaxFiles:      cfg.Logging.MaxFiles,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	correlationID := logging.NewCorrelationID()
	ctx := logging.WithCorrelationID(context.Background(), correlationID)

	logging.Info(ctx, logging.ComponentMain, logging.ActionStart, "StateVault starting", map[string]interface{}{
		"instance_id": cfg.Instance.ID,
		"config_file": *configPath,
		"data_dir":    cfg.Instance.DataDir,
	})

	engine, err := persistence.NewEngine(engineConfig(cfg))
	if err != nil {
		logging.Fatal(ctx, logging.ComponentMain, logging.ActionStart, "Failed to create persistence engine", err)
		os.Exit(1)
	}

	if err := engine.Start(ctx); err != nil {
		logging.Fatal(ctx, logging.ComponentMain, logging.ActionStart, "Failed to start persistence engine", err)
		os.Exit(1)
	}
	defer engine.Stop()

	if _, err := engine.Load(); err != nil {
		logging.Fatal(ctx, logging.ComponentMain, logging.ActionRestore, "Failed to load persisted state", err)
		os.Exit(1)
	}

	if *serve {
		runServe(ctx, cfg, engine)
		return
	}

	if err := runCommand(engine, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		engine.Stop()
		logger.Close()
		os.Exit(1)
	}
}

// engineConfig maps the file configuration onto the engine composition.
func engineConfig(cfg *config.Config) persistence.Config {
	return persistence.Config{
		BasePath:   cfg.Instance.DataDir,
		InstanceID: cfg.Instance.ID,
		ThreadSafe: cfg.Instance.ThreadSafe,

		CacheStrategy: cfg.Cache.Strategy,
		CacheConfig: cache.Config{
			Name:            "store",
			MaxEntries:      cfg.Cache.MaxEntries,
			MaxMemory:       cfg.Cache.MaxMemory,
			DefaultTTL:      cfg.Cache.DefaultTTL,
			EvictionPolicy:  cfg.Cache.EvictionPolicy,
			CleanupInterval: cfg.Cache.CleanupInterval,
		},
		OverflowConfig: cache.Config{
			Name:           "overflow",
			MaxEntries:     cfg.Cache.OverflowMaxEntries,
			MaxMemory:      cfg.Cache.OverflowMaxMemory,
			EvictionPolicy: cfg.Cache.EvictionPolicy,
		},
		PromoteOnAccess: cfg.Cache.PromoteOnAccess,
		EnableFilter:    cfg.Cache.EnableFilter,
		PersistInterval: cfg.Cache.PersistInterval,

		DeltaTracking:  cfg.Delta.Enabled,
		Compression:    cfg.Delta.Compression,
		MaxChainLength: cfg.Delta.MaxChainLength,
		AutoOptimize:   cfg.Delta.AutoOptimize,

		MaxSnapshots:         cfg.Snapshot.MaxSnapshots,
		AutoSnapshotInterval: cfg.Snapshot.AutoInterval,
		AutoSnapshotDelta:    cfg.Snapshot.AutoDelta,

		JournalEnabled:      cfg.Journal.Enabled,
		JournalSyncPolicy:   cfg.Journal.SyncPolicy,
		JournalSyncInterval: cfg.Journal.SyncInterval,
	}
}

// runServe keeps the engine running so auto snapshots and the journal
// stay active, until an interrupt arrives.
func runServe(ctx context.Context, cfg *config.Config, engine *persistence.Engine) {
	fmt.Printf("StateVault instance %s serving (data: %s)\n", cfg.Instance.ID, cfg.Instance.DataDir)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	fmt.Printf("\nShutting down StateVault instance: %s\n", cfg.Instance.ID)
	if engine.HasChangesSinceLastSnapshot() {
		if _, err := engine.CreateSnapshot(snapshot.Options{Description: "shutdown snapshot"}); err != nil {
			logging.Error(ctx, logging.ComponentMain, logging.ActionSnapshot, "Shutdown snapshot failed", err)
		}
	}
	fmt.Println("Shutdown complete")
}

func runCommand(engine *persistence.Engine, args []string) error {
	if len(args) == 0 {
		usage()
		return fmt.Errorf("no command given")
	}

	switch args[0] {
	case "set":
		if len(args) != 3 {
			return fmt.Errorf("usage: set <key> <value>")
		}
		if err := engine.Set(args[1], parseValue(args[2])); err != nil {
			return err
		}
		if _, err := engine.Save(engine.State()); err != nil {
			return err
		}
		fmt.Println("OK")

	case "get":
		if len(args) != 2 {
			return fmt.Errorf("usage: get <key>")
		}
		value, ok := engine.Get(args[1])
		if !ok {
			return fmt.Errorf("key not found: %s", args[1])
		}
		printValue(value)

	case "delete":
		if len(args) != 2 {
			return fmt.Errorf("usage: delete <key>")
		}
		if !engine.Delete(args[1]) {
			return fmt.Errorf("key not found: %s", args[1])
		}
		if _, err := engine.Save(engine.State()); err != nil {
			return err
		}
		fmt.Println("OK")

	case "keys":
		state := engine.State()
		for key := range state {
			fmt.Println(key)
		}

	case "save":
		opID, err := engine.Save(engine.State())
		if err != nil {
			return err
		}
		fmt.Printf("Saved (operation %s)\n", opID)

	case "load":
		state, err := engine.Load()
		if err != nil {
			return err
		}
		fmt.Printf("Loaded %d keys\n", len(state))

	case "snapshot":
		opts := snapshot.Options{}
		if len(args) > 1 {
			opts.Description = strings.Join(args[1:], " ")
		}
		version, err := engine.CreateSnapshot(opts)
		if err != nil {
			return err
		}
		fmt.Printf("Created snapshot %s\n", version)

	case "delta-snapshot":
		base := ""
		if len(args) > 1 {
			base = args[1]
		}
		version, err := engine.CreateDeltaSnapshot(base, snapshot.Options{})
		if err != nil {
			return err
		}
		fmt.Printf("Created delta snapshot %s\n", version)

	case "restore":
		if len(args) != 2 {
			return fmt.Errorf("usage: restore <version|tag>")
		}
		if err := engine.RestoreSnapshot(args[1]); err != nil {
			// Fall back to tag lookup when no version matches.
			if tagErr := engine.RestoreSnapshotByTag(args[1]); tagErr != nil {
				return err
			}
		}
		fmt.Println("Restored")

	case "list":
		for _, meta := range engine.ListSnapshots() {
			line := fmt.Sprintf("%s  %s  %s", meta.Version, meta.Kind, meta.CreatedAt.Format("2006-01-02 15:04:05"))
			if len(meta.Tags) > 0 {
				line += "  [" + strings.Join(meta.Tags, ",") + "]"
			}
			if meta.Description != "" {
				line += "  " + meta.Description
			}
			fmt.Println(line)
		}

	case "compare":
		if len(args) != 3 {
			return fmt.Errorf("usage: compare <v1> <v2>")
		}
		diff, err := engine.CompareSnapshots(args[1], args[2])
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(diff, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))

	case "tag":
		if len(args) != 3 {
			return fmt.Errorf("usage: tag <version> <tag>")
		}
		if err := engine.Snapshots().TagSnapshot(args[1], args[2]); err != nil {
			return err
		}
		fmt.Println("OK")

	case "export":
		if len(args) != 2 {
			return fmt.Errorf("usage: export <file>")
		}
		if err := engine.ExportData(args[1]); err != nil {
			return err
		}
		fmt.Printf("Exported to %s\n", args[1])

	case "import":
		if len(args) != 2 {
			return fmt.Errorf("usage: import <file>")
		}
		if err := engine.ImportData(args[1]); err != nil {
			return err
		}
		if _, err := engine.Save(engine.State()); err != nil {
			return err
		}
		fmt.Printf("Imported from %s\n", args[1])

	case "metrics":
		out, err := json.MarshalIndent(engine.Metrics(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))

	default:
		usage()
		return fmt.Errorf("unknown command: %s", args[0])
	}
	return nil
}

// parseValue keeps CLI input typed: JSON literals become their decoded
// value, anything else stays a string.
func parseValue(raw string) interface{} {
	var value interface{}
	if err := json.Unmarshal([]byte(raw), &value); err == nil {
		return value
	}
	return raw
}

func printValue(value interface{}) {
	switch v := value.(type) {
	case string:
		fmt.Println(v)
	default:
		out, err := json.Marshal(value)
		if err != nil {
			fmt.Printf("%v\n", value)
			return
		}
		fmt.Println(string(out))
	}
}
