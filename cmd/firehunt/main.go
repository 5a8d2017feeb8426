package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/firehunt/internal/api"
	"github.com/good-yellow-bee/firehunt/internal/backend"
	"github.com/good-yellow-bee/firehunt/internal/hunt"
	"github.com/good-yellow-bee/firehunt/internal/manager"
	"github.com/good-yellow-bee/firehunt/internal/models"
	"github.com/good-yellow-bee/firehunt/internal/persist"
	"github.com/good-yellow-bee/firehunt/internal/sink"
	"github.com/good-yellow-bee/firehunt/pkg/config"
)

var (
	configFile string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "firehunt",
	Short: "FireHunt - scheduled threat hunting service",
	Long: `FireHunt periodically executes hunt queries against security data
stores and turns matching events into analysis submissions.`,
	RunE: runService,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("firehunt %s\n", config.Version)
		fmt.Printf("  commit: %s\n", config.Commit)
		fmt.Printf("  built:  %s\n", config.BuildTime)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the hunts each configured category would load",
	RunE:  runList,
}

var validateCmd = &cobra.Command{
	Use:   "validate [file ...]",
	Short: "Validate hunt definition files without executing anything",
	Long: `Validate loads the given definition files, or every definition file of
every configured category when none are given, and reports errors.`,
	RunE: runValidate,
}

var (
	executeCategory string
	executeStart    string
	executeEnd      string
)

var executeCmd = &cobra.Command{
	Use:   "execute <hunt name>",
	Short: "Execute one hunt manually and print its submissions",
	Long: `Execute runs a single hunt outside the scheduler. Manual executions do
not advance the hunt's persisted state, so the next scheduled run is
unaffected. --start and --end override the computed time window.`,
	Args: cobra.ExactArgs(1),
	RunE: runExecute,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/firehunt/config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	executeCmd.Flags().StringVar(&executeCategory, "category", "", "category the hunt belongs to (required)")
	executeCmd.Flags().StringVar(&executeStart, "start", "", "window start (RFC 3339), overrides the computed window")
	executeCmd.Flags().StringVar(&executeEnd, "end", "", "window end (RFC 3339), overrides the computed window")
	executeCmd.MarkFlagRequired("category")

	rootCmd.AddCommand(versionCmd, listCmd, validateCmd, executeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openBackends opens every configured backend and returns them by
// name. The caller closes them.
func openBackends(cfg *Config) (map[string]*backend.ClickHouseExecutor, error) {
	backends := map[string]*backend.ClickHouseExecutor{}
	for name, bc := range cfg.Backends {
		ex := backend.NewClickHouseExecutor(bc)
		if err := ex.Open(); err != nil {
			for _, open := range backends {
				open.Close()
			}
			return nil, fmt.Errorf("open backend %s: %w", name, err)
		}
		backends[name] = ex
	}
	return backends, nil
}

func buildManagers(cfg *Config, store *persist.Store, backends map[string]*backend.ClickHouseExecutor, q *sink.Queue) ([]*manager.Manager, error) {
	var managers []*manager.Manager
	for _, cat := range cfg.Categories {
		update, _ := cat.UpdateIntervalDuration()
		tick, _ := cat.TickDuration()
		m, err := manager.New(manager.Config{
			Category:         cat.Name,
			Kind:             cat.Kind,
			RuleDirs:         cat.RuleDirs,
			InstanceType:     cfg.InstanceType,
			ConcurrencyLimit: cat.ConcurrencyLimit,
			CoordinatorAddr:  cfg.SemaphoreAddress,
			UpdateInterval:   update,
			Tick:             tick,
		}, store, backends[cat.Backend], q)
		if err != nil {
			return nil, err
		}
		managers = append(managers, m)
	}
	return managers, nil
}

func runService(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return err
	}
	cfg.Verbose = verbose

	if err := os.MkdirAll(cfg.PersistenceDir, 0o750); err != nil {
		return fmt.Errorf("create persistence directory: %w", err)
	}
	store := persist.NewStore(cfg.PersistenceDir)

	backends, err := openBackends(cfg)
	if err != nil {
		return err
	}
	defer func() {
		for _, be := range backends {
			be.Close()
		}
	}()

	queue := sink.NewQueue(cfg.QueueSize)

	var forwarder sink.Forwarder
	if cfg.NATS.URL != "" {
		forwarder, err = sink.NewNATSForwarder(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			return err
		}
	} else {
		log.Printf("no NATS url configured, submissions will not be forwarded")
	}

	managers, err := buildManagers(cfg, store, backends, queue)
	if err != nil {
		return err
	}
	svc := manager.NewService(managers, queue, forwarder)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Printf("starting firehunt %s as instance type %q", config.Version, cfg.InstanceType)
	if err := svc.Start(ctx); err != nil {
		return err
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(api.Config{Address: cfg.API.Address}, svc)
		go func() {
			if err := apiServer.Start(); err != nil {
				log.Printf("%v", err)
			}
		}()
	}

	sig := <-sigChan
	log.Printf("received signal %v, shutting down...", sig)

	if apiServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("api shutdown: %v", err)
		}
		shutdownCancel()
	}
	svc.Stop()
	log.Printf("service stopped")
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return err
	}
	store := persist.NewStore(cfg.PersistenceDir)

	for _, cat := range cfg.Categories {
		paths, err := hunt.Scan(cat.RuleDirs)
		if err != nil {
			return fmt.Errorf("category %s: %w", cat.Name, err)
		}
		factory, err := hunt.Lookup(kindOrQuery(cat.Kind))
		if err != nil {
			return err
		}
		env := &hunt.Env{Category: cat.Name, InstanceType: cfg.InstanceType, Store: store}

		fmt.Printf("%s (%d files):\n", cat.Name, len(paths))
		var names []string
		for _, path := range paths {
			h := factory(env)
			if err := h.Load(path); err != nil {
				fmt.Printf("  ! %s: %v\n", path, err)
				continue
			}
			if h.Base().Category() != cat.Name {
				fmt.Printf("  - %s (skipped: category %s)\n", h.Base().Name(), h.Base().Category())
				continue
			}
			names = append(names, h.Base().Name())
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("  - %s\n", name)
		}
	}
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return err
	}
	store := persist.NewStore(cfg.PersistenceDir)

	type target struct {
		category CategoryConfig
		paths    []string
	}
	var targets []target
	if len(args) > 0 {
		if len(cfg.Categories) == 0 {
			return fmt.Errorf("no categories configured")
		}
		// Explicit files are validated against the first category's
		// hunt kind; category membership is still reported.
		targets = append(targets, target{category: cfg.Categories[0], paths: args})
	} else {
		for _, cat := range cfg.Categories {
			paths, err := hunt.Scan(cat.RuleDirs)
			if err != nil {
				return fmt.Errorf("category %s: %w", cat.Name, err)
			}
			targets = append(targets, target{category: cat, paths: paths})
		}
	}

	failures := 0
	for _, tgt := range targets {
		factory, err := hunt.Lookup(kindOrQuery(tgt.category.Kind))
		if err != nil {
			return err
		}
		env := &hunt.Env{Category: tgt.category.Name, InstanceType: cfg.InstanceType, Store: store}
		for _, path := range tgt.paths {
			h := factory(env)
			if err := h.Load(path); err != nil {
				fmt.Printf("FAIL %s: %v\n", path, err)
				failures++
				continue
			}
			fmt.Printf("ok   %s (%s)\n", path, h.Base().Name())
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d definition files failed validation", failures)
	}
	return nil
}

func runExecute(cmd *cobra.Command, args []string) error {
	huntName := args[0]

	cfg, err := LoadConfig(configFile)
	if err != nil {
		return err
	}

	var cat *CategoryConfig
	for i := range cfg.Categories {
		if cfg.Categories[i].Name == executeCategory {
			cat = &cfg.Categories[i]
			break
		}
	}
	if cat == nil {
		return fmt.Errorf("unknown category %q", executeCategory)
	}

	var window struct {
		set        bool
		start, end time.Time
	}
	if executeStart != "" || executeEnd != "" {
		if executeStart == "" || executeEnd == "" {
			return fmt.Errorf("--start and --end must be given together")
		}
		start, err := time.Parse(time.RFC3339, executeStart)
		if err != nil {
			return fmt.Errorf("parse --start: %w", err)
		}
		end, err := time.Parse(time.RFC3339, executeEnd)
		if err != nil {
			return fmt.Errorf("parse --end: %w", err)
		}
		if !end.After(start) {
			return fmt.Errorf("--end must be after --start")
		}
		window.set, window.start, window.end = true, start, end
	}

	bc, ok := cfg.Backends[cat.Backend]
	if !ok {
		return fmt.Errorf("category %s: unknown backend %q", cat.Name, cat.Backend)
	}
	be := backend.NewClickHouseExecutor(bc)
	if err := be.Open(); err != nil {
		return fmt.Errorf("open backend %s: %w", cat.Backend, err)
	}
	defer be.Close()

	store := persist.NewStore(cfg.PersistenceDir)
	factory, err := hunt.Lookup(kindOrQuery(cat.Kind))
	if err != nil {
		return err
	}
	env := &hunt.Env{Category: cat.Name, InstanceType: cfg.InstanceType, Store: store, Backend: be}

	paths, err := hunt.Scan(cat.RuleDirs)
	if err != nil {
		return err
	}
	var target hunt.Hunter
	for _, path := range paths {
		h := factory(env)
		if err := h.Load(path); err != nil {
			continue
		}
		if h.Base().Name() == huntName {
			target = h
			break
		}
	}
	if target == nil {
		return fmt.Errorf("hunt %q not found in category %s", huntName, cat.Name)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var subs []*models.Submission
	if window.set {
		qh, ok := target.(*hunt.QueryHunt)
		if !ok {
			return fmt.Errorf("hunt %q does not support explicit time windows", huntName)
		}
		subs, err = qh.ExecuteWindow(ctx, true, window.start, window.end)
	} else {
		subs, err = hunt.ExecuteWithLock(ctx, target, true, nil)
	}
	if err != nil {
		return fmt.Errorf("execute %s: %w", huntName, err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, sub := range subs {
		if err := enc.Encode(sub); err != nil {
			return err
		}
	}
	log.Printf("%s produced %d submissions", huntName, len(subs))
	return nil
}

func kindOrQuery(kind string) string {
	if kind == "" {
		return "query"
	}
	return kind
}
