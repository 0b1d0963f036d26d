package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowstate/flowstate/internal/config"
	"github.com/flowstate/flowstate/internal/connector"
	"github.com/flowstate/flowstate/internal/extract"
	"github.com/flowstate/flowstate/internal/feed"
	"github.com/flowstate/flowstate/internal/httpapi"
	"github.com/flowstate/flowstate/internal/model"
	"github.com/flowstate/flowstate/internal/sched"
	"github.com/flowstate/flowstate/internal/store"
)

var (
	version    = "dev"
	commit     = "none"
	buildDate  = "unknown"
	jsonOutput bool
	configPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "flowstate",
		Short: "Unified ingestion and deadline classification engine",
		Long: `Flowstate polls heterogeneous sources (mail, chat, calendar),
normalizes them into a unified feed, extracts deadlines and
priority, and classifies every item into a time bucket.`,
	}

	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			if jsonOutput {
				printJSON(map[string]string{
					"version": version,
					"commit":  commit,
					"date":    buildDate,
				})
			} else {
				fmt.Printf("flowstate %s (%s, %s)\n", version, commit, buildDate)
			}
		},
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize flowstate config and database",
		Run: func(cmd *cobra.Command, args []string) {
			type Result struct {
				OK        bool   `json:"ok"`
				Message   string `json:"message,omitempty"`
				ConfigDir string `json:"config_dir,omitempty"`
				DataDir   string `json:"data_dir,omitempty"`
				DBPath    string `json:"db_path,omitempty"`
			}

			result := Result{OK: true}

			configDir, err := config.ConfigDir()
			if err != nil {
				fail(Result{OK: false, Message: fmt.Sprintf("Failed to get config directory: %v", err)})
			}
			result.ConfigDir = configDir

			dataDir, err := config.DataDir()
			if err != nil {
				fail(Result{OK: false, Message: fmt.Sprintf("Failed to get data directory: %v", err)})
			}
			result.DataDir = dataDir

			if err := os.MkdirAll(configDir, 0755); err != nil {
				fail(Result{OK: false, Message: fmt.Sprintf("Failed to create config directory: %v", err)})
			}
			if err := os.MkdirAll(dataDir, 0755); err != nil {
				fail(Result{OK: false, Message: fmt.Sprintf("Failed to create data directory: %v", err)})
			}

			cfg, err := loadConfig()
			if err != nil {
				fail(Result{OK: false, Message: fmt.Sprintf("Failed to load config: %v", err)})
			}

			st, err := store.Open(cfg.DBPath)
			if err != nil {
				fail(Result{OK: false, Message: fmt.Sprintf("Failed to initialize database: %v", err)})
			}
			st.Close()
			result.DBPath = cfg.DBPath
			result.Message = "Flowstate initialized successfully"

			if jsonOutput {
				printJSON(result)
			} else {
				fmt.Printf("✓ Config directory: %s\n", result.ConfigDir)
				fmt.Printf("✓ Data directory: %s\n", result.DataDir)
				fmt.Printf("✓ Database: %s\n", result.DBPath)
				fmt.Println("\nFlowstate initialized successfully!")
			}
		},
	}
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync [platform]",
		Short: "Run a one-shot sync for all platforms or a single one",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			type PlatformResult struct {
				Platform string `json:"platform"`
				Items    int    `json:"items"`
			}
			type Result struct {
				OK        bool             `json:"ok"`
				Message   string           `json:"message,omitempty"`
				Platforms []PlatformResult `json:"platforms,omitempty"`
			}

			cfg, err := loadConfig()
			if err != nil {
				fail(Result{OK: false, Message: fmt.Sprintf("Failed to load config: %v", err)})
			}
			setupLogging(cfg)

			st, err := store.Open(cfg.DBPath)
			if err != nil {
				fail(Result{OK: false, Message: fmt.Sprintf("Failed to open database: %v", err)})
			}
			defer st.Close()

			extractor := extract.New(
				extract.NewRuleAdapter(cfg.Location(), cfg.DefaultDeadlineHour),
				extract.Options{
					ConfidenceThreshold: cfg.ConfidenceThreshold,
					UrgentThreshold:     cfg.UrgentThreshold,
					NormalThreshold:     cfg.NormalThreshold,
				},
			)

			connectors := connector.NewFixtureSet(time.Now(), 50)
			if len(args) == 1 {
				platform, err := model.ParsePlatform(args[0])
				if err != nil {
					fail(Result{OK: false, Message: err.Error()})
				}
				connectors = filterConnectors(connectors, platform)
			}

			registry := sched.NewRegistry()
			scheduler := sched.New(st, extractor, registry, cfg, connectors)

			result := Result{OK: true}
			ctx := cmd.Context()
			for _, conn := range connectors {
				before, err := st.CountItems(ctx, conn.Platform())
				if err != nil {
					fail(Result{OK: false, Message: fmt.Sprintf("Failed to count items: %v", err)})
				}
				scheduler.RunOnce(ctx, conn.Platform(), conn)
				after, err := st.CountItems(ctx, conn.Platform())
				if err != nil {
					fail(Result{OK: false, Message: fmt.Sprintf("Failed to count items: %v", err)})
				}
				result.Platforms = append(result.Platforms, PlatformResult{
					Platform: string(conn.Platform()),
					Items:    after - before,
				})
			}
			result.Message = "Sync complete"

			if jsonOutput {
				printJSON(result)
			} else {
				for _, pr := range result.Platforms {
					fmt.Printf("✓ %s: %d new items\n", pr.Platform, pr.Items)
				}
			}
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show per-connector sync status",
		Run: func(cmd *cobra.Command, args []string) {
			type Result struct {
				OK         bool                   `json:"ok"`
				Message    string                 `json:"message,omitempty"`
				Connectors []feed.ConnectorStatus `json:"connectors,omitempty"`
			}

			cfg, err := loadConfig()
			if err != nil {
				fail(Result{OK: false, Message: fmt.Sprintf("Failed to load config: %v", err)})
			}

			st, err := store.Open(cfg.DBPath)
			if err != nil {
				fail(Result{OK: false, Message: fmt.Sprintf("Failed to open database: %v", err)})
			}
			defer st.Close()

			agg := feed.New(st, nil, cfg.Location())
			statuses, err := agg.ConnectorStatuses(cmd.Context())
			if err != nil {
				fail(Result{OK: false, Message: fmt.Sprintf("Failed to read status: %v", err)})
			}

			result := Result{OK: true, Connectors: statuses}
			if jsonOutput {
				printJSON(result)
			} else {
				for _, cs := range statuses {
					last := "never"
					if !cs.LastSyncedAt.IsZero() {
						last = cs.LastSyncedAt.Format(time.RFC3339)
					}
					fmt.Printf("%-10s items=%-5d last_synced=%s\n", cs.Platform, cs.ItemCount, last)
				}
			}
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and local HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			setupLogging(cfg)

			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			extractor := extract.New(
				extract.NewRuleAdapter(cfg.Location(), cfg.DefaultDeadlineHour),
				extract.Options{
					ConfidenceThreshold: cfg.ConfidenceThreshold,
					UrgentThreshold:     cfg.UrgentThreshold,
					NormalThreshold:     cfg.NormalThreshold,
				},
			)

			registry := sched.NewRegistry()
			connectors := connector.NewFixtureSet(time.Now(), 50)
			scheduler := sched.New(st, extractor, registry, cfg, connectors)

			agg := feed.New(st, registry, cfg.Location())
			api := httpapi.New(agg, scheduler)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := scheduler.Start(ctx); err != nil {
				return err
			}
			defer scheduler.Stop()

			// Extraction policy and connector cadence changes take effect
			// without a restart.
			watchPath := configPath
			if watchPath == "" {
				watchPath, _ = config.DefaultPath()
			}
			go func() {
				err := config.Watch(ctx, watchPath, func(next config.Config) {
					extractor.SetOptions(extract.Options{
						ConfidenceThreshold: next.ConfidenceThreshold,
						UrgentThreshold:     next.UrgentThreshold,
						NormalThreshold:     next.NormalThreshold,
					})
					extractor.SetAdapter(extract.NewRuleAdapter(next.Location(), next.DefaultDeadlineHour))
					if err := scheduler.Reload(ctx, next); err != nil {
						slog.Warn("reschedule connectors", "error", err)
					}
				})
				if err != nil && !errors.Is(err, context.Canceled) {
					slog.Warn("config watch stopped", "error", err)
				}
			}()

			srv := &http.Server{Addr: cfg.HTTPAddr, Handler: api}
			errCh := make(chan error, 1)
			go func() {
				slog.Info("http api listening", "addr", cfg.HTTPAddr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				return err
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return config.Config{}, err
		}
	}
	return config.Load(path)
}

func setupLogging(cfg config.Config) {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func filterConnectors(conns []connector.Connector, platform model.Platform) []connector.Connector {
	out := conns[:0]
	for _, conn := range conns {
		if conn.Platform() == platform {
			out = append(out, conn)
		}
	}
	return out
}

func fail(result any) {
	if jsonOutput {
		printJSON(result)
	} else if msg := messageOf(result); msg != "" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}

func messageOf(result any) string {
	data, err := json.Marshal(result)
	if err != nil {
		return ""
	}
	var m struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return ""
	}
	return m.Message
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
