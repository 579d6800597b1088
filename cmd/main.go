package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"

	"github.com/lumik/renloc/internal/cache"
	"github.com/lumik/renloc/internal/config"
	"github.com/lumik/renloc/internal/extract"
	"github.com/lumik/renloc/internal/service"
	"github.com/lumik/renloc/pkg/log"
)

var (
	flagProject    string
	flagTLName     string
	flagTargetLang string
	flagProvider   string
	flagBatchSize  int
	flagConcurrent int
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "renloc",
		Short: "Batch translator for Ren'Py translation files",
		Long: `renloc translates the pending lines of a Ren'Py project's tl/ directory
through an LLM backend, with a resumable cache, glossary protection and a
patch artifact for review.

Configuration comes from environment variables (see .env support), an
optional renloc.toml, and the flags below.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flagProject, "project", "", "Project root directory (default: RENLOC_PROJECT_DIR or .)")
	root.PersistentFlags().StringVar(&flagTLName, "tl", "", "Translation directory name under game/tl/")
	root.PersistentFlags().StringVar(&flagTargetLang, "target", "", "Target language (BCP 47)")
	root.PersistentFlags().StringVar(&flagProvider, "provider", "", "Backend provider: chat or openai")
	root.PersistentFlags().IntVar(&flagBatchSize, "batch-size", 0, "Lines per backend request")
	root.PersistentFlags().IntVar(&flagConcurrent, "concurrency", 0, "Concurrent backend requests")

	root.AddCommand(newRunCmd(), newWatchCmd(), newStatusCmd(), newRetryCmd())
	return root
}

func loadConfig() (*config.Config, error) {
	return config.NewFromEnv(func(c *config.Config) {
		if flagProject != "" {
			c.Project.Dir = flagProject
			c.Project.CachePath = flagProject + "/.renloc/cache.db"
			if c.Project.GlossaryDir == "" || c.Project.GlossaryDir == "." {
				c.Project.GlossaryDir = flagProject
			}
		}
		if flagTLName != "" {
			c.Project.TLName = flagTLName
		}
		if flagTargetLang != "" {
			if tag, err := language.Parse(flagTargetLang); err == nil {
				c.Translate.TargetLanguage = tag
			}
		}
		if flagProvider != "" {
			c.Backend.Provider = flagProvider
		}
		if flagBatchSize > 0 {
			c.Translate.BatchSize = flagBatchSize
		}
		if flagConcurrent > 0 {
			c.Translate.Concurrency = flagConcurrent
		}
	})
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Translate all pending lines once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			runner, err := service.NewRunner(*cfg)
			if err != nil {
				return err
			}
			defer runner.Close()

			result, err := runner.Run(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("run %s: %d unit(s), %d merged, %d from cache, %d failed, %d skipped\n",
				result.RunID, result.Units, result.Merged, result.FromCache, result.Failed, result.Skipped)
			if result.StaleEntries > 0 {
				fmt.Printf("%d stale translation(s) kept for review in %s\n", result.StaleEntries, result.PatchPath)
			}
			for _, p := range result.Problems {
				fmt.Printf("  %-7s %s (%s): %s\n", p.Status, p.File, p.Label, p.Cause)
			}
			return nil
		},
	}
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Re-translate on a cron schedule until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			c := cron.New()
			watcher := service.NewWatchService(*cfg, c)
			if err := watcher.Schedule(cmd.Context()); err != nil {
				return err
			}
			c.Start()
			defer c.Stop()

			<-cmd.Context().Done()
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show cache statistics for the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			store, err := cache.NewStore(cfg.Project.CachePath)
			if err != nil {
				return err
			}
			defer store.Close()

			summary, err := store.Summary(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("cache %s\n", cfg.Project.CachePath)
			total := 0
			for _, status := range []extract.Status{extract.StatusDone, extract.StatusFailed, extract.StatusSkipped} {
				fmt.Printf("  %-7s %d\n", status, summary[status])
				total += summary[status]
			}
			fmt.Printf("  total   %d\n", total)
			return nil
		},
	}
}

func newRetryCmd() *cobra.Command {
	var ids []string
	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Clear failed cache records so the next run re-attempts them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			store, err := cache.NewStore(cfg.Project.CachePath)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(ids) > 0 {
				for _, id := range ids {
					if err := store.Invalidate(cmd.Context(), id); err != nil {
						return err
					}
				}
				fmt.Printf("cleared %d record(s) by id\n", len(ids))
				return nil
			}

			n, err := store.InvalidateStatus(cmd.Context(), extract.StatusFailed)
			if err != nil {
				return err
			}
			fmt.Printf("cleared %d failed record(s)\n", n)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&ids, "id", nil, "Clear specific unit id(s) regardless of status")
	return cmd
}

func main() {
	// Optional .env alongside the invocation; explicit env always wins.
	_ = godotenv.Load()
	log.InitLogger(log.ParseLevel(os.Getenv("LOG_LEVEL")))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}
}
