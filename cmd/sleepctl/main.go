package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sleepwatch/sleep-server-go/internal/config"
	"github.com/sleepwatch/sleep-server-go/internal/database"
	"github.com/sleepwatch/sleep-server-go/internal/queue"
	"github.com/sleepwatch/sleep-server-go/internal/redis"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sleepctl",
		Short:         "Operator utility for the sleep tracking server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newQueueCommand())
	return cmd
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := database.Connect(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(commandContext(cmd)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newQueueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the auto-complete job queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newQueueStatsCommand())
	cmd.AddCommand(newQueueDeadCommand())
	return cmd
}

func newQueueStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print delayed, in-flight and dead job counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(func(q *queue.Queue) error {
				stats, err := q.Stats(commandContext(cmd))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), stats)
			})
		},
	}
}

func newQueueDeadCommand() *cobra.Command {
	var limit int64

	cmd := &cobra.Command{
		Use:   "dead",
		Short: "List dead-lettered jobs, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 1 {
				return fmt.Errorf("--limit must be at least 1")
			}
			return withQueue(func(q *queue.Queue) error {
				jobs, err := q.DeadLetters(commandContext(cmd), limit)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), jobs)
			})
		},
	}

	cmd.Flags().Int64Var(&limit, "limit", 20, "Maximum number of jobs to list")
	return cmd
}

func withQueue(fn func(q *queue.Queue) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	client, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		return err
	}
	defer client.Close()

	return fn(queue.New(client.Client, cfg.SchedulerQueuePrefix, cfg.VisibilityTimeout()))
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
