package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/always-cache/offline-cache/pkg/duration"
	"github.com/always-cache/offline-cache/queue"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var deadFlag bool

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the mutation queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List mutations waiting for replay",
	Long: `List the mutations that were made offline and wait for replay, oldest first.

Examples:
  offline-cache queue list --queue badger --queue-path ./queue
  offline-cache queue list --dead`,
	RunE: runQueueList,
}

func init() {
	flags := queueListCmd.Flags()
	flags.StringVar(&queueFlag, "queue", "sqlite", "Mutation queue provider (sqlite or badger)")
	flags.StringVar(&queuePathFlag, "queue-path", "queue.db", "Mutation queue file (sqlite) or directory (badger)")
	flags.BoolVar(&deadFlag, "dead", false, "List mutations that were given up on")
	queueCmd.AddCommand(queueListCmd)
}

func runQueueList(cmd *cobra.Command, args []string) error {
	fc, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	q, err := openQueue(fc, log.Logger)
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}
	defer q.Close()

	var entries []queue.Entry
	if deadFlag {
		entries, err = q.DeadLetters(cmd.Context())
	} else {
		entries, err = q.List(cmd.Context())
	}
	if err != nil {
		return err
	}
	printTable(cmd.OutOrStdout(), queueHeaders, queueRows(entries, time.Now()))
	return nil
}

var queueHeaders = []string{"ID", "Method", "Target", "Age", "Attempts", "Next attempt", "Last error"}

func queueRows(entries []queue.Entry, now time.Time) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		next := "now"
		if e.NextAttemptAt.After(now) {
			next = "in " + duration.Format(e.NextAttemptAt.Sub(now))
		}
		rows = append(rows, []string{
			e.Mutation.ID,
			e.Mutation.Method,
			e.Mutation.Target,
			duration.Format(now.Sub(e.Mutation.EnqueuedAt)),
			strconv.Itoa(e.Attempts),
			next,
			e.LastError,
		})
	}
	return rows
}
