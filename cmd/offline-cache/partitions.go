package main

import (
	"fmt"
	"strconv"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/cache"

	"github.com/spf13/cobra"
)

var partitionsCmd = &cobra.Command{
	Use:   "partitions",
	Short: "List cache partitions",
	Long: `List the cache partitions with their entry counts, and whether the
next activation of the given build version keeps them.

Examples:
  offline-cache partitions --cache-version v2`,
	RunE: runPartitions,
}

func init() {
	flags := partitionsCmd.Flags()
	flags.StringVar(&dbFilenameFlag, "db", "cache.db", "Cache DB file name")
	flags.StringVar(&cacheVersionFlag, "cache-version", "", "Build version to check the partitions against")
}

func runPartitions(cmd *cobra.Command, args []string) error {
	fc, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	provider, err := openCache(fc)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer provider.Close()

	rows, err := partitionRows(provider, offlinecache.PartitionNames(fc.Version, fc.PagesShareDynamic))
	if err != nil {
		return err
	}
	printTable(cmd.OutOrStdout(), []string{"Partition", "Entries", "Kept"}, rows)
	return nil
}

func partitionRows(provider cache.CacheProvider, owned offlinecache.Partitions) ([][]string, error) {
	names, err := provider.Partitions()
	if err != nil {
		return nil, err
	}
	rows := make([][]string, 0, len(names))
	for _, name := range names {
		count := 0
		if err := provider.Keys(name, func(string) { count++ }); err != nil {
			return nil, err
		}
		kept := "no"
		if owned.Allowed(name) {
			kept = "yes"
		}
		rows = append(rows, []string{name, strconv.Itoa(count), kept})
	}
	return rows, nil
}
