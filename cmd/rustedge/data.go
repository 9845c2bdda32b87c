package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rustedge/rustedge"
)

func openStore() *rustedge.DB {
	db, err := rustedge.Open(rustedge.Options{Dir: dataDir})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open store at %s: %v\n", dataDir, err)
		os.Exit(1)
	}
	return db
}

var putCmd = &cobra.Command{
	Use:   "put <key> <value>",
	Short: "Store a key-value pair",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		db := openStore()
		defer db.Close()

		if err := db.Put([]byte(args[0]), []byte(args[1])); err != nil {
			fmt.Fprintf(os.Stderr, "put failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("OK")
	},
}

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Retrieve the value for a key",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db := openStore()
		defer db.Close()

		value, found, err := db.Get([]byte(args[0]))
		if err != nil {
			fmt.Fprintf(os.Stderr, "get failed: %v\n", err)
			os.Exit(1)
		}
		if !found {
			fmt.Println("(not found)")
			return
		}
		fmt.Println(string(value))
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Delete a key",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db := openStore()
		defer db.Close()

		if err := db.Delete([]byte(args[0])); err != nil {
			fmt.Fprintf(os.Stderr, "delete failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("OK")
	},
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Force the current memtable out to a new SST",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		db := openStore()
		defer db.Close()

		if err := db.Flush(); err != nil {
			fmt.Fprintf(os.Stderr, "flush failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("flush completed")
	},
}

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Merge every live SST into one immediately",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		db := openStore()
		defer db.Close()

		if err := db.Compact(); err != nil {
			fmt.Fprintf(os.Stderr, "compact failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("compaction completed")
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store statistics",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		db := openStore()
		defer db.Close()

		stats := db.Stats()
		fmt.Printf("memtable entries: %d\n", stats.MemTableEntries)
		fmt.Printf("sstable count:    %d\n", stats.SSTableCount)
		fmt.Printf("sequence:         %d\n", stats.Sequence)
	},
}
