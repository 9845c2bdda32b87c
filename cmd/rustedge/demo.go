package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a scripted walkthrough of put/get/delete/flush/compact against --data",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		db := openStore()
		defer db.Close()

		fmt.Println("1. inserting records")
		records := []struct{ key, value string }{
			{"user:1001", "Alice Johnson"},
			{"user:1002", "Bob Smith"},
			{"product:2001", "Laptop Computer"},
			{"order:3001", "Order for user:1001"},
		}
		for _, r := range records {
			if err := db.Put([]byte(r.key), []byte(r.value)); err != nil {
				fmt.Fprintf(os.Stderr, "put %s failed: %v\n", r.key, err)
				os.Exit(1)
			}
			fmt.Printf("  put %s = %s\n", r.key, r.value)
		}

		fmt.Println("\n2. reading records back")
		for _, key := range []string{"user:1001", "product:2001", "nonexistent"} {
			value, found, err := db.Get([]byte(key))
			if err != nil {
				fmt.Fprintf(os.Stderr, "get %s failed: %v\n", key, err)
				os.Exit(1)
			}
			if found {
				fmt.Printf("  get %s = %s\n", key, value)
			} else {
				fmt.Printf("  get %s = (not found)\n", key)
			}
		}

		fmt.Println("\n3. deleting user:1002")
		if err := db.Delete([]byte("user:1002")); err != nil {
			fmt.Fprintf(os.Stderr, "delete failed: %v\n", err)
			os.Exit(1)
		}
		if _, found, err := db.Get([]byte("user:1002")); err != nil {
			fmt.Fprintf(os.Stderr, "verify delete failed: %v\n", err)
			os.Exit(1)
		} else if found {
			fmt.Println("  ERROR: user:1002 should be deleted")
		} else {
			fmt.Println("  verified: user:1002 is gone")
		}

		fmt.Println("\n4. flushing and compacting")
		if err := db.Flush(); err != nil {
			fmt.Fprintf(os.Stderr, "flush failed: %v\n", err)
			os.Exit(1)
		}
		if err := db.Compact(); err != nil {
			fmt.Fprintf(os.Stderr, "compact failed: %v\n", err)
			os.Exit(1)
		}

		stats := db.Stats()
		fmt.Printf("\ndone. memtable entries=%d sstable count=%d sequence=%d\n",
			stats.MemTableEntries, stats.SSTableCount, stats.Sequence)
	},
}
