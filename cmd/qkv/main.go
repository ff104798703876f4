package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/qkvdb/qkv"
)

var (
	rootCmd = &cobra.Command{
		Use:   "qkv",
		Short: "inspect qkv store files",
		Long: `qkv opens a store file read-only at its stored version and lets you
inspect its collections, records and storage footprint.

Relative store paths resolve against QKV_DIR, which may come from the
environment or from a .env/.env.local file in the working directory.`,
		SilenceUsage: true,
	}

	statsCmd = &cobra.Command{
		Use:   "stats <file>",
		Short: "Print row counts and sizes for every collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openStore(args[0])
			if err != nil {
				return err
			}
			defer sess.Close()

			fmt.Printf("%s @ version %d\n", sess.Name(), sess.Version())
			for _, col := range sess.Collections() {
				cs, err := sess.Stats(col)
				if err != nil {
					return err
				}
				fmt.Printf("  %-24s %8d rows  %8d index rows  %10d bytes\n",
					col, cs.Rows, cs.IndexRows, cs.TotalSize())
			}
			return nil
		},
	}

	listCmd = &cobra.Command{
		Use:   "list <file> <collection>",
		Short: "Print records of a collection as JSON lines",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, _ := cmd.Flags().GetString("index")
			desc, _ := cmd.Flags().GetBool("desc")
			limit, _ := cmd.Flags().GetInt("limit")
			skip, _ := cmd.Flags().GetInt("skip")

			sess, err := openStore(args[0])
			if err != nil {
				return err
			}
			defer sess.Close()

			q := sess.Query(args[1], index)
			if desc {
				q = q.Desc()
			}
			if skip > 0 {
				q = q.Skip(skip)
			}
			if limit >= 0 {
				q = q.Limit(limit)
			}
			items, err := q.Execute()
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			for _, item := range items {
				if err := enc.Encode(item); err != nil {
					return err
				}
			}
			return nil
		},
	}

	getCmd = &cobra.Command{
		Use:   "get <file> <collection> <key>",
		Short: "Print one record by primary key",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openStore(args[0])
			if err != nil {
				return err
			}
			defer sess.Close()

			doc, err := sess.Get(args[1], parseKey(args[2]))
			if err != nil {
				return err
			}
			if doc == nil {
				return fmt.Errorf("not found")
			}
			out, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
)

func init() {
	listCmd.Flags().String("index", "", "traverse via this index instead of the primary key")
	listCmd.Flags().Bool("desc", false, "traverse in descending key order")
	listCmd.Flags().Int("limit", -1, "stop after this many records")
	listCmd.Flags().Int("skip", 0, "skip this many records first")

	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
}

// storeDir is the directory relative store paths resolve against. It comes
// from QKV_DIR, which the .env files loaded in main may set.
func storeDir() string {
	if dir := os.Getenv("QKV_DIR"); dir != "" {
		return dir
	}
	return "."
}

// openStore opens the file's store at its stored version with the persisted
// schema, so no schema declaration is needed on the command line.
func openStore(path string) (*qkv.Session, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(storeDir(), path)
	}
	reg := qkv.NewRegistry(filepath.Dir(path))
	name := strings.TrimSuffix(filepath.Base(path), ".db")
	return reg.OpenCurrent(name)
}

// parseKey interprets a command-line key: a number when it parses as one,
// a string otherwise.
func parseKey(s string) any {
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	return s
}

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
