package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cuemby/percokv/pkg/client"
	"github.com/cuemby/percokv/pkg/log"
	"github.com/cuemby/percokv/pkg/txn"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "percokv",
	Short:   "percokv - a client for the percokv transactional key-value store",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"percokv version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringArray("addr", []string{"127.0.0.1:7070"}, "Server address (repeatable for a multi-replica cluster)")
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")

	cobra.OnInitialize(func() {
		logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
		log.Init(log.Config{Level: log.Level(logLevel)})
	})

	rootCmd.AddCommand(getCmd, setCmd, rmCmd, txnCmd)
}

func dial(cmd *cobra.Command) (*client.Client, error) {
	addrs, _ := cmd.Flags().GetStringArray("addr")
	return client.Dial(addrs)
}

// runSingle opens a transaction, runs fn against it, and commits if fn made
// any writes. This gives the single-shot get/set/rm commands the same
// Percolator commit path an interactive transaction uses, just with exactly
// one operation buffered.
func runSingle(cmd *cobra.Command, fn func(ctx context.Context, tx *txn.Transaction) error) error {
	c, err := dial(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx := context.Background()
	tx, err := txn.Begin(ctx, c)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

var getCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Get the value of a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		ctx := context.Background()
		tx, err := txn.Begin(ctx, c)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		value, ok, err := tx.Get(ctx, args[0])
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Key not found")
			return nil
		}
		fmt.Println(value)
		return nil
	},
}

var setCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Set the value of a key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSingle(cmd, func(ctx context.Context, tx *txn.Transaction) error {
			tx.Set(args[0], args[1])
			return nil
		})
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm KEY",
	Short: "Remove a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSingle(cmd, func(ctx context.Context, tx *txn.Transaction) error {
			tx.Remove(args[0])
			return nil
		})
	},
}

var txnCmd = &cobra.Command{
	Use:   "txn",
	Short: "Start an interactive multi-statement transaction session",
	Long: `txn reads commands from stdin, one per line:

  begin            start a new transaction (discarding any uncommitted one)
  get KEY          read a key within the current transaction
  set KEY VALUE    buffer a write
  remove KEY       buffer a delete
  commit           commit the buffered writes
  exit             quit

No transaction is active until "begin" is run.`,
	RunE: runTxnSession,
}

func runTxnSession(cmd *cobra.Command, args []string) error {
	c, err := dial(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx := context.Background()
	scanner := bufio.NewScanner(os.Stdin)
	var tx *txn.Transaction

	for {
		fmt.Print("percokv> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch strings.ToLower(fields[0]) {
		case "exit", "quit":
			return nil

		case "begin":
			tx, err = txn.Begin(ctx, c)
			if err != nil {
				fmt.Fprintf(os.Stderr, "begin: %v\n", err)
				continue
			}
			fmt.Printf("started transaction at ts=%d\n", tx.StartTS())

		case "get":
			if tx == nil || len(fields) != 2 {
				fmt.Fprintln(os.Stderr, "usage: get KEY (after begin)")
				continue
			}
			value, ok, err := tx.Get(ctx, fields[1])
			if err != nil {
				fmt.Fprintf(os.Stderr, "get: %v\n", err)
			} else if !ok {
				fmt.Println("Key not found")
			} else {
				fmt.Println(value)
			}

		case "set":
			if tx == nil || len(fields) != 3 {
				fmt.Fprintln(os.Stderr, "usage: set KEY VALUE (after begin)")
				continue
			}
			tx.Set(fields[1], fields[2])

		case "remove", "rm":
			if tx == nil || len(fields) != 2 {
				fmt.Fprintln(os.Stderr, "usage: remove KEY (after begin)")
				continue
			}
			tx.Remove(fields[1])

		case "commit":
			if tx == nil {
				fmt.Fprintln(os.Stderr, "no transaction in progress")
				continue
			}
			if err := tx.Commit(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "commit: %v\n", err)
			} else {
				fmt.Println("OK")
			}
			tx = nil

		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n", fields[0])
		}
	}
}
