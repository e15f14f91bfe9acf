package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/libreviews/revdal/internal/app"
	"github.com/libreviews/revdal/internal/common"
	"github.com/libreviews/revdal/internal/metrics"
	"github.com/libreviews/revdal/internal/rollback"
)

func getConfigPath() string {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf("configs/config.%s.yaml", env)
}

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", getConfigPath(), "config file path")
	clearPostgres := flag.Bool("clear-postgres", false, "clear migrated target tables")
	restoreBackup := flag.String("restore-backup", "", "restore the target from a backup file")
	table := flag.String("table", "", "clear a single table (kind, source or target table name)")
	confirm := flag.Bool("confirm", false, "do not ask for confirmation")
	dryRun := flag.Bool("dry-run", false, "show what would be cleared without clearing")
	verbose := flag.Bool("verbose", false, "debug logging and SQL statements")
	flag.Parse()

	if !*clearPostgres && *restoreBackup == "" {
		fmt.Fprintln(os.Stderr, "rollback: one of --clear-postgres or --restore-backup is required")
		flag.Usage()
		return 1
	}

	cfg, log, err := app.Setup(*configPath, *verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rollback: %v\n", err)
		return 1
	}
	ctx := context.Background()

	target, err := app.OpenTarget(ctx, cfg, *verbose, log)
	if err != nil {
		log.Error().Err(err).Msg("rollback failed")
		return 1
	}
	defer target.Close()

	locker, closeLocker, err := app.Locker(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("rollback failed")
		return 1
	}
	defer closeLocker()

	rec := metrics.New("rollback")
	defer func() {
		if err := rec.Push(ctx, cfg.Metrics.PushgatewayURL, cfg.Metrics.Job); err != nil {
			log.Warn().Err(err).Msg("failed to push metrics")
		}
	}()
	rb := rollback.New(target, locker, rec, log)

	if *restoreBackup != "" {
		if err := rb.RestoreBackup(ctx, *restoreBackup); err != nil {
			log.Error().Err(err).Msg("restore failed")
			return 1
		}
		return 0
	}

	opts := rollback.Options{Table: *table, DryRun: *dryRun, Confirm: *confirm}
	if !opts.Confirm && !opts.DryRun && interactive() {
		opts.Confirm = ask(os.Stdin, os.Stdout, target.Prefix(), *table)
		if !opts.Confirm {
			log.Info().Msg("rollback cancelled")
			return 1
		}
	}

	res, err := rb.Clear(ctx, opts)
	if errors.Is(err, common.ErrConfirmationRequired) {
		log.Error().Msg("refusing to clear tables without --confirm in a non-interactive session")
		return 1
	}
	if err != nil {
		log.Error().Err(err).Msg("rollback failed")
		return 1
	}

	for _, t := range res.Tables {
		note := ""
		if t.Dependent {
			note = " (references " + *table + ")"
		}
		switch {
		case t.Missing:
			fmt.Printf("%-24s missing\n", t.Table)
		case res.DryRun:
			fmt.Printf("%-24s %8d rows would be cleared%s\n", t.Table, t.Rows, note)
		default:
			fmt.Printf("%-24s %8d rows cleared%s\n", t.Table, t.Rows, note)
		}
	}
	log.Info().Bool("dry_run", res.DryRun).Int64("rows", res.Rows()).Msg("rollback complete")
	return 0
}

func interactive() bool {
	fi, err := os.Stdin.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

// ask prompts for the word "yes" before anything is cleared.
func ask(in io.Reader, out io.Writer, prefix, table string) bool {
	scope := "ALL migrated tables"
	if table != "" {
		scope = "table " + table + " and every table referencing it"
	}
	if prefix != "" {
		scope += " (prefix " + prefix + ")"
	}
	fmt.Fprintf(out, "This will delete every row of %s. Type 'yes' to continue: ", scope)
	line, _ := bufio.NewReader(in).ReadString('\n')
	return strings.TrimSpace(line) == "yes"
}
