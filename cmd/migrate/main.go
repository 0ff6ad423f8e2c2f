package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second
	envPostgresDSN = "STOREFRONT_POSTGRES_DSN"
)

type options struct {
	direction string
	steps     int
	dsn       string
}

func parseOptions(args []string, lookup func(string) string) (options, error) {
	var opts options
	fsFlags := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fsFlags.SetOutput(io.Discard)
	fsFlags.StringVar(&opts.direction, "direction", "up", "migration direction: up|down|status")
	fsFlags.IntVar(&opts.steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	fsFlags.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (fallback: "+envPostgresDSN+")")
	if err := fsFlags.Parse(args); err != nil {
		return options{}, err
	}

	opts.direction = strings.ToLower(strings.TrimSpace(opts.direction))
	switch opts.direction {
	case "up", "down", "status":
	default:
		return options{}, fmt.Errorf("unsupported direction: %s (use up|down|status)", opts.direction)
	}
	if opts.steps < 0 {
		return options{}, fmt.Errorf("steps must be >= 0")
	}

	opts.dsn = strings.TrimSpace(opts.dsn)
	if opts.dsn == "" {
		opts.dsn = strings.TrimSpace(lookup(envPostgresDSN))
	}
	if opts.dsn == "" {
		return options{}, fmt.Errorf("%s (or -dsn) is required", envPostgresDSN)
	}
	return opts, nil
}

// run применяет или откатывает встроенные миграции и печатает их состояние.
func run(ctx context.Context, store *postgres.Store, opts options, out io.Writer) error {
	switch opts.direction {
	case "up":
		if err := store.MigrateUp(ctx, opts.steps); err != nil {
			return fmt.Errorf("migrate up failed: %w", err)
		}
	case "down":
		if err := store.MigrateDown(ctx, opts.steps); err != nil {
			return fmt.Errorf("migrate down failed: %w", err)
		}
	}

	version, count, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	fmt.Fprintf(out, "migrate %s ok: version=%d applied=%d\n", opts.direction, version, count)

	if opts.direction != "status" {
		return nil
	}
	migrations, err := store.Migrations(ctx)
	if err != nil {
		return fmt.Errorf("list migrations failed: %w", err)
	}
	return printMigrations(out, migrations)
}

func printMigrations(out io.Writer, migrations []postgres.MigrationInfo) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tSTATE")
	for _, m := range migrations {
		state := "pending"
		switch {
		case m.Drifted:
			state = "applied (modified)"
		case m.Applied:
			state = "applied"
		}
		fmt.Fprintf(tw, "%04d\t%s\t%s\n", m.Version, m.Name, state)
	}
	return tw.Flush()
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.WithError(err).Fatal("failed to load .env")
	}

	opts, err := parseOptions(os.Args[1:], os.Getenv)
	if err != nil {
		log.WithError(err).Fatal("invalid arguments")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	store, err := postgres.Open(ctx, opts.dsn)
	if err != nil {
		log.WithError(err).Fatal("open postgres store")
	}
	defer store.Close()

	if err := run(ctx, store, opts, os.Stdout); err != nil {
		log.WithError(err).Error("migration failed")
		_ = store.Close()
		os.Exit(1)
	}
}
