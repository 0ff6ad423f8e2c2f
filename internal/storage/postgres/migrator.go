package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	migrationsDir    = "sql/migrations"
	migrationLockKey = int64(70411125) // общий для всех инстансов storefront
	statusTimeout    = 5 * time.Second
)

// checksum добавлен позже самой таблицы, пустое значение означает "не проверять".
var migrationTableDDL = []string{
	`CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`ALTER TABLE schema_migrations ADD COLUMN IF NOT EXISTS checksum TEXT NOT NULL DEFAULT ''`,
}

var (
	//go:embed sql/migrations/*.sql
	migrationsFS embed.FS

	migrationFilePattern = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)
)

type migrationDirection string

const (
	migrationUp   migrationDirection = "up"
	migrationDown migrationDirection = "down"
)

type migration struct {
	Version  int64
	Name     string
	UpSQL    string
	DownSQL  string
	Checksum string
}

func (m migration) label() string {
	return fmt.Sprintf("%04d_%s", m.Version, m.Name)
}

// migrationStep - одна миграция в выбранном направлении.
type migrationStep struct {
	migration
	direction migrationDirection
}

// MigrationInfo описывает встроенную миграцию и её состояние в базе.
type MigrationInfo struct {
	Version int64
	Name    string
	Applied bool
	// Drifted: файл изменён после применения.
	Drifted bool
}

// MigrateUp применяет up-миграции, steps=0 означает все доступные.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.migrate(ctx, migrationUp, steps)
}

// MigrateDown откатывает миграции, steps<=0 откатывает одну.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.migrate(ctx, migrationDown, steps)
}

func (s *Store) Migrations(ctx context.Context) ([]MigrationInfo, error) {
	if s == nil || s.db == nil {
		return nil, errStoreNotInitialized
	}
	embedded, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		return nil, err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	applied, err := readApplied(ctx, conn)
	if err != nil {
		return nil, err
	}

	infos := make([]MigrationInfo, len(embedded))
	for i, m := range embedded {
		sum, ok := applied[m.Version]
		infos[i] = MigrationInfo{
			Version: m.Version,
			Name:    m.Name,
			Applied: ok,
			Drifted: ok && sum != "" && sum != m.Checksum,
		}
	}
	return infos, nil
}

// MigrationStatus возвращает последнюю применённую версию и число применённых миграций.
func (s *Store) MigrationStatus(ctx context.Context) (int64, int, error) {
	if s == nil || s.db == nil {
		return 0, 0, errStoreNotInitialized
	}

	queryCtx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	if err := ensureMigrationTable(queryCtx, s.db); err != nil {
		return 0, 0, err
	}

	var (
		version int64
		count   int
	)
	err := s.db.QueryRowContext(queryCtx,
		`SELECT COALESCE(MAX(version), 0), COUNT(*) FROM schema_migrations`,
	).Scan(&version, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("query migration status: %w", err)
	}
	return version, count, nil
}

func (s *Store) migrate(ctx context.Context, direction migrationDirection, steps int) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	if direction != migrationUp && direction != migrationDown {
		return fmt.Errorf("unsupported migration direction: %s", direction)
	}

	embedded, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	unlock, err := lockMigrations(ctx, conn)
	if err != nil {
		return err
	}
	defer unlock()

	applied, err := readApplied(ctx, conn)
	if err != nil {
		return err
	}
	plan, err := planMigrations(embedded, applied, direction, steps)
	if err != nil {
		return err
	}

	for _, step := range plan {
		if err := runStep(ctx, conn, step); err != nil {
			return err
		}
	}
	return nil
}

// planMigrations выбирает шаги без обращения к базе.
// Up идёт по возрастанию версий и отказывается работать поверх изменённых файлов,
// down снимает последние применённые версии.
func planMigrations(
	embedded []migration,
	applied map[int64]string,
	direction migrationDirection,
	steps int,
) ([]migrationStep, error) {
	byVersion := make(map[int64]migration, len(embedded))
	for _, m := range embedded {
		byVersion[m.Version] = m
	}

	var plan []migrationStep
	switch direction {
	case migrationUp:
		for _, m := range embedded {
			sum, ok := applied[m.Version]
			if ok {
				if sum != "" && sum != m.Checksum {
					return nil, fmt.Errorf("migration %s was modified after it was applied", m.label())
				}
				continue
			}
			plan = append(plan, migrationStep{migration: m, direction: migrationUp})
		}
	case migrationDown:
		versions := make([]int64, 0, len(applied))
		for v := range applied {
			versions = append(versions, v)
		}
		sort.Slice(versions, func(i, j int) bool { return versions[i] > versions[j] })
		for _, v := range versions {
			m, ok := byVersion[v]
			if !ok {
				return nil, fmt.Errorf("cannot rollback unknown migration version %d", v)
			}
			plan = append(plan, migrationStep{migration: m, direction: migrationDown})
		}
	default:
		return nil, fmt.Errorf("unsupported migration direction: %s", direction)
	}

	if steps > 0 && len(plan) > steps {
		plan = plan[:steps]
	}
	return plan, nil
}

func runStep(ctx context.Context, conn *sql.Conn, step migrationStep) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx (%s %s): %w", step.direction, step.label(), err)
	}

	body, record, args := step.UpSQL,
		`INSERT INTO schema_migrations (version, name, checksum, applied_at) VALUES ($1, $2, $3, NOW())`,
		[]any{step.Version, step.Name, step.Checksum}
	if step.direction == migrationDown {
		body, record, args = step.DownSQL,
			`DELETE FROM schema_migrations WHERE version = $1`,
			[]any{step.Version}
	}

	if _, err := tx.ExecContext(ctx, body); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("execute %s migration %s: %w", step.direction, step.label(), err)
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record %s migration %s: %w", step.direction, step.label(), err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s migration %s: %w", step.direction, step.label(), err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func ensureMigrationTable(ctx context.Context, db execer) error {
	for _, ddl := range migrationTableDDL {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure migration table: %w", err)
		}
	}
	return nil
}

// lockMigrations берёт advisory lock на соединении, чтобы инстансы не мигрировали одновременно.
func lockMigrations(ctx context.Context, conn *sql.Conn) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return nil, fmt.Errorf("acquire migration lock: %w", err)
	}
	return func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", migrationLockKey)
	}, nil
}

// readApplied возвращает версию -> checksum применённых миграций.
func readApplied(ctx context.Context, conn *sql.Conn) (map[int64]string, error) {
	if err := ensureMigrationTable(ctx, conn); err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, `SELECT version, checksum FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]string)
	for rows.Next() {
		var (
			version int64
			sum     string
		)
		if err := rows.Scan(&version, &sum); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied[version] = sum
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return applied, nil
}

func loadMigrationsFromFS(fsys fs.FS) ([]migration, error) {
	files, err := fs.Glob(fsys, path.Join(migrationsDir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no migration files found")
	}

	byVersion := make(map[int64]*migration)
	for _, file := range files {
		base := path.Base(file)
		parts := migrationFilePattern.FindStringSubmatch(base)
		if parts == nil {
			return nil, fmt.Errorf("invalid migration file name: %s", base)
		}
		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version from %s: %w", base, err)
		}
		name, direction := parts[2], migrationDirection(parts[3])

		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read migration file %s: %w", file, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration file is empty: %s", base)
		}

		m := byVersion[version]
		if m == nil {
			m = &migration{Version: version, Name: name}
			byVersion[version] = m
		}
		if m.Name != name {
			return nil, fmt.Errorf("migration name mismatch for version %d: %s vs %s", version, m.Name, name)
		}

		target := &m.UpSQL
		if direction == migrationDown {
			target = &m.DownSQL
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %d", direction, version)
		}
		*target = body
	}

	out := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL == "" || m.DownSQL == "" {
			return nil, fmt.Errorf("migration %s must have both up and down files", m.label())
		}
		sum := sha256.Sum256([]byte(m.UpSQL))
		m.Checksum = hex.EncodeToString(sum[:])
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}
