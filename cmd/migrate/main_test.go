package main

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

func lookupFrom(env map[string]string) func(string) string {
	return func(key string) string { return env[key] }
}

func TestParseOptions(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		env     map[string]string
		want    options
		wantErr string
	}{
		{
			name: "defaults with env dsn",
			env:  map[string]string{envPostgresDSN: " postgres://env "},
			want: options{direction: "up", dsn: "postgres://env"},
		},
		{
			name: "flag dsn wins",
			args: []string{"-direction=DOWN", "-steps=2", "-dsn=postgres://flag"},
			env:  map[string]string{envPostgresDSN: "postgres://env"},
			want: options{direction: "down", steps: 2, dsn: "postgres://flag"},
		},
		{
			name:    "missing dsn",
			args:    []string{"-direction=status"},
			wantErr: envPostgresDSN,
		},
		{
			name:    "unsupported direction",
			args:    []string{"-direction=sideways", "-dsn=x"},
			wantErr: "unsupported direction",
		},
		{
			name:    "negative steps",
			args:    []string{"-steps=-1", "-dsn=x"},
			wantErr: "steps",
		},
		{
			name:    "unknown flag",
			args:    []string{"-force"},
			wantErr: "flag provided but not defined",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseOptions(tt.args, lookupFrom(tt.env))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrintMigrations(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printMigrations(&out, []postgres.MigrationInfo{
		{Version: 1, Name: "catalog_and_stock", Applied: true},
		{Version: 2, Name: "orders", Applied: true, Drifted: true},
		{Version: 3, Name: "outbox", Applied: false},
	}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "VERSION")
	assert.Contains(t, lines[1], "0001")
	assert.Contains(t, lines[1], "applied")
	assert.Contains(t, lines[2], "applied (modified)")
	assert.Contains(t, lines[3], "pending")
}

func openTestStore(t *testing.T) *postgres.Store {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("STOREFRONT_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("STOREFRONT_POSTGRES_TEST_DSN is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		t.Skipf("postgres is not available: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRun_StatusUpDown(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, run(ctx, store, options{direction: "up"}, &out))
	assert.Contains(t, out.String(), "migrate up ok")

	out.Reset()
	require.NoError(t, run(ctx, store, options{direction: "status"}, &out))
	assert.Contains(t, out.String(), "applied")
	assert.NotContains(t, out.String(), "pending")

	out.Reset()
	require.NoError(t, run(ctx, store, options{direction: "down", steps: 1}, &out))
	assert.Contains(t, out.String(), "migrate down ok")

	out.Reset()
	require.NoError(t, run(ctx, store, options{direction: "status"}, &out))
	assert.Contains(t, out.String(), "pending")

	require.NoError(t, run(ctx, store, options{direction: "up"}, &out))
}

func TestMainMissingDSNExits(t *testing.T) {
	if os.Getenv("MIGRATE_TEST_EXIT") == "1" {
		os.Args = []string{"migrate", "-direction=status"}
		_ = os.Unsetenv(envPostgresDSN)
		main()
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestMainMissingDSNExits")
	cmd.Env = append(os.Environ(), "MIGRATE_TEST_EXIT=1")
	err := cmd.Run()
	require.Error(t, err)
	exitErr, ok := err.(*exec.ExitError)
	require.True(t, ok, "expected exit error, got %v", err)
	assert.NotZero(t, exitErr.ExitCode())
}
