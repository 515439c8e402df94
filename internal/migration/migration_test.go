package migration

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"pkgkeeper/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) (*Engine, *[]string) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "pkgkeeper.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	var trace []string
	reg := NewRegistry()
	reg.Register("demo",
		Step{
			ID:   "AddColumnX",
			Up:   func(context.Context) error { trace = append(trace, "up:AddColumnX"); return nil },
			Down: func(context.Context) error { trace = append(trace, "down:AddColumnX"); return nil },
		},
		Step{
			ID:   "Broken",
			Up:   func(context.Context) error { return nil },
			Down: func(context.Context) error { return errors.New("table locked") },
		},
	)
	return NewEngine(reg, s), &trace
}

func TestApplyAndRemove(t *testing.T) {
	e, trace := newEngine(t)
	ctx := context.Background()

	require.NoError(t, e.ApplyMigration(ctx, "demo", "AddColumnX"))
	require.NoError(t, e.ApplyMigration(ctx, "demo", "AddColumnX"))
	applied, err := e.Applied("demo")
	require.NoError(t, err)
	assert.Equal(t, []string{"AddColumnX"}, applied)

	require.NoError(t, e.RemoveMigration(ctx, "demo", "AddColumnX"))
	assert.Equal(t, []string{"up:AddColumnX", "down:AddColumnX"}, *trace)

	err = e.RemoveMigration(ctx, "demo", "AddColumnX")
	assert.True(t, errors.Is(err, ErrNotApplied))
}

func TestUnknownMigration(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	assert.True(t, errors.Is(e.ApplyMigration(ctx, "demo", "Nope"), ErrUnknownMigration))
	assert.True(t, errors.Is(e.RemoveMigration(ctx, "blog", "AddColumnX"), ErrUnknownMigration))
	assert.Equal(t, []string{"AddColumnX", "Broken"}, e.Registry().IDs("demo"))
}

func TestFailedDownStepKeepsLedger(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	require.NoError(t, e.ApplyMigration(ctx, "demo", "Broken"))
	err := e.RemoveMigration(ctx, "demo", "Broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "table locked")

	applied, err := e.Applied("demo")
	require.NoError(t, err)
	assert.Equal(t, []string{"Broken"}, applied)
}
