package database

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func widgetMigrations() fstest.MapFS {
	return fstest.MapFS{
		"000001_widgets.up.sql":         {Data: []byte("CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT NOT NULL);")},
		"000001_widgets.down.sql":       {Data: []byte("DROP TABLE widgets;")},
		"000002_widget_color.up.sql":    {Data: []byte("ALTER TABLE widgets ADD COLUMN color TEXT;")},
		"000002_widget_color.down.sql":  {Data: []byte("ALTER TABLE widgets DROP COLUMN color;")},
		"README.md":                     {Data: []byte("ignored")},
		"000003_not_ready.down.sql.bak": {Data: []byte("ignored")},
	}
}

func newMigrationDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestLoadMigrations(t *testing.T) {
	all, err := LoadMigrations(widgetMigrations())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "000001_widgets", all[0].String())
	assert.Equal(t, "000002_widget_color", all[1].String())
	assert.NotEqual(t, all[0].Checksum, all[1].Checksum)

	tests := map[string]fstest.MapFS{
		"missing down": {
			"000001_widgets.up.sql": {Data: []byte("SELECT 1;")},
		},
		"bad version": {
			"v1_widgets.up.sql":   {Data: []byte("SELECT 1;")},
			"v1_widgets.down.sql": {Data: []byte("SELECT 1;")},
		},
		"no name": {
			"000001.up.sql":   {Data: []byte("SELECT 1;")},
			"000001.down.sql": {Data: []byte("SELECT 1;")},
		},
		"duplicate version": {
			"000001_a.up.sql":   {Data: []byte("SELECT 1;")},
			"000001_a.down.sql": {Data: []byte("SELECT 1;")},
			"1_b.up.sql":        {Data: []byte("SELECT 1;")},
			"1_b.down.sql":      {Data: []byte("SELECT 1;")},
		},
	}
	for name, fsys := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadMigrations(fsys)
			assert.Error(t, err)
		})
	}
}

func TestMigrator_UpStatusDown(t *testing.T) {
	ctx := context.Background()
	db := newMigrationDB(t)
	all, err := LoadMigrations(widgetMigrations())
	require.NoError(t, err)
	m := NewMigrator(db, all)

	ran, err := m.Up(ctx)
	require.NoError(t, err)
	assert.Len(t, ran, 2)
	assert.True(t, db.Migrator().HasColumn("widgets", "color"))

	ran, err = m.Up(ctx)
	require.NoError(t, err)
	assert.Empty(t, ran, "second run applies nothing")

	states, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, states, 2)
	for _, st := range states {
		assert.True(t, st.Applied)
		assert.NotNil(t, st.AppliedAt)
		assert.False(t, st.Drifted)
	}

	err = m.Down(ctx, 1)
	assert.ErrorIs(t, err, ErrNotLatest)

	require.NoError(t, m.Down(ctx, 2))
	assert.False(t, db.Migrator().HasColumn("widgets", "color"))

	states, err = m.Status(ctx)
	require.NoError(t, err)
	assert.True(t, states[0].Applied)
	assert.False(t, states[1].Applied)

	assert.Error(t, m.Down(ctx, 2), "already reverted")
	assert.ErrorIs(t, m.Down(ctx, 9), ErrMigrationNotFound)
}

func TestMigrator_DetectsDrift(t *testing.T) {
	ctx := context.Background()
	db := newMigrationDB(t)
	fsys := widgetMigrations()
	all, err := LoadMigrations(fsys)
	require.NoError(t, err)
	_, err = NewMigrator(db, all[:1]).Up(ctx)
	require.NoError(t, err)

	fsys["000001_widgets.up.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE widgets (id INTEGER PRIMARY KEY);")}
	edited, err := LoadMigrations(fsys)
	require.NoError(t, err)
	m := NewMigrator(db, edited)

	_, err = m.Up(ctx)
	assert.ErrorIs(t, err, ErrMigrationDrift)

	states, err := m.Status(ctx)
	require.NoError(t, err)
	assert.True(t, states[0].Drifted)
}

func TestMigrator_RejectsUnknownVersions(t *testing.T) {
	ctx := context.Background()
	db := newMigrationDB(t)
	all, err := LoadMigrations(widgetMigrations())
	require.NoError(t, err)
	_, err = NewMigrator(db, all).Up(ctx)
	require.NoError(t, err)

	_, err = NewMigrator(db, all[:1]).Up(ctx)
	require.ErrorIs(t, err, ErrUnknownMigration)
	assert.Contains(t, err.Error(), "000002")
}
