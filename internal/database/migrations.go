package database

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"reviewqueue/internal/middleware"

	"gorm.io/gorm"
)

// Migration is one versioned pair of SQL scripts.
type Migration struct {
	Version  int
	Name     string
	Up       string
	Down     string
	Checksum string
}

func (m Migration) String() string {
	return fmt.Sprintf("%06d_%s", m.Version, m.Name)
}

// AppliedMigration is the ledger row written when a migration runs.
type AppliedMigration struct {
	Version   int       `gorm:"primaryKey;autoIncrement:false"`
	Name      string    `gorm:"size:255;not null"`
	Checksum  string    `gorm:"size:64;not null"`
	AppliedAt time.Time `gorm:"not null"`
}

func (AppliedMigration) TableName() string {
	return "schema_migrations"
}

// MigrationState pairs a known migration with its ledger row, if any.
type MigrationState struct {
	Migration
	Applied   bool
	AppliedAt *time.Time
	// Drifted is set when the script changed after it was applied.
	Drifted bool
}

var (
	ErrMigrationNotFound = errors.New("migration not found")
	ErrMigrationDrift    = errors.New("applied migration no longer matches its script")
	ErrUnknownMigration  = errors.New("database has migrations unknown to this build")
	ErrNotLatest         = errors.New("only the latest applied migration can be rolled back")
)

//go:embed migrations/*.sql
var migrationFS embed.FS

var embeddedMigrations = sync.OnceValues(func() ([]Migration, error) {
	sub, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		return nil, err
	}
	return LoadMigrations(sub)
})

// EmbeddedMigrations returns the migrations compiled into the binary.
func EmbeddedMigrations() ([]Migration, error) {
	return embeddedMigrations()
}

func checksum(script string) string {
	sum := sha256.Sum256([]byte(script))
	return hex.EncodeToString(sum[:])
}

// LoadMigrations reads NNNNNN_name.up.sql / .down.sql pairs from the root
// of fsys. Every up script needs a down script.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	ups, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return nil, err
	}

	seen := make(map[int]string, len(ups))
	out := make([]Migration, 0, len(ups))
	for _, file := range ups {
		base := strings.TrimSuffix(file, ".up.sql")
		rawVersion, name, ok := strings.Cut(base, "_")
		if !ok || name == "" {
			return nil, fmt.Errorf("migration %s: expected <version>_<name>.up.sql", file)
		}
		version, err := strconv.Atoi(rawVersion)
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("migration %s: invalid version %q", file, rawVersion)
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("migration %s: version %d already used by %s", file, version, prev)
		}
		seen[version] = file

		up, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		down, err := fs.ReadFile(fsys, base+".down.sql")
		if err != nil {
			return nil, fmt.Errorf("migration %s has no down script: %w", file, err)
		}

		out = append(out, Migration{
			Version:  version,
			Name:     name,
			Up:       string(up),
			Down:     string(down),
			Checksum: checksum(string(up)),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Migrator applies and reverts migrations, recording each in
// schema_migrations.
type Migrator struct {
	db         *gorm.DB
	migrations []Migration
}

func NewMigrator(db *gorm.DB, migrations []Migration) *Migrator {
	return &Migrator{db: db, migrations: migrations}
}

// NewEmbeddedMigrator returns a Migrator over the compiled-in migrations.
func NewEmbeddedMigrator(db *gorm.DB) (*Migrator, error) {
	all, err := EmbeddedMigrations()
	if err != nil {
		return nil, fmt.Errorf("load embedded migrations: %w", err)
	}
	return NewMigrator(db, all), nil
}

const createLedgerSQL = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version BIGINT PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	checksum VARCHAR(64) NOT NULL,
	applied_at TIMESTAMP NOT NULL
)`

func (m *Migrator) ensureLedger(ctx context.Context) error {
	if err := m.db.WithContext(ctx).Exec(createLedgerSQL).Error; err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]AppliedMigration, error) {
	var rows []AppliedMigration
	if err := m.db.WithContext(ctx).Order("version ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	byVersion := make(map[int]AppliedMigration, len(rows))
	for _, row := range rows {
		byVersion[row.Version] = row
	}
	return byVersion, nil
}

// Status reports every known migration and whether it has been applied.
func (m *Migrator) Status(ctx context.Context) ([]MigrationState, error) {
	if err := m.ensureLedger(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	states := make([]MigrationState, 0, len(m.migrations))
	for _, mig := range m.migrations {
		st := MigrationState{Migration: mig}
		if row, ok := applied[mig.Version]; ok {
			at := row.AppliedAt
			st.Applied = true
			st.AppliedAt = &at
			st.Drifted = row.Checksum != mig.Checksum
		}
		states = append(states, st)
	}
	return states, nil
}

// verify fails when the ledger holds versions this build does not know or
// scripts whose checksum changed after they ran.
func (m *Migrator) verify(applied map[int]AppliedMigration) error {
	known := make(map[int]Migration, len(m.migrations))
	for _, mig := range m.migrations {
		known[mig.Version] = mig
	}

	var unknown []string
	for version, row := range applied {
		mig, ok := known[version]
		if !ok {
			unknown = append(unknown, fmt.Sprintf("%06d", version))
			continue
		}
		if row.Checksum != mig.Checksum {
			return fmt.Errorf("%w: %s", ErrMigrationDrift, mig)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%w: %s", ErrUnknownMigration, strings.Join(unknown, ", "))
	}
	return nil
}

// Up applies every pending migration in version order. Each migration and
// its ledger row commit together.
func (m *Migrator) Up(ctx context.Context) ([]Migration, error) {
	if err := m.ensureLedger(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.verify(applied); err != nil {
		return nil, err
	}

	var ran []Migration
	for _, mig := range m.migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		middleware.Logger.Info("Applying migration", slog.String("migration", mig.String()))
		err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec(mig.Up).Error; err != nil {
				return fmt.Errorf("apply %s: %w", mig, err)
			}
			return tx.Create(&AppliedMigration{
				Version:   mig.Version,
				Name:      mig.Name,
				Checksum:  mig.Checksum,
				AppliedAt: time.Now().UTC(),
			}).Error
		})
		if err != nil {
			return ran, err
		}
		ran = append(ran, mig)
	}
	return ran, nil
}

// Down reverts version, which must be the newest applied migration.
func (m *Migrator) Down(ctx context.Context, version int) error {
	var target *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == version {
			target = &m.migrations[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("%w: %06d", ErrMigrationNotFound, version)
	}

	if err := m.ensureLedger(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}
	if _, ok := applied[version]; !ok {
		return fmt.Errorf("migration %s has not been applied", target)
	}
	for v := range applied {
		if v > version {
			return fmt.Errorf("%w: %06d is newer than %s", ErrNotLatest, v, target)
		}
	}

	middleware.Logger.Info("Rolling back migration", slog.String("migration", target.String()))
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(target.Down).Error; err != nil {
			return fmt.Errorf("revert %s: %w", target, err)
		}
		return tx.Where("version = ?", version).Delete(&AppliedMigration{}).Error
	})
}
