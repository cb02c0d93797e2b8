package system

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	ps "github.com/mitchellh/go-ps"

	"github.com/julianstephens/guardian/internal/backup"
	"github.com/julianstephens/guardian/internal/cli"
	"github.com/julianstephens/guardian/internal/constants"
	"github.com/julianstephens/guardian/internal/keyring"
	"github.com/julianstephens/guardian/internal/migration"
	"github.com/julianstephens/guardian/internal/storage"
	"github.com/julianstephens/guardian/internal/storage/sqlite"
	"github.com/julianstephens/guardian/migrations"
)

type DoctorCmd struct{}

type check struct {
	name string
	// needsDB checks are skipped when the database is not reachable
	needsDB bool
	// warn checks never fail the run
	warn bool
	run  func(*cli.Context) error
}

var checks = []check{
	{name: "Schema version", needsDB: true, run: checkSchemaVersion},
	{name: "Profiles readable", needsDB: true, run: checkProfiles},
	{name: "Stale session markers", needsDB: true, warn: true, run: checkActiveMarkers},
	{name: "Backups present", warn: true, run: checkBackupsPresent},
	{name: "Policy config", run: checkConfig},
	{name: "OS keyring", warn: true, run: checkKeyring},
	{name: "Text generation", warn: true, run: checkTextgen},
	{name: "Clock/timezone", run: checkClockTimezone},
}

func (cmd *DoctorCmd) Run(ctx *cli.Context) error {
	fmt.Println("Running diagnostics...")
	fmt.Println()

	hasError := false
	dbReachable := false

	if err := checkDBReachable(ctx); err != nil {
		fmt.Printf("❌ Database reachable: FAIL\n")
		fmt.Printf("   Error: %v\n", err)
		hasError = true
	} else {
		fmt.Printf("✓ Database reachable: OK\n")
		dbReachable = true
	}

	for _, c := range checks {
		if c.needsDB && !dbReachable {
			fmt.Printf("⊘ %s: SKIPPED (database not reachable)\n", c.name)
			continue
		}
		err := c.run(ctx)
		switch {
		case err == nil:
			fmt.Printf("✓ %s: OK\n", c.name)
		case c.warn:
			fmt.Printf("⚠ %s: WARNING\n", c.name)
			fmt.Printf("   %v\n", err)
		default:
			fmt.Printf("❌ %s: FAIL\n", c.name)
			fmt.Printf("   Error: %v\n", err)
			hasError = true
		}
	}

	fmt.Println()
	if hasError {
		fmt.Println("Diagnostics completed with errors.")
		return fmt.Errorf("one or more health checks failed")
	}

	fmt.Println("All diagnostics passed!")
	return nil
}

func checkDBReachable(ctx *cli.Context) error {
	if err := ctx.Store.Load(); err != nil {
		return fmt.Errorf("failed to load database: %w", err)
	}

	// For SQLite, also try a simple query
	if sqliteStore, ok := ctx.Store.(*sqlite.Store); ok {
		db := sqliteStore.GetDB()
		if db == nil {
			return fmt.Errorf("database connection is nil")
		}
		var result int
		if err := db.QueryRow("SELECT 1").Scan(&result); err != nil {
			return fmt.Errorf("failed to query database: %w", err)
		}
	}
	return nil
}

func checkSchemaVersion(ctx *cli.Context) error {
	sqliteStore, ok := ctx.Store.(*sqlite.Store)
	if !ok {
		// Other backends validate their schema in Load
		return nil
	}
	db := sqliteStore.GetDB()
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	subFS, err := fs.Sub(migrations.FS, "sqlite")
	if err != nil {
		return err
	}
	runner := migration.NewRunner(db, subFS)

	current, err := runner.GetCurrentVersion()
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}
	latest, err := runner.GetLatestVersion()
	if err != nil {
		return fmt.Errorf("failed to get latest schema version: %w", err)
	}
	if current != latest {
		return fmt.Errorf("schema version %d, expected %d", current, latest)
	}
	return nil
}

func checkProfiles(ctx *cli.Context) error {
	c := context.Background()
	users, err := ctx.Store.Users(c)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}
	for _, u := range users {
		if _, err := ctx.Repo.LoadProfile(c, u); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("profile of %s: %w", u, err)
		}
		if _, err := ctx.Repo.ListSessionRecords(c, u); err != nil {
			return fmt.Errorf("session records of %s: %w", u, err)
		}
	}
	return nil
}

func checkActiveMarkers(ctx *cli.Context) error {
	c := context.Background()
	users, err := ctx.Store.Users(c)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}
	var held []string
	for _, u := range users {
		marker, err := ctx.Repo.ActiveSession(c, u)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if processAlive(marker.PID) {
			continue
		}
		held = append(held, fmt.Sprintf("%s (pid %d, since %s)", u, marker.PID, marker.StartedAt.Local().Format("2006-01-02 15:04")))
	}
	if len(held) > 0 {
		return fmt.Errorf("session markers left by exited processes: %v; start with 'guardian run --force' to take over", held)
	}
	return nil
}

var findProcess = ps.FindProcess

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := findProcess(pid)
	return err == nil && p != nil
}

func checkBackupsPresent(ctx *cli.Context) error {
	if !ctx.IsFileStore() {
		return nil
	}
	backups, err := backup.NewManager(ctx.Store.GetConfigPath()).List()
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}
	if len(backups) == 0 {
		return fmt.Errorf("no backups found - consider creating one with 'guardian backup create'")
	}
	return nil
}

func checkConfig(ctx *cli.Context) error {
	return ctx.Config.Validate()
}

func checkKeyring(ctx *cli.Context) error {
	if !keyring.IsAvailable() {
		return keyring.ErrKeyringUnavailable
	}
	return nil
}

func checkTextgen(ctx *cli.Context) error {
	if ctx.Config.Textgen.Provider != constants.TextgenProviderGemini {
		return nil
	}
	if _, err := keyring.Get(keyring.SecretGemini); err != nil {
		return fmt.Errorf("gemini provider selected but no API key is stored (guardian secret set gemini): %w", err)
	}
	return nil
}

func checkClockTimezone(ctx *cli.Context) error {
	now := time.Now()
	if now.Year() < 2020 || now.Year() > 2100 {
		return fmt.Errorf("system time appears incorrect: %s", now.Format(time.RFC3339))
	}
	return nil
}
