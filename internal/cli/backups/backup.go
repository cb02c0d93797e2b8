package backups

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"

	"github.com/julianstephens/guardian/internal/backup"
	"github.com/julianstephens/guardian/internal/cli"
	"github.com/julianstephens/guardian/internal/constants"
)

var errNotFileStore = errors.New("backups are only supported for SQLite and JSON file storage")

type BackupCreateCmd struct{}

func (c *BackupCreateCmd) Run(ctx *cli.Context) error {
	if !ctx.IsFileStore() {
		return errNotFileStore
	}
	backupPath, err := backup.NewManager(ctx.Store.GetConfigPath()).Create()
	if err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}

	fmt.Println(cli.OkStyle.Render("✓ Backup created: " + filepath.Base(backupPath)))
	return nil
}

type BackupListCmd struct{}

func (c *BackupListCmd) Run(ctx *cli.Context) error {
	if !ctx.IsFileStore() {
		return errNotFileStore
	}
	mgr := backup.NewManager(ctx.Store.GetConfigPath())
	backups, err := mgr.List()
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}

	if len(backups) == 0 {
		fmt.Println("No backups found.")
		fmt.Printf("Backups are stored in: %s\n", mgr.Dir())
		return nil
	}

	fmt.Println(cli.TitleStyle.Render(fmt.Sprintf("Available backups (%d total, keeping most recent %d)", len(backups), constants.MaxBackups)))
	fmt.Println()
	for _, b := range backups {
		sizeKB := float64(b.Size) / 1024.0
		timestamp := b.Timestamp.Format("2006-01-02 15:04:05")
		fmt.Printf("  %s  %s  %s\n", timestamp, filepath.Base(b.Path), cli.DimStyle.Render(fmt.Sprintf("(%.1f KB)", sizeKB)))
	}
	fmt.Printf("\nBackup directory: %s\n", mgr.Dir())
	return nil
}

type BackupRestoreCmd struct {
	BackupFile string `arg:"" help:"Path or filename of the backup to restore."`
	Yes        bool   `short:"y" help:"Skip the confirmation prompt."`
}

// confirm asks before a destructive action. Swapped out in tests.
var confirm = func(title, description string) (bool, error) {
	ok := false
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Description(description).
				Affirmative("Restore").
				Negative("Cancel").
				Value(&ok),
		),
	).WithTheme(huh.ThemeDracula()).Run()
	return ok, err
}

func (c *BackupRestoreCmd) Run(ctx *cli.Context) error {
	if !ctx.IsFileStore() {
		return errNotFileStore
	}
	mgr := backup.NewManager(ctx.Store.GetConfigPath())

	backupPath, err := mgr.Resolve(c.BackupFile)
	if err != nil {
		return err
	}

	fmt.Println(cli.WarningStyle.Render("⚠️  This will replace your current database with the backup."))
	fmt.Println(cli.WarningStyle.Render("⚠️  Stop every running guardian session before restoring."))

	if !c.Yes {
		ok, err := confirm(
			"Restore "+filepath.Base(backupPath)+"?",
			"A backup of the current database is created first.",
		)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Restore cancelled.")
			return nil
		}
	}

	// Close the current store connection before restoring
	if err := ctx.Store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close database connection: %v\n", err)
	}

	safety, err := mgr.Restore(backupPath)
	if err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}

	fmt.Println(cli.OkStyle.Render("✓ Database restored successfully!"))
	if safety != "" {
		fmt.Printf("  Previous database saved as %s\n", filepath.Base(safety))
	}
	return nil
}
