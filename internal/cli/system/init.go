package system

import (
	"fmt"
	"os"

	"github.com/julianstephens/guardian/internal/cli"
	"github.com/julianstephens/guardian/internal/config"
)

type InitCmd struct {
	Force bool `help:"Force reset by deleting existing database before initialization."`
}

func (c *InitCmd) Run(ctx *cli.Context) error {
	if c.Force && ctx.IsFileStore() {
		dbPath := ctx.Store.GetConfigPath()
		if _, err := os.Stat(dbPath); err == nil {
			// Close first to prevent file locking issues
			if err := ctx.Store.Close(); err != nil {
				return fmt.Errorf("failed to close existing database: %w", err)
			}
			if err := os.Remove(dbPath); err != nil {
				return fmt.Errorf("failed to delete existing database: %w", err)
			}
			fmt.Printf("Deleted existing database at: %s\n", dbPath)
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("failed to access existing database: %w", err)
		}
	}

	if err := ctx.Store.Init(); err != nil {
		return err
	}
	fmt.Printf("Initialized guardian storage at: %s\n", ctx.Store.GetConfigPath())

	if _, err := os.Stat(ctx.ConfigFile); os.IsNotExist(err) {
		if err := config.Save(ctx.ConfigFile, ctx.Config); err != nil {
			return err
		}
		fmt.Printf("Wrote default policy to: %s\n", ctx.ConfigFile)
	}
	return nil
}
