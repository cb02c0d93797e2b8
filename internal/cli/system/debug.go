package system

import (
	"context"
	"errors"
	"fmt"

	"github.com/julianstephens/guardian/internal/cli"
	"github.com/julianstephens/guardian/internal/storage"
)

type DebugCmd struct {
	DBPath      DebugDBPathCmd      `cmd:"" help:"Show database path."`
	DumpProfile DebugDumpProfileCmd `cmd:"" help:"Dump the user profile as JSON."`
	DumpSession DebugDumpSessionCmd `cmd:"" help:"Dump a stored session record as JSON."`
}

type DebugDBPathCmd struct{}

func (cmd *DebugDBPathCmd) Run(ctx *cli.Context) error {
	return cli.PrintJSON(map[string]string{
		"path":   ctx.Store.GetConfigPath(),
		"config": ctx.ConfigFile,
	})
}

type DebugDumpProfileCmd struct{}

func (cmd *DebugDumpProfileCmd) Run(ctx *cli.Context) error {
	user, err := ctx.User()
	if err != nil {
		return err
	}
	if err := ctx.Store.Load(); err != nil {
		return fmt.Errorf("failed to load database: %w", err)
	}

	profile, err := ctx.Repo.LoadProfile(context.Background(), user)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("no profile found for user: %s", user)
	}
	if err != nil {
		return fmt.Errorf("failed to get profile: %w", err)
	}
	return cli.PrintJSON(profile)
}

type DebugDumpSessionCmd struct {
	ID string `arg:"" help:"Session id (or a unique prefix)."`
}

func (cmd *DebugDumpSessionCmd) Run(ctx *cli.Context) error {
	user, err := ctx.User()
	if err != nil {
		return err
	}
	if err := ctx.Store.Load(); err != nil {
		return fmt.Errorf("failed to load database: %w", err)
	}

	records, err := ctx.Repo.ListSessionRecords(context.Background(), user)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	var match []int
	for i, rec := range records {
		if len(cmd.ID) <= len(rec.SessionID) && rec.SessionID[:len(cmd.ID)] == cmd.ID {
			match = append(match, i)
		}
	}
	switch len(match) {
	case 0:
		return fmt.Errorf("session not found: %s", cmd.ID)
	case 1:
		return cli.PrintJSON(records[match[0]])
	default:
		return fmt.Errorf("session id prefix %q is ambiguous (%d matches)", cmd.ID, len(match))
	}
}
