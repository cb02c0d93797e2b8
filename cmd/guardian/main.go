package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"

	"github.com/julianstephens/guardian/internal/cli"
	"github.com/julianstephens/guardian/internal/cli/backups"
	"github.com/julianstephens/guardian/internal/cli/profiles"
	"github.com/julianstephens/guardian/internal/cli/sessions"
	"github.com/julianstephens/guardian/internal/cli/system"
	"github.com/julianstephens/guardian/internal/config"
	"github.com/julianstephens/guardian/internal/constants"
	"github.com/julianstephens/guardian/internal/errors"
	"github.com/julianstephens/guardian/internal/logger"
	"github.com/julianstephens/guardian/internal/utils"
)

var CLI struct {
	Version   kong.VersionFlag
	ConfigDir string `help:"Directory holding guardian.yaml, logs, backups and the default database." type:"string" default:"~/.config/guardian"`
	DB        string `help:"Database path, firestore://<project>, memory:// or a PostgreSQL connection string. PostgreSQL credentials must NOT be embedded here; use 'guardian secret set db' or GUARDIAN_DB_CONNECTION instead." type:"string"`
	User      string `help:"User id that sessions and profiles belong to." env:"GUARDIAN_USER"`
	Verbose   bool   `short:"v" help:"Log debug output to stderr."`

	Init    system.InitCmd      `cmd:"" help:"Initialize guardian storage and write a default config."`
	Run     sessions.RunCmd     `cmd:"" help:"Run a monitored work session." default:"1"`
	History sessions.HistoryCmd `cmd:"" help:"Show scored past sessions."`
	Profile profiles.ProfileCmd `cmd:"" help:"Show or edit the stored profile."`
	Backup  struct {
		Create  backups.BackupCreateCmd  `cmd:"" help:"Create a manual backup." default:"1"`
		List    backups.BackupListCmd    `cmd:"" help:"List available backups."`
		Restore backups.BackupRestoreCmd `cmd:"" help:"Restore from a backup."`
	} `cmd:"" help:"Manage database backups."`
	Secret system.SecretCmd `cmd:"" help:"Manage secrets in the OS keyring."`
	Doctor system.DoctorCmd `cmd:"" help:"Run health checks and diagnostics."`
	Debug  system.DebugCmd  `cmd:"" help:"Debug commands for troubleshooting."`
}

// Commands that open the store themselves, or never touch it.
var selfLoading = map[string]bool{
	"init":   true,
	"doctor": true,
	"run":    true,
	"secret": true,
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name(constants.AppName),
		kong.Description("Cognitive state guardian: watches a work session for burnout and negotiates lighter plans"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{"version": "v0.1.0"},
	)

	configDir, err := utils.ExpandPath(CLI.ConfigDir)
	if err != nil {
		errors.Fatal(err)
	}
	cfg, err := config.Load(filepath.Join(configDir, constants.DefaultConfigFile))
	if err != nil {
		errors.Fatal(err)
	}

	logCfg := logger.Config{Debug: CLI.Verbose, ConfigDir: configDir}
	if !CLI.Verbose {
		logCfg.Level = cfg.Log.Level
	}
	if err := logger.Init(logCfg); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logger: %v\n", err)
	}

	dsn, err := cli.ResolveDSN(CLI.DB, configDir, cli.Getenv, cli.KeyringDSN)
	if err != nil {
		errors.Fatal(err)
	}
	store, err := cli.OpenProvider(dsn)
	if err != nil {
		errors.Fatal(err)
	}
	appCtx := cli.NewContext(store, cfg, configDir, CLI.User)

	if sel := ctx.Selected(); sel != nil && !selfLoading[commandRoot(sel)] {
		if err := store.Load(); err != nil {
			errors.Fatal(err)
		}
	}

	err = ctx.Run(appCtx)
	if cerr := store.Close(); cerr != nil {
		logger.Warn("Failed to close store", "error", cerr)
	}
	errors.Fatal(err)
}

// commandRoot returns the name of the top-level command n belongs to.
func commandRoot(n *kong.Node) string {
	for n.Parent != nil && n.Parent.Type != kong.ApplicationNode {
		n = n.Parent
	}
	return n.Name
}
