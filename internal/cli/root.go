package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/julianstephens/guardian/internal/backup"
	"github.com/julianstephens/guardian/internal/clock"
	"github.com/julianstephens/guardian/internal/config"
	"github.com/julianstephens/guardian/internal/constants"
	"github.com/julianstephens/guardian/internal/keyring"
	"github.com/julianstephens/guardian/internal/logger"
	"github.com/julianstephens/guardian/internal/models"
	"github.com/julianstephens/guardian/internal/storage"
	"github.com/julianstephens/guardian/internal/storage/firestore"
	"github.com/julianstephens/guardian/internal/storage/memory"
	"github.com/julianstephens/guardian/internal/storage/postgres"
	"github.com/julianstephens/guardian/internal/storage/sqlite"
	"github.com/julianstephens/guardian/internal/utils"
)

// Context is handed to every command's Run method.
type Context struct {
	Store     storage.Provider
	Repo      *storage.Repository
	Config    config.Config
	ConfigDir string
	// ConfigFile is the resolved path of guardian.yaml.
	ConfigFile string
	UserID     string
	Clock      clock.Clock
}

// NewContext wraps store in a repository and fills defaults.
func NewContext(store storage.Provider, cfg config.Config, configDir, userID string) *Context {
	return &Context{
		Store:      store,
		Repo:       storage.NewRepository(store),
		Config:     cfg,
		ConfigDir:  configDir,
		ConfigFile: filepath.Join(configDir, constants.DefaultConfigFile),
		UserID:     userID,
		Clock:      clock.Real(),
	}
}

// User returns the --user flag, or an error telling the user to set it.
func (c *Context) User() (string, error) {
	if strings.TrimSpace(c.UserID) == "" {
		return "", errors.New("a user id is required (use --user or GUARDIAN_USER)")
	}
	return c.UserID, nil
}

// IsFileStore reports whether the store lives in a local file that can be
// backed up.
func (c *Context) IsFileStore() bool {
	switch s := c.Store.(type) {
	case *sqlite.Store:
		return true
	case *memory.Store:
		return !s.IsVolatile()
	}
	return false
}

// PerformAutomaticBackup creates an automatic backup and silently handles errors
func (c *Context) PerformAutomaticBackup() {
	if !c.IsFileStore() {
		logger.Debug("Skipping automatic backup for non-file store")
		return
	}
	backup.Auto(c.Store.GetConfigPath())
}

// ResolveDSN picks the storage location. An explicit flag wins, then the
// environment, then the OS keyring, then the default SQLite file. Only the
// flag is checked for embedded credentials; the other sources are private.
func ResolveDSN(flag, configDir string, getenv func(string) string, secret func() (string, error)) (string, error) {
	if flag != "" {
		if postgres.IsURL(flag) || strings.Contains(flag, "host=") {
			if _, err := postgres.ValidateConnString(flag); err != nil {
				if errors.Is(err, postgres.ErrEmbeddedCredentials) {
					return "", fmt.Errorf("PostgreSQL connection strings with embedded credentials are not allowed on the command line; store it with 'guardian secret set db' or export %s", constants.EnvDBConnection)
				}
				return "", err
			}
		}
		return flag, nil
	}
	if getenv != nil {
		if v := getenv(constants.EnvDBConnection); v != "" {
			return v, nil
		}
	}
	if secret != nil {
		if v, err := secret(); err == nil && v != "" {
			return v, nil
		} else if err != nil && !errors.Is(err, keyring.ErrNotFound) && !errors.Is(err, keyring.ErrKeyringUnavailable) {
			logger.Warn("Failed to read connection string from keyring", "error", err)
		}
	}
	return filepath.Join(configDir, constants.DefaultDBFile), nil
}

// OpenProvider builds the storage backend a DSN names:
//
//	postgres://... or key=value DSN   PostgreSQL
//	firestore://<project>             Cloud Firestore
//	memory://                         in-process map, lost on exit
//	*.json                            JSON snapshot file
//	anything else                     SQLite file
func OpenProvider(dsn string) (storage.Provider, error) {
	switch {
	case dsn == "memory://":
		return memory.NewStore(), nil
	case strings.HasPrefix(dsn, "firestore://"):
		project := strings.TrimSuffix(strings.TrimPrefix(dsn, "firestore://"), "/")
		if project == "" {
			return nil, errors.New("firestore DSN needs a project id: firestore://<project>")
		}
		return firestore.NewStore(project), nil
	case postgres.IsURL(dsn) || strings.Contains(dsn, "host="):
		return postgres.New(dsn), nil
	}

	path, err := utils.ExpandPath(dsn)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return memory.NewFileStore(path), nil
	}
	return sqlite.NewStore(path), nil
}

// ParseTask parses name:category:minutes[:load]. Load defaults to medium.
func ParseTask(s string) (models.Task, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 3 || len(parts) > 4 {
		return models.Task{}, fmt.Errorf("invalid task %q (expected name:category:minutes[:load])", s)
	}
	name := strings.TrimSpace(parts[0])
	if name == "" {
		return models.Task{}, fmt.Errorf("invalid task %q: name is empty", s)
	}
	minutes, err := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err != nil || minutes <= 0 {
		return models.Task{}, fmt.Errorf("invalid task %q: minutes must be a positive integer", s)
	}
	load := models.LoadMedium
	if len(parts) == 4 {
		load = models.LoadTag(strings.ToLower(strings.TrimSpace(parts[3])))
		if !load.Valid() {
			return models.Task{}, fmt.Errorf("invalid task %q: load must be high, medium or low", s)
		}
	}
	return models.Task{
		Name:        name,
		Category:    strings.TrimSpace(parts[1]),
		DurationMin: minutes,
		Load:        load,
		Status:      models.TaskPending,
	}, nil
}

// KeyringDSN reads the database secret for ResolveDSN.
func KeyringDSN() (string, error) {
	return keyring.Get(keyring.SecretDB)
}

// Getenv is os.Getenv, split out so tests can swap the environment.
var Getenv = os.Getenv

// PrintJSON writes v to stdout as indented JSON.
func PrintJSON(v any) error {
	jsonBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Println(string(jsonBytes))
	return nil
}
