package constants

import "time"

const (
	AppName            = "guardian"
	DefaultKeyringUser = "database-connection"
	GeminiKeyringUser  = "gemini-api-key"
	DefaultConfigDir   = "~/.config/guardian"
	DefaultConfigFile  = "guardian.yaml"
	DefaultDBFile      = "guardian.db"
	Version            = "v0.1.0"

	// EnvDBConnection holds a database DSN, credentials allowed.
	EnvDBConnection = "GUARDIAN_DB_CONNECTION"

	// DateFormat is the standard date format used throughout the application (YYYY-MM-DD)
	DateFormat = "2006-01-02"

	// TimeFormat is the standard time format used throughout the application (HH:MM)
	TimeFormat = "15:04"

	// Backup constants
	MaxBackups       = 14
	BackupDirName    = "backups"
	BackupFilePrefix = "guardian-"
	BackupFileSuffix = ".db"

	// Notify constants
	NotifierLockfileName   = "guardian-notifier.lock"
	NotificationDurationMs = 8000
	TrayAppIdentifier      = "com.julianstephens.guardian"

	// Storage keys (per user)
	KeyProfile       = "profile"
	KeyActiveSession = "session/active"
	KeySessionPrefix = "session/record/"

	// Observability
	ObserveDirName  = "observe"
	ObserveFileName = "events.ndjson"

	// Bus
	BusDedupeWindow = 1024

	// Text generation
	TextgenProviderMock   = "mock"
	TextgenProviderVertex = "vertex"
	TextgenProviderGemini = "gemini"
	DefaultTextgenModel   = "gemini-2.5-flash"
	DefaultTextgenRegion  = "us-central1"

	// Planner
	BreakCategory = "break"
	MinBreakMin   = 5

	// Session shutdown
	CloseTimeout = 30 * time.Second
)
