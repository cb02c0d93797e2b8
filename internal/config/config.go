// Package config loads the guardian policy file.
//
// The file is optional: a missing guardian.yaml yields Default(). Values in
// the file override defaults field by field, then Validate enforces the
// relations between them (thresholds ordered, weights ordered, positive
// counts and durations).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/julianstephens/guardian/internal/constants"
	"github.com/julianstephens/guardian/internal/models"
	"github.com/julianstephens/guardian/internal/utils"
)

// Config is the full policy configuration.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Signal   SignalConfig   `yaml:"signal"`
	Risk     RiskConfig     `yaml:"risk"`
	Sentinel SentinelConfig `yaml:"sentinel"`
	Coach    CoachConfig    `yaml:"coach"`
	Planner  PlannerConfig  `yaml:"planner"`
	Calendar CalendarConfig `yaml:"calendar"`
	Textgen  TextgenConfig  `yaml:"textgen"`
	Notifier NotifierConfig `yaml:"notifier"`
	Observe  ObserveConfig  `yaml:"observe"`
}

type LogConfig struct {
	// Level is a charmbracelet/log level name. Empty keeps the CLI default.
	Level string `yaml:"level"`
}

// SignalConfig configures the signal aggregator.
type SignalConfig struct {
	DistressWeight float64 `yaml:"distress_weight"`
	SkipWeight     float64 `yaml:"skip_weight"`
	DurationWeight float64 `yaml:"duration_weight"`
	// OverworkMinutes is the work period that normalizes to one duration unit.
	OverworkMinutes int `yaml:"overwork_minutes"`
}

// RiskConfig configures thresholds and hysteresis of the risk evaluator.
type RiskConfig struct {
	ThresholdElevated     float64 `yaml:"threshold_elevated"`
	ThresholdHigh         float64 `yaml:"threshold_high"`
	WindowSize            int     `yaml:"window_size"`
	WindowMinutes         int     `yaml:"window_minutes"`
	EscalateConfirmations int     `yaml:"escalate_confirmations"`
	CalmConfirmations     int     `yaml:"calm_confirmations"`
	DedupeWindow          int     `yaml:"dedupe_window"`
}

type SentinelConfig struct {
	CycleInteractions int           `yaml:"cycle_interactions"`
	CycleInterval     time.Duration `yaml:"cycle_interval"`
}

type CoachConfig struct {
	OfferTimeout time.Duration `yaml:"offer_timeout"`
	AvoidWindow  time.Duration `yaml:"avoid_window"`
}

type PlannerConfig struct {
	SessionMinutes   int `yaml:"session_minutes"`
	ToleranceMinutes int `yaml:"tolerance_minutes"`
	BreakMinutes     int `yaml:"break_minutes"`
}

// CalendarConfig describes the local availability source.
type CalendarConfig struct {
	Busy []models.TimeRange `yaml:"busy"`
	// FocusBlocks enables 50/10 pacing: every FocusBlockMinutes of free time
	// reserves FocusBreakMinutes that are not counted as available.
	FocusBlocks       bool `yaml:"focus_blocks"`
	FocusBlockMinutes int  `yaml:"focus_block_minutes"`
	FocusBreakMinutes int  `yaml:"focus_break_minutes"`
}

type TextgenConfig struct {
	Provider string        `yaml:"provider"`
	Model    string        `yaml:"model"`
	Project  string        `yaml:"project"`
	Region   string        `yaml:"region"`
	Timeout  time.Duration `yaml:"timeout"`
}

type NotifierConfig struct {
	Enabled bool `yaml:"enabled"`
}

type ObserveConfig struct {
	// Path of the NDJSON sink. Empty means <config dir>/observe/events.ndjson.
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Default returns the built-in policy.
func Default() Config {
	return Config{
		Signal: SignalConfig{
			DistressWeight:  constants.DefaultDistressWeight,
			SkipWeight:      constants.DefaultSkipWeight,
			DurationWeight:  constants.DefaultDurationWeight,
			OverworkMinutes: constants.DefaultOverworkMin,
		},
		Risk: RiskConfig{
			ThresholdElevated:     constants.DefaultThresholdElevated,
			ThresholdHigh:         constants.DefaultThresholdHigh,
			WindowSize:            constants.DefaultWindowSize,
			WindowMinutes:         constants.DefaultWindowMinutes,
			EscalateConfirmations: constants.DefaultEscalateConfirmations,
			CalmConfirmations:     constants.DefaultCalmConfirmations,
			DedupeWindow:          constants.DefaultReadingDedupeWindow,
		},
		Sentinel: SentinelConfig{
			CycleInteractions: constants.DefaultCycleInteractions,
			CycleInterval:     constants.DefaultCycleInterval,
		},
		Coach: CoachConfig{
			OfferTimeout: constants.DefaultOfferTimeout,
			AvoidWindow:  constants.DefaultAvoidWindow,
		},
		Planner: PlannerConfig{
			SessionMinutes:   constants.DefaultSessionMinutes,
			ToleranceMinutes: constants.DefaultToleranceMinutes,
			BreakMinutes:     constants.DefaultBreakMinutes,
		},
		Calendar: CalendarConfig{
			FocusBlockMinutes: constants.DefaultFocusBlockMin,
			FocusBreakMinutes: constants.DefaultFocusBreakMin,
		},
		Textgen: TextgenConfig{
			Provider: constants.TextgenProviderMock,
			Model:    constants.DefaultTextgenModel,
			Region:   constants.DefaultTextgenRegion,
			Timeout:  constants.DefaultTextgenTimeout,
		},
		Observe: ObserveConfig{
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	expanded, err := utils.ExpandPath(path)
	if err != nil {
		return cfg, err
	}

	data, err := os.ReadFile(expanded)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", expanded, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config file %s: %w", expanded, err)
	}
	return cfg, nil
}

// Save writes cfg as YAML, creating parent directories.
func Save(path string, cfg Config) error {
	expanded, err := utils.ExpandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(expanded, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks the policy relations. All violations are reported together.
func (c Config) Validate() error {
	var errs []error

	s := c.Signal
	if s.DurationWeight <= 0 {
		errs = append(errs, fmt.Errorf("signal.duration_weight must be positive"))
	}
	if s.DistressWeight < s.SkipWeight || s.SkipWeight < s.DurationWeight {
		errs = append(errs, fmt.Errorf("signal weights must satisfy distress >= skip >= duration (got %.2f, %.2f, %.2f)",
			s.DistressWeight, s.SkipWeight, s.DurationWeight))
	}
	if s.OverworkMinutes <= 0 {
		errs = append(errs, fmt.Errorf("signal.overwork_minutes must be positive"))
	}

	r := c.Risk
	if r.ThresholdElevated <= 0 || r.ThresholdHigh <= r.ThresholdElevated {
		errs = append(errs, fmt.Errorf("risk thresholds must satisfy 0 < threshold_elevated < threshold_high (got %.2f, %.2f)",
			r.ThresholdElevated, r.ThresholdHigh))
	}
	if r.WindowSize <= 0 || r.WindowMinutes <= 0 {
		errs = append(errs, fmt.Errorf("risk window_size and window_minutes must be positive"))
	}
	if r.EscalateConfirmations < 1 || r.CalmConfirmations < 1 {
		errs = append(errs, fmt.Errorf("risk confirmation counts must be at least 1"))
	}
	if r.DedupeWindow < 0 {
		errs = append(errs, fmt.Errorf("risk.dedupe_window must not be negative"))
	}

	if c.Sentinel.CycleInteractions < 1 || c.Sentinel.CycleInterval <= 0 {
		errs = append(errs, fmt.Errorf("sentinel cadence must be positive"))
	}
	if c.Coach.OfferTimeout <= 0 {
		errs = append(errs, fmt.Errorf("coach.offer_timeout must be positive"))
	}
	if c.Coach.AvoidWindow < 0 {
		errs = append(errs, fmt.Errorf("coach.avoid_window must not be negative"))
	}

	p := c.Planner
	if p.SessionMinutes <= 0 || p.ToleranceMinutes < 0 || p.BreakMinutes < constants.MinBreakMin {
		errs = append(errs, fmt.Errorf("planner requires positive session_minutes, non-negative tolerance and break_minutes >= %d", constants.MinBreakMin))
	}

	for _, b := range c.Calendar.Busy {
		if !utils.ValidateTimeFormat(b.Start) || !utils.ValidateTimeFormat(b.End) {
			errs = append(errs, fmt.Errorf("calendar busy range %s-%s must use HH:MM", b.Start, b.End))
		}
	}
	if c.Calendar.FocusBlocks && (c.Calendar.FocusBlockMinutes <= 0 || c.Calendar.FocusBreakMinutes < 0) {
		errs = append(errs, fmt.Errorf("calendar focus block lengths must be positive"))
	}

	switch c.Textgen.Provider {
	case constants.TextgenProviderMock, constants.TextgenProviderVertex, constants.TextgenProviderGemini:
	default:
		errs = append(errs, fmt.Errorf("unknown textgen.provider %q", c.Textgen.Provider))
	}
	if c.Textgen.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("textgen.timeout must be positive"))
	}

	return errors.Join(errs...)
}
