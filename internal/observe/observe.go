// Package observe writes the append-only NDJSON record of everything a
// session emits: every bus message and every risk level transition.
package observe

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/julianstephens/guardian/internal/clock"
	"github.com/julianstephens/guardian/internal/config"
	"github.com/julianstephens/guardian/internal/constants"
	"github.com/julianstephens/guardian/internal/logger"
)

// Record types that are not bus message types.
const (
	TypeRiskTransition = "RiskTransition"
	TypeSessionStarted = "SessionStarted"
)

// Record is one NDJSON line.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Payload   any       `json:"payload"`
}

// Sink receives structured records. Implementations must preserve the
// order of Emit calls.
type Sink interface {
	Emit(recordType string, payload any)
}

// Writer is a Sink that encodes records to an io.Writer, one per line.
type Writer struct {
	mu    sync.Mutex
	enc   *json.Encoder
	out   io.Writer
	clock clock.Clock
}

func NewWriter(w io.Writer, clk clock.Clock) *Writer {
	if clk == nil {
		clk = clock.Real()
	}
	return &Writer{enc: json.NewEncoder(w), out: w, clock: clk}
}

// Open returns a rotating file sink. An empty cfg.Path resolves to
// <configDir>/observe/events.ndjson.
func Open(cfg config.ObserveConfig, configDir string, clk clock.Clock) (*Writer, error) {
	path := cfg.Path
	if path == "" {
		path = filepath.Join(configDir, constants.ObserveDirName, constants.ObserveFileName)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create observe directory: %w", err)
	}

	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
	}
	return NewWriter(lj, clk), nil
}

// Emit appends one record. Encoding failures are logged and the record is
// dropped; observability never interrupts a session.
func (w *Writer) Emit(recordType string, payload any) {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec := Record{Timestamp: w.clock.Now().UTC(), Type: recordType, Payload: payload}
	if err := w.enc.Encode(rec); err != nil {
		logger.Warn("failed to write observe record", "type", recordType, "error", err)
	}
}

// Close closes the underlying writer when it is closable.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if c, ok := w.out.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Discard drops every record.
var Discard Sink = discard{}

type discard struct{}

func (discard) Emit(string, any) {}

// Tee fans every record out to each sink in order.
func Tee(sinks ...Sink) Sink {
	return tee(sinks)
}

type tee []Sink

func (t tee) Emit(recordType string, payload any) {
	for _, s := range t {
		s.Emit(recordType, payload)
	}
}
