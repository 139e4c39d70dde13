// Package telemetry writes the per-match JSONL ground truth.
//
// One file per match, one JSON object per line: every attempted turn,
// then a final match summary. The file is the authoritative record, so
// every write is fsynced before the turn loop proceeds; forwarding to
// the external store is best-effort and never blocks play.
package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SchemaVersion tags every record so downstream readers can migrate.
const SchemaVersion = "1.1.0"

// TurnRecord captures one attempted action, including retries. Retried
// turns produce one record per attempt.
type TurnRecord struct {
	RecordType       string         `json:"record_type"`
	SchemaVersion    string         `json:"schema_version"`
	MatchID          string         `json:"match_id"`
	Timestamp        string         `json:"timestamp"`
	TurnNumber       int            `json:"turn_number"`
	HandNumber       int            `json:"hand_number,omitempty"`
	Street           string         `json:"street,omitempty"`
	PlayerID         string         `json:"player_id"`
	ModelID          string         `json:"model_id"`
	ModelVersion     string         `json:"model_version,omitempty"`
	Prompt           string         `json:"prompt,omitempty"`
	PromptSHA256     string         `json:"prompt_sha256,omitempty"`
	PromptChars      int            `json:"prompt_chars,omitempty"`
	RawOutput        string         `json:"raw_output"`
	ReasoningOutput  string         `json:"reasoning_output,omitempty"`
	ParsedAction     map[string]any `json:"parsed_action,omitempty"`
	ParseSuccess     bool           `json:"parse_success"`
	ValidationResult string         `json:"validation_result,omitempty"`
	Violation        string         `json:"violation,omitempty"`
	Ruling           string         `json:"ruling,omitempty"`
	StateSnapshot    map[string]any `json:"state_snapshot,omitempty"`
	InputTokens      int            `json:"input_tokens"`
	OutputTokens     int            `json:"output_tokens"`
	LatencyMS        float64        `json:"latency_ms"`
	ShotClockMS      int64          `json:"shot_clock_ms,omitempty"`
	ShotClockExpired bool           `json:"shot_clock_expired,omitempty"`
	EngineVersion    string         `json:"engine_version,omitempty"`
	PromptVersion    string         `json:"prompt_version,omitempty"`
}

// MatchSummary is the final line of a match file.
type MatchSummary struct {
	RecordType    string                    `json:"record_type"`
	SchemaVersion string                    `json:"schema_version"`
	MatchID       string                    `json:"match_id"`
	Timestamp     string                    `json:"timestamp"`
	Event         string                    `json:"event"`
	Players       []string                  `json:"players"`
	Models        map[string]string         `json:"models"`
	Scores        map[string]float64        `json:"scores"`
	Winner        string                    `json:"winner,omitempty"`
	WinReason     string                    `json:"win_reason,omitempty"`
	Turns         int                       `json:"turns"`
	Fidelity      map[string]map[string]int `json:"fidelity"`
	MatchSeed     int64                     `json:"match_seed"`
	DurationS     float64                   `json:"duration_s"`
	Eliminated    []string                  `json:"eliminated,omitempty"`
}

// Forwarder receives records after they are durably on disk. Sink
// implementations must not block.
type Forwarder interface {
	ForwardTurn(rec TurnRecord)
	ForwardMatch(sum MatchSummary)
}

// Logger appends records to <dir>/<matchID>.jsonl.
type Logger struct {
	f       *os.File
	matchID string
	fwd     Forwarder
}

// NewLogger opens (or resumes) the match file in append mode. A nil
// forwarder disables external forwarding.
func NewLogger(dir, matchID string, fwd Forwarder) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create telemetry dir: %w", err)
	}
	path := filepath.Join(dir, matchID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open match log: %w", err)
	}
	return &Logger{f: f, matchID: matchID, fwd: fwd}, nil
}

// writeLine marshals, appends and fsyncs one record. Failure here is
// fatal to the match: the ground truth must not have holes.
func (l *Logger) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	data = append(data, '\n')
	if _, err := l.f.Write(data); err != nil {
		return fmt.Errorf("write match log: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("sync match log: %w", err)
	}
	return nil
}

// LogTurn appends a turn record, stamping identity fields.
func (l *Logger) LogTurn(rec TurnRecord) error {
	rec.RecordType = "turn"
	rec.SchemaVersion = SchemaVersion
	rec.MatchID = l.matchID
	if rec.Timestamp == "" {
		rec.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if err := l.writeLine(rec); err != nil {
		return err
	}
	if l.fwd != nil {
		l.fwd.ForwardTurn(rec)
	}
	return nil
}

// LogSummary appends the final summary record.
func (l *Logger) LogSummary(sum MatchSummary) error {
	sum.RecordType = "match_summary"
	sum.SchemaVersion = SchemaVersion
	sum.MatchID = l.matchID
	if sum.Timestamp == "" {
		sum.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if err := l.writeLine(sum); err != nil {
		return err
	}
	if l.fwd != nil {
		l.fwd.ForwardMatch(sum)
	}
	return nil
}

// Close closes the match file.
func (l *Logger) Close() error {
	return l.f.Close()
}
