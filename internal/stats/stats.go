// Package stats maintains the append-only NDJSON usage log and its
// on-demand report/compaction.
package stats

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/nextlevelbuilder/termagent/internal/config"
)

const (
	defaultStatsFile     = "agent.stats.ndjson"
	defaultRetentionDays = 30
	defaultMaxBytes      = 5 << 20

	// Compaction trims the file down to roughly this share of maxBytes so
	// it does not re-trigger on the very next append.
	compactTargetRatio = 0.7
)

// Entry is one NDJSON usage record.
type Entry struct {
	TS           string `json:"ts"`
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	RequestCount int    `json:"request_count"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	TotalTokens  int    `json:"total_tokens"`
	HasUsage     bool   `json:"has_usage"`
	EventType    string `json:"event_type,omitempty"`
}

// Recorder appends usage entries. Writes are fire-and-forget: failures
// are logged at debug level and never surface to the turn loop.
type Recorder struct {
	path    string
	enabled bool
}

// NewRecorder builds a recorder from the usage-stats config block; a nil
// or disabled block yields a no-op recorder.
func NewRecorder(cfg *config.UsageStats) *Recorder {
	if cfg == nil || !cfg.Enabled {
		return &Recorder{}
	}
	path := cfg.File
	if path == "" {
		path = defaultStatsFile
	}
	return &Recorder{path: path, enabled: true}
}

func (r *Recorder) Enabled() bool { return r.enabled }

// Record appends one entry. The timestamp is filled when empty.
func (r *Recorder) Record(e Entry) {
	if !r.enabled {
		return
	}
	if e.TS == "" {
		e.TS = time.Now().UTC().Format(time.RFC3339)
	}
	line, err := json.Marshal(e)
	if err != nil {
		slog.Debug("usage stats marshal failed", "error", err)
		return
	}
	f, err := os.OpenFile(r.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		slog.Debug("usage stats open failed", "error", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		slog.Debug("usage stats write failed", "error", err)
	}
}

// readEntries parses the NDJSON file, tolerating malformed and partial
// lines (the writer is fire-and-forget, so a truncated tail is normal).
func readEntries(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

// ModelUsage is one aggregated report row.
type ModelUsage struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	Requests     int    `json:"requests"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	TotalTokens  int    `json:"total_tokens"`
}

// Report is the aggregated view over the usage file.
type Report struct {
	Entries       int          `json:"entries"`
	Requests      int          `json:"requests"`
	TotalTokens   int          `json:"total_tokens"`
	WithUsage     int          `json:"entries_with_usage"`
	ByModel       []ModelUsage `json:"by_model"`
	OldestEntryTS string       `json:"oldest_entry_ts,omitempty"`
	NewestEntryTS string       `json:"newest_entry_ts,omitempty"`
}

// BuildReport compacts the file per the retention policy, then
// aggregates per provider/model, keeping the topN rows by total tokens
// (0 keeps everything).
func BuildReport(cfg *config.UsageStats, topN int) (*Report, error) {
	path := defaultStatsFile
	if cfg != nil && cfg.File != "" {
		path = cfg.File
	}

	if err := Compact(path, cfg); err != nil {
		return nil, fmt.Errorf("compact %s: %w", path, err)
	}

	entries, err := readEntries(path)
	if err != nil {
		return nil, err
	}

	report := &Report{Entries: len(entries)}
	byModel := map[string]*ModelUsage{}
	for _, e := range entries {
		report.Requests += e.RequestCount
		report.TotalTokens += e.TotalTokens
		if e.HasUsage {
			report.WithUsage++
		}
		if report.OldestEntryTS == "" || e.TS < report.OldestEntryTS {
			report.OldestEntryTS = e.TS
		}
		if e.TS > report.NewestEntryTS {
			report.NewestEntryTS = e.TS
		}

		key := e.Provider + "/" + e.Model
		row, ok := byModel[key]
		if !ok {
			row = &ModelUsage{Provider: e.Provider, Model: e.Model}
			byModel[key] = row
		}
		row.Requests += e.RequestCount
		row.InputTokens += e.InputTokens
		row.OutputTokens += e.OutputTokens
		row.TotalTokens += e.TotalTokens
	}

	for _, row := range byModel {
		report.ByModel = append(report.ByModel, *row)
	}
	sort.Slice(report.ByModel, func(i, j int) bool {
		if report.ByModel[i].TotalTokens != report.ByModel[j].TotalTokens {
			return report.ByModel[i].TotalTokens > report.ByModel[j].TotalTokens
		}
		return report.ByModel[i].Model < report.ByModel[j].Model
	})
	if topN > 0 && len(report.ByModel) > topN {
		report.ByModel = report.ByModel[:topN]
	}
	return report, nil
}

// Compact drops entries older than the retention window, then, when the
// file still exceeds maxBytes, drops oldest entries until the rewritten
// file is at most ~70% of maxBytes. Runs only on explicit reporting.
func Compact(path string, cfg *config.UsageStats) error {
	retentionDays := defaultRetentionDays
	maxBytes := int64(defaultMaxBytes)
	if cfg != nil {
		if cfg.RetentionDays > 0 {
			retentionDays = cfg.RetentionDays
		}
		if cfg.MaxBytes > 0 {
			maxBytes = cfg.MaxBytes
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	entries, err := readEntries(path)
	if err != nil {
		return err
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays).UTC().Format(time.RFC3339)
	kept := entries[:0]
	for _, e := range entries {
		if e.TS >= cutoff {
			kept = append(kept, e)
		}
	}

	needRewrite := len(kept) != len(entries)

	if info.Size() > maxBytes {
		target := int64(float64(maxBytes) * compactTargetRatio)
		size := encodedSize(kept)
		for len(kept) > 0 && size > target {
			line, _ := json.Marshal(kept[0])
			size -= int64(len(line)) + 1
			kept = kept[1:]
		}
		needRewrite = true
	}

	if !needRewrite {
		return nil
	}
	return rewriteEntries(path, kept)
}

func encodedSize(entries []Entry) int64 {
	var size int64
	for _, e := range entries {
		line, _ := json.Marshal(e)
		size += int64(len(line)) + 1
	}
	return size
}

func rewriteEntries(path string, entries []Entry) error {
	var b strings.Builder
	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			continue
		}
		b.Write(line)
		b.WriteByte('\n')
	}

	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%d", filepath.Base(path), os.Getpid()))
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
