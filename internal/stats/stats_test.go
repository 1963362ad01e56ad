package stats

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/termagent/internal/config"
)

func TestRecorder_AppendsNDJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.ndjson")
	rec := NewRecorder(&config.UsageStats{Enabled: true, File: path})

	rec.Record(Entry{Provider: "openai", Model: "gpt-4o-mini",
		RequestCount: 1, InputTokens: 10, OutputTokens: 5, TotalTokens: 15, HasUsage: true})
	rec.Record(Entry{Provider: "groq", Model: "llama-3.1-70b", RequestCount: 1})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d: %q", len(lines), data)
	}
	entries, err := readEntries(path)
	if err != nil {
		t.Fatal(err)
	}
	if entries[0].TS == "" {
		t.Error("timestamp not filled")
	}
	if entries[0].TotalTokens != 15 || entries[1].Provider != "groq" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestRecorder_DisabledIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.ndjson")
	rec := NewRecorder(&config.UsageStats{Enabled: false, File: path})
	rec.Record(Entry{Provider: "openai"})
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("disabled recorder wrote a file")
	}

	NewRecorder(nil).Record(Entry{Provider: "openai"}) // must not panic
}

func TestReadEntries_ToleratesPartialLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.ndjson")
	content := `{"ts":"2026-08-01T00:00:00Z","provider":"openai","model":"m","request_count":1,"total_tokens":5,"has_usage":true}
not json at all
{"ts":"2026-08-02T00:00:00Z","provider":"openai","model":"m","request_count":1,"total_tokens":7,"has_usage":true}
{"ts":"2026-08-03T00:00:00Z","provider":"op`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	entries, err := readEntries(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("entries = %+v", entries)
	}
}

func TestBuildReport_AggregatesAndRanks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.ndjson")
	rec := NewRecorder(&config.UsageStats{Enabled: true, File: path})
	now := time.Now().UTC().Format(time.RFC3339)
	rec.Record(Entry{TS: now, Provider: "openai", Model: "gpt-4o-mini", RequestCount: 1, TotalTokens: 100, HasUsage: true})
	rec.Record(Entry{TS: now, Provider: "openai", Model: "gpt-4o-mini", RequestCount: 1, TotalTokens: 50, HasUsage: true})
	rec.Record(Entry{TS: now, Provider: "groq", Model: "llama-3.1-70b", RequestCount: 1, TotalTokens: 500, HasUsage: true})
	rec.Record(Entry{TS: now, Provider: "local", Model: "tiny", RequestCount: 1})

	report, err := BuildReport(&config.UsageStats{Enabled: true, File: path}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if report.Entries != 4 || report.Requests != 4 || report.TotalTokens != 650 {
		t.Errorf("report = %+v", report)
	}
	if report.WithUsage != 3 {
		t.Errorf("WithUsage = %d", report.WithUsage)
	}
	if len(report.ByModel) != 2 {
		t.Fatalf("ByModel = %+v", report.ByModel)
	}
	if report.ByModel[0].Model != "llama-3.1-70b" || report.ByModel[1].TotalTokens != 150 {
		t.Errorf("ranking wrong: %+v", report.ByModel)
	}
}

func TestCompact_DropsExpiredEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.ndjson")
	rec := NewRecorder(&config.UsageStats{Enabled: true, File: path})
	old := time.Now().AddDate(0, 0, -60).UTC().Format(time.RFC3339)
	fresh := time.Now().UTC().Format(time.RFC3339)
	rec.Record(Entry{TS: old, Provider: "openai", Model: "m", RequestCount: 1})
	rec.Record(Entry{TS: fresh, Provider: "openai", Model: "m", RequestCount: 1})

	if err := Compact(path, &config.UsageStats{RetentionDays: 30}); err != nil {
		t.Fatal(err)
	}
	entries, err := readEntries(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].TS != fresh {
		t.Errorf("entries = %+v", entries)
	}
}

func TestCompact_TrimsToByteTarget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.ndjson")
	rec := NewRecorder(&config.UsageStats{Enabled: true, File: path})
	now := time.Now().UTC()
	for i := 0; i < 100; i++ {
		rec.Record(Entry{
			TS:       now.Add(time.Duration(i) * time.Second).Format(time.RFC3339),
			Provider: "openai", Model: "gpt-4o-mini", RequestCount: 1, TotalTokens: i,
		})
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}

	maxBytes := info.Size() / 2
	if err := Compact(path, &config.UsageStats{MaxBytes: maxBytes, RetentionDays: 365}); err != nil {
		t.Fatal(err)
	}

	after, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	target := int64(float64(maxBytes) * compactTargetRatio)
	if after.Size() > target {
		t.Errorf("size = %d, want <= %d", after.Size(), target)
	}

	// Oldest entries are the ones dropped.
	entries, err := readEntries(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 || entries[0].TotalTokens == 0 {
		t.Errorf("oldest entries should be dropped first: %+v", entries[:1])
	}
}

func TestCompact_MissingFileIsFine(t *testing.T) {
	if err := Compact(filepath.Join(t.TempDir(), "absent.ndjson"), nil); err != nil {
		t.Fatal(err)
	}
}
