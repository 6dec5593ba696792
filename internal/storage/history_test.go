package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func readRecords(t *testing.T, path string) []Record {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	var out []Record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("decode line %q: %v", sc.Text(), err)
		}
		out = append(out, rec)
	}
	return out
}

func TestHistoryWritesDailyFiles(t *testing.T) {
	dir := t.TempDir()
	h := NewHistory(dir, 8, 1)

	day1 := time.Date(2024, 3, 1, 23, 59, 0, 0, time.UTC)
	day2 := day1.Add(2 * time.Minute)
	if err := h.Append(Record{Time: day1, Link: "https://a.com", Outcome: "resolved", Elapsed: 1.5}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := h.Append(Record{Time: day2, Link: "https://b.com/x.pdf", Outcome: "file", Elapsed: -1}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	first := readRecords(t, filepath.Join(dir, "2024-03-01", "history.jsonl"))
	if len(first) != 1 || first[0].Link != "https://a.com" || first[0].Elapsed != 1.5 {
		t.Fatalf("day one records = %+v", first)
	}
	second := readRecords(t, filepath.Join(dir, "2024-03-02", "history.jsonl"))
	if len(second) != 1 || second[0].Outcome != "file" {
		t.Fatalf("day two records = %+v", second)
	}
}

func TestHistoryRejectsAfterClose(t *testing.T) {
	h := NewHistory(t.TempDir(), 1, 1)
	if err := h.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := h.Append(Record{Link: "x"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Append() error = %v; want %v", err, ErrClosed)
	}
}
