package audit

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ailink/gateway/internal/domain/audit"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T, cfg FileConfig) *FileStore {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	s, err := NewFileStore(cfg, silentLogger())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestFileStore_AppendAndRecent(t *testing.T) {
	s := newTestStore(t, FileConfig{})

	rec := audit.Record{RequestID: "req-1", Timestamp: time.Now(), Model: "gpt-4o", CostUSD: 0.01}
	if err := s.Append(context.Background(), rec); err != nil {
		t.Fatalf("Append: %v", err)
	}

	recent := s.GetRecent(10)
	if len(recent) != 1 || recent[0].RequestID != "req-1" {
		t.Fatalf("GetRecent = %+v, want [req-1]", recent)
	}
}

func TestFileStore_DateRotation(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, FileConfig{Dir: dir})

	today := time.Now().UTC()
	yesterday := today.AddDate(0, 0, -1)

	if err := s.Append(context.Background(), audit.Record{RequestID: "old", Timestamp: yesterday}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(context.Background(), audit.Record{RequestID: "new", Timestamp: today}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var logFiles int
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "audit-") {
			logFiles++
		}
	}
	if logFiles < 2 {
		t.Errorf("expected at least 2 rotated log files, got %d", logFiles)
	}
}

func TestFileStore_SizeRotation(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, FileConfig{Dir: dir, MaxFileSizeMB: 0})
	s.maxFileSize = 200 // force rotation almost immediately

	now := time.Now()
	for i := 0; i < 20; i++ {
		if err := s.Append(context.Background(), audit.Record{RequestID: "req", Timestamp: now, Model: "gpt-4o-mini-long-name"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	if s.currentSuffix == 0 {
		t.Error("expected size-based rotation to bump the suffix")
	}
}

func TestFileStore_RetentionCleanup(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "audit-2000-01-01.log")
	if err := os.WriteFile(oldPath, []byte(`{}`+"\n"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	newTestStore(t, FileConfig{Dir: dir, RetentionDays: 7})

	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Error("expected stale audit file to be removed by retention cleanup")
	}
}

func TestFileStore_SpillsOversizedBodyToPayloadURL(t *testing.T) {
	s := newTestStore(t, FileConfig{PayloadThresholdBytes: 16})

	big := strings.Repeat("x", 100)
	rec := audit.Record{RequestID: "req-big", Timestamp: time.Now(), RequestBody: []byte(big)}
	if err := s.Append(context.Background(), rec); err != nil {
		t.Fatalf("Append: %v", err)
	}

	recent := s.GetRecent(1)
	if len(recent) != 1 {
		t.Fatal("expected one cached record")
	}
	if recent[0].PayloadURL == "" {
		t.Error("expected PayloadURL to be set for oversized body")
	}
	if recent[0].RequestBody != nil {
		t.Error("expected inline RequestBody to be cleared once spilled")
	}
	if !strings.HasPrefix(recent[0].PayloadURL, "file://") {
		t.Errorf("PayloadURL = %q, want file:// scheme", recent[0].PayloadURL)
	}
}

func TestFileStore_SmallBodyStaysInline(t *testing.T) {
	s := newTestStore(t, FileConfig{PayloadThresholdBytes: 1024})

	rec := audit.Record{RequestID: "req-small", Timestamp: time.Now(), RequestBody: []byte("tiny")}
	if err := s.Append(context.Background(), rec); err != nil {
		t.Fatalf("Append: %v", err)
	}

	recent := s.GetRecent(1)
	if recent[0].PayloadURL != "" {
		t.Error("small body should not be spilled")
	}
	if string(recent[0].RequestBody) != "tiny" {
		t.Errorf("RequestBody = %q, want tiny", recent[0].RequestBody)
	}
}

func TestAuditCache_RingBufferWraps(t *testing.T) {
	c := newAuditCache(3)
	for i := 0; i < 5; i++ {
		c.Add(audit.Record{RequestID: string(rune('a' + i))})
	}
	if c.Len() != 3 {
		t.Fatalf("Len = %d, want 3", c.Len())
	}
	recent := c.Recent(3)
	if recent[0].RequestID != "e" {
		t.Errorf("most recent = %q, want e", recent[0].RequestID)
	}
}
