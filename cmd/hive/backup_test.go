package main

import (
	"archive/tar"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/do-ops885/ai-orchestrator-hub/internal/config"
	"github.com/do-ops885/ai-orchestrator-hub/internal/registry"
	"github.com/do-ops885/ai-orchestrator-hub/internal/store"
)

func TestSplitEntryPath(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantSec string
		wantRel string
	}{
		{"store file", "store/hive.db", "store", "hive.db"},
		{"config file", "config/hive.yaml", "config", "hive.yaml"},
		{"leading dot-slash", "./store/hive.db", "store", "hive.db"},
		{"leading slash", "/config/hive.yaml", "config", "hive.yaml"},
		{"section dir", "store/", "", ""},
		{"bare section", "store", "", ""},
		{"escaping path", "store/../../etc/passwd", "", ""},
		{"unknown section", "other/file.txt", "", ""},
		{"empty string", "", "", ""},
		{"just a slash", "/", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotSec, gotRel := splitEntryPath(tt.input)
			if gotSec != tt.wantSec {
				t.Errorf("splitEntryPath(%q) section = %q, want %q", tt.input, gotSec, tt.wantSec)
			}
			if gotRel != tt.wantRel {
				t.Errorf("splitEntryPath(%q) rel = %q, want %q", tt.input, gotRel, tt.wantRel)
			}
		})
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 bytes"},
		{512, "512 bytes"},
		{1023, "1023 bytes"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{1073741824, "1.0 GB"},
		{1610612736, "1.5 GB"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := formatSize(tt.bytes)
			if got != tt.want {
				t.Errorf("formatSize(%d) = %q, want %q", tt.bytes, got, tt.want)
			}
		})
	}
}

// createTestArchive builds a zstd-compressed tar with the given entries.
func createTestArchive(t *testing.T, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.tar.zst")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		t.Fatal(err)
	}

	tw := tar.NewWriter(zw)
	for name, content := range entries {
		hdr := &tar.Header{
			Name: name,
			Mode: 0644,
			Size: int64(len(content)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	tw.Close()
	zw.Close()

	return path
}

func TestScanArchive(t *testing.T) {
	archivePath := createTestArchive(t, map[string]string{
		"store/hive.db":    "data",
		"config/hive.yaml": "web: {}",
		"other/file.txt":   "ignored",
	})

	sections, err := scanArchive(archivePath)
	if err != nil {
		t.Fatal(err)
	}
	if len(sections) != 2 {
		t.Fatalf("expected 2 sections, got %d: %v", len(sections), sections)
	}
}

func TestScanArchive_InvalidZstd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.tar.zst")
	os.WriteFile(path, []byte("not zstd data"), 0644)

	if _, err := scanArchive(path); err == nil {
		t.Fatal("expected error for invalid zstd data")
	}
	if _, err := scanArchive("/nonexistent/file.tar.zst"); err == nil {
		t.Fatal("expected error for nonexistent file")
	}
}

func TestRestoreRefusesExisting(t *testing.T) {
	dir := t.TempDir()
	archivePath := createTestArchive(t, map[string]string{"config/hive.yaml": "new"})
	cfgPath := filepath.Join(dir, "hive.yaml")
	os.WriteFile(cfgPath, []byte("old"), 0644)

	if _, err := restoreArchive(archivePath, filepath.Join(dir, "hive.db"), cfgPath, false); err == nil {
		t.Fatal("expected restore over an existing config to fail")
	}

	n, err := restoreArchive(archivePath, filepath.Join(dir, "hive.db"), cfgPath, true)
	if err != nil {
		t.Fatalf("restore with overwrite: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 file restored, got %d", n)
	}
	data, _ := os.ReadFile(cfgPath)
	if string(data) != "new" {
		t.Errorf("config = %q, want %q", data, "new")
	}
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	db, err := store.New(config.StoreConfig{Path: filepath.Join(dir, "src", "hive.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC().Truncate(time.Second)
	err = db.SaveAgent(registry.Agent{
		ID:               "a1",
		Name:             "alpha",
		Kind:             registry.Specialist,
		State:            registry.Idle,
		Energy:           80,
		PerformanceScore: 0.5,
		CreatedAt:        now,
		LastActive:       now,
		UpdatedAt:        now,
		Version:          1,
	})
	if err != nil {
		t.Fatalf("save agent: %v", err)
	}

	cfgPath := filepath.Join(dir, "src", "hive.yaml")
	os.WriteFile(cfgPath, []byte("web:\n  port: 9090\n"), 0644)

	archive := filepath.Join(dir, "backup.tar.zst")
	n, err := writeBackup(db, cfgPath, archive)
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 archived files, got %d", n)
	}

	dstStore := filepath.Join(dir, "dst", "hive.db")
	dstCfg := filepath.Join(dir, "dst", "hive.yaml")
	n, err = restoreArchive(archive, dstStore, dstCfg, false)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 restored files, got %d", n)
	}

	restored, err := store.New(config.StoreConfig{Path: dstStore})
	if err != nil {
		t.Fatalf("open restored store: %v", err)
	}
	defer restored.Close()

	a, err := restored.GetAgent("a1")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if a == nil || a.Name != "alpha" || a.Kind != registry.Specialist {
		t.Errorf("restored agent = %+v", a)
	}

	data, _ := os.ReadFile(dstCfg)
	if string(data) != "web:\n  port: 9090\n" {
		t.Errorf("restored config = %q", data)
	}
}
