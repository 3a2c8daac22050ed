package main

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/do-ops885/ai-orchestrator-hub/internal/config"
	"github.com/do-ops885/ai-orchestrator-hub/internal/store"
)

// Archive sections. Every entry lives under one of them.
const (
	sectionStore  = "store"
	sectionConfig = "config"

	storeEntry = sectionStore + "/hive.db"
)

func runBackup(args []string) error {
	var outputPath string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-f":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -f")
			}
			i++
			outputPath = args[i]
		}
	}
	if outputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: hive backup -f <output.tar.zst>\n")
		return fmt.Errorf("missing -f flag")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	entries, err := writeBackup(db, config.Path(), outputPath)
	if err != nil {
		return err
	}

	size := int64(0)
	if info, _ := os.Stat(outputPath); info != nil {
		size = info.Size()
	}
	fmt.Printf("Backup complete: %d files, %s\n", entries, formatSize(size))
	return nil
}

// writeBackup archives a consistent copy of the database, and the config
// file when it exists, into a zstd-compressed tar at out.
func writeBackup(db *store.Store, cfgPath, out string) (int, error) {
	tmp, err := os.MkdirTemp("", "hive-backup-")
	if err != nil {
		return 0, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	snapshot := filepath.Join(tmp, "hive.db")
	if err := db.Backup(snapshot); err != nil {
		return 0, fmt.Errorf("snapshot store: %w", err)
	}

	f, err := os.Create(out)
	if err != nil {
		return 0, fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return 0, fmt.Errorf("create zstd writer: %w", err)
	}
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	entries := 0
	if err := addFile(tw, storeEntry, snapshot); err != nil {
		return 0, err
	}
	entries++
	if _, err := os.Stat(cfgPath); err == nil {
		if err := addFile(tw, sectionConfig+"/"+filepath.Base(cfgPath), cfgPath); err != nil {
			return 0, err
		}
		entries++
	}

	// Close everything explicitly to catch write errors
	if err := tw.Close(); err != nil {
		return 0, fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("close zstd: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close file: %w", err)
	}
	return entries, nil
}

func addFile(tw *tar.Writer, name, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("tar header for %s: %w", src, err)
	}
	hdr.Name = name
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write tar header: %w", err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("write tar data: %w", err)
	}
	return nil
}

func runRestore(args []string) error {
	var inputPath string
	overwrite := false
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-f":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -f")
			}
			i++
			inputPath = args[i]
		case "-overwrite":
			overwrite = true
		}
	}
	if inputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: hive restore -f <backup.tar.zst> [-overwrite]\n")
		return fmt.Errorf("missing -f flag")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	n, err := restoreArchive(inputPath, cfg.Store.Path, config.Path(), overwrite)
	if err != nil {
		return err
	}
	fmt.Printf("Restore complete: %d files\n", n)
	return nil
}

// restoreArchive writes the archived database to storePath and the archived
// config to cfgPath. Existing files are only replaced when overwrite is set.
// The gateway must not be running.
func restoreArchive(in, storePath, cfgPath string, overwrite bool) (int, error) {
	sections, err := scanArchive(in)
	if err != nil {
		return 0, fmt.Errorf("scan archive: %w", err)
	}
	if len(sections) == 0 {
		return 0, nil
	}

	dest := map[string]string{sectionStore: storePath, sectionConfig: cfgPath}
	if !overwrite {
		for _, sec := range sections {
			if _, err := os.Stat(dest[sec]); err == nil {
				return 0, fmt.Errorf("%s already exists, add -overwrite to replace it", dest[sec])
			}
		}
	}

	f, err := os.Open(in)
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	restored := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return restored, fmt.Errorf("read tar entry: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		sec, _ := splitEntryPath(hdr.Name)
		target, ok := dest[sec]
		if !ok {
			continue
		}
		if err := extractFile(tr, target, os.FileMode(hdr.Mode).Perm()); err != nil {
			return restored, err
		}
		if sec == sectionStore {
			// Stale WAL files would be replayed over the restored database.
			os.Remove(target + "-wal")
			os.Remove(target + "-shm")
		}
		restored++
	}
	return restored, nil
}

func extractFile(r io.Reader, target string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", target, err)
	}
	if mode == 0 {
		mode = 0o644
	}
	tmp := target + ".restore"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("replace %s: %w", target, err)
	}
	return nil
}

// scanArchive reads tar headers to collect the sections present without
// extracting file data.
func scanArchive(p string) ([]string, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	tr := tar.NewReader(zr)

	seen := make(map[string]bool)
	var sections []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		sec, _ := splitEntryPath(hdr.Name)
		if sec != "" && !seen[sec] {
			seen[sec] = true
			sections = append(sections, sec)
		}
	}
	return sections, nil
}

// splitEntryPath splits "store/hive.db" into ("store", "hive.db"). Entries
// outside a known section, or escaping it, return an empty section.
func splitEntryPath(name string) (section, rel string) {
	name = strings.TrimLeft(name, "./")
	if name == "" {
		return "", ""
	}
	idx := strings.IndexByte(name, '/')
	if idx < 0 {
		return "", ""
	}
	section, rel = name[:idx], path.Clean(name[idx+1:])
	if section != sectionStore && section != sectionConfig {
		return "", ""
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", ""
	}
	return section, rel
}

func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
