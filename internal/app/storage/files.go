package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// backupName stamps a backup with a ULID so names sort by time and two
// backups in the same instant stay distinct.
func backupName(prefix string, at time.Time) string {
	return fmt.Sprintf("%s_%s.json", prefix, ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()))
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}

// backupFile copies src to dir/<prefix>_<ulid>.json and keeps only the
// newest keep backups with that prefix. A missing src is not an error.
func backupFile(src, dir, prefix string, at time.Time, keep int) error {
	data, err := os.ReadFile(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s for backup: %w", src, err)
	}
	if err := writeFileAtomic(filepath.Join(dir, backupName(prefix, at)), data); err != nil {
		return err
	}
	return pruneBackups(dir, prefix, keep)
}

func listBackups(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || !strings.HasPrefix(n, prefix+"_") || !strings.HasSuffix(n, ".json") {
			continue
		}
		names = append(names, n)
	}
	// ULIDs sort lexically; newest first
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

func pruneBackups(dir, prefix string, keep int) error {
	names, err := listBackups(dir, prefix)
	if err != nil {
		return fmt.Errorf("list backups: %w", err)
	}
	for i := keep; i < len(names); i++ {
		if err := os.Remove(filepath.Join(dir, names[i])); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove old backup %s: %w", names[i], err)
		}
	}
	return nil
}
