// Package journal records destructive side effects before they happen so
// they can be rolled back afterwards.
//
// Layout under the state directory:
//
//	changes/index.json              ordered list of ChangeRecord
//	changes/backups/<id>_<filename> byte-for-byte pre-effect snapshots
//
// The index is rewritten as a whole document on every change; the working
// set is bounded (default 100 records) so this stays cheap.
package journal

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// MaxRecords bounds the journal; the oldest record is evicted beyond it.
const MaxRecords = 100

// ChangeType classifies a journaled effect.
type ChangeType string

const (
	ChangeFileWrite  ChangeType = "file_write"
	ChangeFileModify ChangeType = "file_modify"
	ChangeFileDelete ChangeType = "file_delete"
	ChangeCommand    ChangeType = "command"
)

// ChangeRecord is one journaled effect.
type ChangeRecord struct {
	ChangeID          string     `json:"change_id"`
	ChangeType        ChangeType `json:"change_type"`
	Timestamp         time.Time  `json:"timestamp"`
	Description       string     `json:"description"`
	FilePath          string     `json:"file_path,omitempty"`
	BackupPath        string     `json:"backup_path,omitempty"`
	Command           string     `json:"command,omitempty"`
	RollbackAvailable bool       `json:"rollback_available"`
	RolledBack        bool       `json:"rolled_back"`
}

// Tracker owns the change journal on disk. All mutation serializes through
// an internal lock; readers see committed state only.
type Tracker struct {
	mu        sync.Mutex
	indexPath string
	backupDir string
	records   []ChangeRecord
	nextID    int
}

// Open loads the journal under baseDir. A corrupt index starts empty
// rather than failing: losing rollback history must never block new work.
//
// Expectations:
//   - Missing index starts empty
//   - Corrupt index starts empty (not fatal)
//   - Next change id continues after the highest persisted id
func Open(baseDir string) (*Tracker, error) {
	changesDir := filepath.Join(baseDir, "changes")
	backupDir := filepath.Join(changesDir, "backups")
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: create %s: %w", backupDir, err)
	}

	t := &Tracker{
		indexPath: filepath.Join(changesDir, "index.json"),
		backupDir: backupDir,
		nextID:    1,
	}

	data, err := os.ReadFile(t.indexPath)
	if err == nil {
		if err := json.Unmarshal(data, &t.records); err != nil {
			slog.Warn("journal: corrupt index, starting empty", "path", t.indexPath, "err", err)
			t.records = nil
		}
	}
	for _, rec := range t.records {
		var n int
		if _, err := fmt.Sscanf(rec.ChangeID, "chg-%d", &n); err == nil && n >= t.nextID {
			t.nextID = n + 1
		}
	}
	return t, nil
}

func (t *Tracker) newID() string {
	id := fmt.Sprintf("chg-%04d", t.nextID)
	t.nextID++
	return id
}

// SnapshotFile journals a file that is about to be written or modified.
// An existing file is copied to a backup blob and recorded as file_modify;
// a missing file is recorded as file_write (rollback deletes the new file).
// The snapshot reflects disk state at call time.
//
// Expectations:
//   - Existing file: file_modify record with rollback_available=true and a backup blob
//   - Missing file: file_write record with rollback_available=false and no blob
//   - Returns the assigned change id
func (t *Tracker) SnapshotFile(path, description string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.newID()
	rec := ChangeRecord{
		ChangeID:    id,
		Timestamp:   time.Now(),
		Description: description,
		FilePath:    path,
	}

	if _, err := os.Stat(path); err == nil {
		backup := filepath.Join(t.backupDir, id+"_"+filepath.Base(path))
		if err := copyFile(path, backup); err != nil {
			return "", fmt.Errorf("journal: snapshot %s: %w", path, err)
		}
		rec.ChangeType = ChangeFileModify
		rec.BackupPath = backup
		rec.RollbackAvailable = true
	} else {
		rec.ChangeType = ChangeFileWrite
		rec.RollbackAvailable = false
	}

	if err := t.append(rec); err != nil {
		return "", err
	}
	return id, nil
}

// RecordDelete journals a file the caller is about to delete. The file is
// copied to a backup blob first; the caller performs the actual delete.
func (t *Tracker) RecordDelete(path, description string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("journal: record delete %s: %w", path, err)
	}

	id := t.newID()
	backup := filepath.Join(t.backupDir, id+"_"+filepath.Base(path))
	if err := copyFile(path, backup); err != nil {
		return "", fmt.Errorf("journal: backup %s: %w", path, err)
	}

	rec := ChangeRecord{
		ChangeID:          id,
		ChangeType:        ChangeFileDelete,
		Timestamp:         time.Now(),
		Description:       description,
		FilePath:          path,
		BackupPath:        backup,
		RollbackAvailable: true,
	}
	if err := t.append(rec); err != nil {
		return "", err
	}
	return id, nil
}

// RecordCommand journals an executed command. Metadata only, never
// rollbackable.
func (t *Tracker) RecordCommand(command, description string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := ChangeRecord{
		ChangeID:          t.newID(),
		ChangeType:        ChangeCommand,
		Timestamp:         time.Now(),
		Description:       description,
		Command:           command,
		RollbackAvailable: false,
	}
	if err := t.append(rec); err != nil {
		return "", err
	}
	return rec.ChangeID, nil
}

// Rollback undoes the recorded effect.
//
// Expectations:
//   - file_modify: backup copied over the target, original bytes restored
//   - file_delete: backup copied back to the target path
//   - file_write: the newly created target is deleted
//   - A rolled-back record refuses a second rollback ("已回滚")
//   - command records are never rollbackable
func (t *Tracker) Rollback(changeID string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := -1
	for i := range t.records {
		if t.records[i].ChangeID == changeID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return "", fmt.Errorf("journal: no record %s", changeID)
	}
	rec := &t.records[idx]

	if rec.RolledBack {
		return "", fmt.Errorf("journal: %s 已回滚", changeID)
	}

	switch rec.ChangeType {
	case ChangeFileModify:
		if err := copyFile(rec.BackupPath, rec.FilePath); err != nil {
			return "", fmt.Errorf("journal: restore %s: %w", rec.FilePath, err)
		}
	case ChangeFileDelete:
		if err := copyFile(rec.BackupPath, rec.FilePath); err != nil {
			return "", fmt.Errorf("journal: restore %s: %w", rec.FilePath, err)
		}
	case ChangeFileWrite:
		if err := os.Remove(rec.FilePath); err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("journal: remove %s: %w", rec.FilePath, err)
		}
	default:
		return "", fmt.Errorf("journal: %s is not rollbackable", changeID)
	}

	rec.RolledBack = true
	if err := t.persist(); err != nil {
		return "", err
	}
	return fmt.Sprintf("已回滚 %s: %s", changeID, rec.Description), nil
}

// List returns a copy of all records, oldest first.
func (t *Tracker) List() []ChangeRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ChangeRecord, len(t.records))
	copy(out, t.records)
	return out
}

// append adds a record, evicts FIFO past MaxRecords (deleting the evicted
// backup blob), and rewrites the index.
func (t *Tracker) append(rec ChangeRecord) error {
	t.records = append(t.records, rec)
	for len(t.records) > MaxRecords {
		evicted := t.records[0]
		t.records = t.records[1:]
		if evicted.BackupPath != "" {
			if err := os.Remove(evicted.BackupPath); err != nil && !os.IsNotExist(err) {
				slog.Warn("journal: remove evicted backup", "path", evicted.BackupPath, "err", err)
			}
		}
	}
	return t.persist()
}

func (t *Tracker) persist() error {
	data, err := json.MarshalIndent(t.records, "", "  ")
	if err != nil {
		return fmt.Errorf("journal: marshal index: %w", err)
	}
	if err := os.WriteFile(t.indexPath, data, 0o644); err != nil {
		return fmt.Errorf("journal: write index: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
