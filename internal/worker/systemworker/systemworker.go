// Package systemworker performs file operations and disk utilities.
// Destructive operations journal a snapshot before the effect so they can
// be rolled back.
package systemworker

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v4/disk"

	"github.com/haricheung/opsai/internal/journal"
	"github.com/haricheung/opsai/internal/types"
	"github.com/haricheung/opsai/internal/worker"
)

// Worker exposes file listing, disk usage, and journaled file mutation.
type Worker struct {
	journal *journal.Tracker
}

var _ worker.Worker = (*Worker)(nil)

// New creates the system worker over the change journal.
func New(tracker *journal.Tracker) *Worker {
	return &Worker{journal: tracker}
}

func (w *Worker) Name() string { return "system" }

func (w *Worker) Description() string {
	return "File listing, disk usage, and journaled file edits."
}

func (w *Worker) Capabilities() []string {
	return []string{
		"list_files", "find_large_files", "check_disk_usage",
		"delete_files", "write_file", "append_to_file", "replace_in_file",
	}
}

func (w *Worker) Actions() []types.ToolAction {
	return []types.ToolAction{
		{
			Name:        "list_files",
			Description: "List files in a directory",
			Params: []types.ActionParam{
				{Name: "path", Type: "string", Description: "Directory to list", Required: true},
			},
			RiskLevel: types.RiskSafe,
		},
		{
			Name:        "find_large_files",
			Description: "Find the largest files under a directory",
			Params: []types.ActionParam{
				{Name: "path", Type: "string", Description: "Directory to scan", Required: true},
				{Name: "min_size_mb", Type: "integer", Description: "Minimum size in MB (default 100)"},
				{Name: "limit", Type: "integer", Description: "Max results (default 20)"},
			},
			RiskLevel: types.RiskSafe,
		},
		{
			Name:        "check_disk_usage",
			Description: "Report disk usage of a path",
			Params: []types.ActionParam{
				{Name: "path", Type: "string", Description: "Path to measure (default /)"},
			},
			RiskLevel: types.RiskSafe,
		},
		{
			Name:        "delete_files",
			Description: "Delete files (journaled, rollbackable)",
			Params: []types.ActionParam{
				{Name: "paths", Type: "list", Description: "Files to delete", Required: true},
			},
			RiskLevel: types.RiskHigh,
		},
		{
			Name:        "write_file",
			Description: "Write content to a file (journaled)",
			Params: []types.ActionParam{
				{Name: "path", Type: "string", Description: "Target file", Required: true},
				{Name: "content", Type: "string", Description: "Content to write", Required: true},
			},
			RiskLevel: types.RiskMedium,
		},
		{
			Name:        "append_to_file",
			Description: "Append content to a file (journaled)",
			Params: []types.ActionParam{
				{Name: "path", Type: "string", Description: "Target file", Required: true},
				{Name: "content", Type: "string", Description: "Content to append", Required: true},
			},
			RiskLevel: types.RiskMedium,
		},
		{
			Name:        "replace_in_file",
			Description: "Replace text in a file (journaled)",
			Params: []types.ActionParam{
				{Name: "path", Type: "string", Description: "Target file", Required: true},
				{Name: "old", Type: "string", Description: "Text to replace", Required: true},
				{Name: "new", Type: "string", Description: "Replacement text", Required: true},
			},
			RiskLevel: types.RiskHigh,
		},
	}
}

func (w *Worker) Execute(ctx context.Context, action string, args types.Args) types.WorkerResult {
	switch action {
	case "list_files":
		return w.listFiles(args)
	case "find_large_files":
		return w.findLargeFiles(args)
	case "check_disk_usage":
		return w.checkDiskUsage(ctx, args)
	case "delete_files":
		return w.deleteFiles(args)
	case "write_file":
		return w.writeFile(args)
	case "append_to_file":
		return w.appendToFile(args)
	case "replace_in_file":
		return w.replaceInFile(args)
	default:
		return worker.UnknownAction(action)
	}
}

func (w *Worker) listFiles(args types.Args) types.WorkerResult {
	path := args.String("path")
	if path == "" {
		return types.Fail("path must be a non-empty string")
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return types.Fail("Cannot list %s: %v", path, err)
	}
	var lines []string
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		kind := "file"
		if e.IsDir() {
			kind = "dir"
		}
		lines = append(lines, fmt.Sprintf("%-4s %10d  %s", kind, info.Size(), e.Name()))
	}
	return types.WorkerResult{
		Success:   true,
		Message:   fmt.Sprintf("%d entries in %s", len(entries), path),
		RawOutput: strings.Join(lines, "\n"),
	}
}

func (w *Worker) findLargeFiles(args types.Args) types.WorkerResult {
	root := args.String("path")
	if root == "" {
		return types.Fail("path must be a non-empty string")
	}
	minBytes := int64(args.Int("min_size_mb", 100)) * 1024 * 1024
	limit := args.Int("limit", 20)

	type hit struct {
		path string
		size int64
	}
	var hits []hit
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() >= minBytes {
			hits = append(hits, hit{path: path, size: info.Size()})
		}
		return nil
	})

	sort.Slice(hits, func(i, j int) bool { return hits[i].size > hits[j].size })
	if len(hits) > limit {
		hits = hits[:limit]
	}

	var lines []string
	for _, h := range hits {
		lines = append(lines, fmt.Sprintf("%8.1f MB  %s", float64(h.size)/(1024*1024), h.path))
	}
	return types.WorkerResult{
		Success:   true,
		Message:   fmt.Sprintf("%d files ≥ %d MB under %s", len(hits), args.Int("min_size_mb", 100), root),
		RawOutput: strings.Join(lines, "\n"),
	}
}

// checkDiskUsage reports filesystem capacity for the mount holding
// path, not a recursive size sum.
func (w *Worker) checkDiskUsage(ctx context.Context, args types.Args) types.WorkerResult {
	path := args.String("path")
	if path == "" {
		path = "/"
	}
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return types.Fail("Cannot measure %s: %v", path, err)
	}
	const gb = 1024 * 1024 * 1024
	return types.WorkerResult{
		Success: true,
		Message: fmt.Sprintf("%s: 已用 %.1f GB / 共 %.1f GB (%.1f%%)，剩余 %.1f GB",
			path, float64(usage.Used)/gb, float64(usage.Total)/gb,
			usage.UsedPercent, float64(usage.Free)/gb),
		Data: map[string]any{
			"path":         path,
			"total_bytes":  usage.Total,
			"used_bytes":   usage.Used,
			"free_bytes":   usage.Free,
			"used_percent": usage.UsedPercent,
		},
	}
}

// deleteFiles removes each path after journaling a backup.
//
// Expectations:
//   - A scalar path is accepted in place of a list
//   - dry_run previews the deletions without touching disk
//   - Every deleted file has a file_delete journal record
//   - Missing files are reported per-path, remaining paths still processed
func (w *Worker) deleteFiles(args types.Args) types.WorkerResult {
	paths := args.StringSlice("paths")
	if len(paths) == 0 {
		return types.Fail("paths must be a non-empty list")
	}

	if args.DryRun() {
		return types.Simulated("[dry-run] would delete %d file(s): %s", len(paths), strings.Join(paths, ", "))
	}

	var deleted, failed []string
	for _, path := range paths {
		if _, err := w.journal.RecordDelete(path, "delete "+path); err != nil {
			failed = append(failed, fmt.Sprintf("%s (%v)", path, err))
			continue
		}
		if err := os.Remove(path); err != nil {
			failed = append(failed, fmt.Sprintf("%s (%v)", path, err))
			continue
		}
		deleted = append(deleted, path)
	}

	msg := fmt.Sprintf("Deleted %d file(s)", len(deleted))
	if len(failed) > 0 {
		msg += fmt.Sprintf(", %d failed: %s", len(failed), strings.Join(failed, "; "))
	}
	return types.WorkerResult{Success: len(failed) == 0, Message: msg}
}

func (w *Worker) writeFile(args types.Args) types.WorkerResult {
	path := args.String("path")
	content := args.String("content")
	if path == "" {
		return types.Fail("path must be a non-empty string")
	}
	if args.DryRun() {
		return types.Simulated("[dry-run] would write %d bytes to %s", len(content), path)
	}
	id, err := w.journal.SnapshotFile(path, "write "+path)
	if err != nil {
		return types.Fail("Journal snapshot failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return types.Fail("Write failed: %v", err)
	}
	return types.Ok("Wrote %d bytes to %s (change %s)", len(content), path, id)
}

func (w *Worker) appendToFile(args types.Args) types.WorkerResult {
	path := args.String("path")
	content := args.String("content")
	if path == "" {
		return types.Fail("path must be a non-empty string")
	}
	if args.DryRun() {
		return types.Simulated("[dry-run] would append %d bytes to %s", len(content), path)
	}
	id, err := w.journal.SnapshotFile(path, "append to "+path)
	if err != nil {
		return types.Fail("Journal snapshot failed: %v", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return types.Fail("Open failed: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return types.Fail("Append failed: %v", err)
	}
	return types.Ok("Appended %d bytes to %s (change %s)", len(content), path, id)
}

func (w *Worker) replaceInFile(args types.Args) types.WorkerResult {
	path := args.String("path")
	oldText := args.String("old")
	newText := args.String("new")
	if path == "" || oldText == "" {
		return types.Fail("path and old must be non-empty strings")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return types.Fail("Cannot read %s: %v", path, err)
	}
	count := strings.Count(string(data), oldText)
	if count == 0 {
		return types.Fail("Text not found in %s", path)
	}

	if args.DryRun() {
		return types.Simulated("[dry-run] would replace %d occurrence(s) in %s", count, path)
	}

	id, err := w.journal.SnapshotFile(path, "replace in "+path)
	if err != nil {
		return types.Fail("Journal snapshot failed: %v", err)
	}
	replaced := strings.ReplaceAll(string(data), oldText, newText)
	if err := os.WriteFile(path, []byte(replaced), 0o644); err != nil {
		return types.Fail("Write failed: %v", err)
	}
	return types.Ok("Replaced %d occurrence(s) in %s (change %s)", count, path, id)
}
