// Package observer scans a target project directory and produces the
// structured snapshot the curriculum conditions on. The snapshot is
// persisted as a single JSON artifact so other components read a stable,
// cheap view instead of re-walking the tree.
package observer

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/imjszhang/wiseflow/internal/fileutil"
	"github.com/imjszhang/wiseflow/pkg/codeparse"
)

// SnapshotFileName is the artifact written into the target directory.
const SnapshotFileName = "project_observation.json"

// keyFiles are read in full when present at the project root.
var keyFiles = []string{"README.md", "config.yaml"}

// codeExtensions is the recognized-code set counted in code statistics.
var codeExtensions = map[string]bool{
	".py":   true,
	".js":   true,
	".java": true,
	".cpp":  true,
	".go":   true,
}

// Meta holds directory-level counts.
type Meta struct {
	FileCount int   `json:"file_count"`
	DirCount  int   `json:"dir_count"`
	TotalSize int64 `json:"total_size"`
}

// CodeStatistics tabulates line counts and extension frequencies.
type CodeStatistics struct {
	TotalLines int            `json:"total_lines"`
	FileTypes  map[string]int `json:"file_types"`
}

// Snapshot is the immutable observation of a project.
type Snapshot struct {
	DirectoryStructure []string            `json:"directory_structure"`
	KeyFiles           map[string]*string  `json:"key_files"`
	KeyConfig          map[string]any      `json:"key_config,omitempty"`
	Meta               Meta                `json:"meta"`
	LogSummary         []string            `json:"log_summary"`
	CodeStatistics     CodeStatistics      `json:"code_statistics"`
	CodeStructure      map[string][]string `json:"code_structure"`
}

// Observer extracts snapshots from a source directory and stores them in a
// target directory.
type Observer struct {
	sourceDir    string
	targetDir    string
	logHeadLines int
	parser       *codeparse.Parser
}

// New creates an observer. The target directory is created eagerly so a
// snapshot can always be persisted.
func New(sourceDir, targetDir string) (*Observer, error) {
	if err := fileutil.EnsureDir(targetDir); err != nil {
		return nil, fmt.Errorf("create target dir: %w", err)
	}
	return &Observer{
		sourceDir:    sourceDir,
		targetDir:    targetDir,
		logHeadLines: 5,
		parser:       codeparse.NewParser(),
	}, nil
}

// SetLogHeadLines overrides how many lines of each log file are summarized.
func (o *Observer) SetLogHeadLines(n int) {
	if n > 0 {
		o.logHeadLines = n
	}
}

// Observe walks the source tree and builds a snapshot. It fails only when
// the source directory itself is unreadable; individual unreadable files are
// recorded as null and do not abort the scan.
func (o *Observer) Observe() (*Snapshot, error) {
	if !fileutil.IsDir(o.sourceDir) {
		return nil, fmt.Errorf("source directory %s: %w", o.sourceDir, os.ErrNotExist)
	}

	snap := &Snapshot{
		KeyFiles:      make(map[string]*string),
		CodeStructure: make(map[string][]string),
		CodeStatistics: CodeStatistics{
			FileTypes: make(map[string]int),
		},
	}

	err := filepath.WalkDir(o.sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped, not fatal.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if path == o.sourceDir {
			return nil
		}

		rel, relErr := filepath.Rel(o.sourceDir, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			snap.Meta.DirCount++
			return nil
		}

		snap.Meta.FileCount++
		snap.DirectoryStructure = append(snap.DirectoryStructure, rel)
		if info, infoErr := d.Info(); infoErr == nil {
			snap.Meta.TotalSize += info.Size()
		}

		o.analyzeCodeFile(snap, path, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", o.sourceDir, err)
	}

	sort.Strings(snap.DirectoryStructure)
	o.extractKeyFiles(snap)
	o.summarizeLogs(snap)

	return snap, nil
}

// Save persists a snapshot atomically into the target directory.
func (o *Observer) Save(snap *Snapshot) error {
	return fileutil.WriteJSONAtomic(filepath.Join(o.targetDir, SnapshotFileName), snap)
}

// ObserveAndSave runs a full observation cycle.
func (o *Observer) ObserveAndSave() (*Snapshot, error) {
	snap, err := o.Observe()
	if err != nil {
		return nil, err
	}
	if err := o.Save(snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// LoadSnapshot reads a previously persisted snapshot from targetDir.
func LoadSnapshot(targetDir string) (*Snapshot, error) {
	var snap Snapshot
	if err := fileutil.ReadJSON(filepath.Join(targetDir, SnapshotFileName), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (o *Observer) analyzeCodeFile(snap *Snapshot, path, rel string) {
	ext := strings.ToLower(filepath.Ext(path))
	if !codeExtensions[ext] {
		return
	}

	content, err := fileutil.ReadText(path)
	if err != nil {
		return
	}

	snap.CodeStatistics.TotalLines += strings.Count(content, "\n") + 1
	snap.CodeStatistics.FileTypes[ext]++

	if lang := codeparse.LanguageFromPath(path); lang != "" {
		var summaries []string
		for _, sym := range o.parser.Parse(content, lang) {
			summaries = append(summaries, fmt.Sprintf("%s %s (L%d)", sym.Kind, sym.Name, sym.Line))
		}
		if len(summaries) > 0 {
			snap.CodeStructure[rel] = summaries
		}
	}
}

func (o *Observer) extractKeyFiles(snap *Snapshot) {
	for _, name := range keyFiles {
		path := filepath.Join(o.sourceDir, name)
		content, err := fileutil.ReadText(path)
		if err != nil {
			snap.KeyFiles[name] = nil
			continue
		}
		snap.KeyFiles[name] = &content

		if name == "config.yaml" {
			var parsed map[string]any
			if yaml.Unmarshal([]byte(content), &parsed) == nil {
				snap.KeyConfig = parsed
			}
		}
	}
}

func (o *Observer) summarizeLogs(snap *Snapshot) {
	logDir := filepath.Join(o.sourceDir, "logs")
	entries, err := os.ReadDir(logDir)
	if err != nil {
		return
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		content, err := fileutil.ReadText(filepath.Join(logDir, entry.Name()))
		if err != nil {
			continue
		}
		lines := strings.Split(content, "\n")
		if len(lines) > o.logHeadLines {
			lines = lines[:o.logHeadLines]
		}
		snap.LogSummary = append(snap.LogSummary, fmt.Sprintf("%s: %s", entry.Name(), strings.Join(lines, " | ")))
	}
}

// Format renders the snapshot as the multi-section text used in prompts.
func (s *Snapshot) Format(maxKeyFileChars int) string {
	if maxKeyFileChars <= 0 {
		maxKeyFileChars = 2000
	}

	var sb strings.Builder

	sb.WriteString("Directory listing:\n")
	for _, path := range s.DirectoryStructure {
		sb.WriteString("  ")
		sb.WriteString(path)
		sb.WriteString("\n")
	}

	sb.WriteString(fmt.Sprintf("\nMeta: %d files, %d directories, %d bytes\n",
		s.Meta.FileCount, s.Meta.DirCount, s.Meta.TotalSize))

	sb.WriteString(fmt.Sprintf("\nCode: %d lines total, by type:", s.CodeStatistics.TotalLines))
	exts := make([]string, 0, len(s.CodeStatistics.FileTypes))
	for ext := range s.CodeStatistics.FileTypes {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	for _, ext := range exts {
		sb.WriteString(fmt.Sprintf(" %s=%d", ext, s.CodeStatistics.FileTypes[ext]))
	}
	sb.WriteString("\n")

	if len(s.CodeStructure) > 0 {
		sb.WriteString("\nCode structure:\n")
		files := make([]string, 0, len(s.CodeStructure))
		for f := range s.CodeStructure {
			files = append(files, f)
		}
		sort.Strings(files)
		for _, f := range files {
			sb.WriteString(fmt.Sprintf("  %s: %s\n", f, strings.Join(s.CodeStructure[f], ", ")))
		}
	}

	for _, name := range keyFiles {
		content := s.KeyFiles[name]
		if content == nil {
			continue
		}
		text := *content
		if len(text) > maxKeyFileChars {
			text = text[:maxKeyFileChars] + "\n... (truncated)"
		}
		sb.WriteString(fmt.Sprintf("\n--- %s ---\n%s\n", name, text))
	}

	if len(s.LogSummary) > 0 {
		sb.WriteString("\nRecent logs:\n")
		for _, line := range s.LogSummary {
			sb.WriteString("  ")
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}

	return sb.String()
}
