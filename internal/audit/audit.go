// Package audit walks a checked-out repository once and produces the file
// inventory every analysis adapter is gated on.
package audit

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Kind distinguishes tree entries.
type Kind string

const (
	KindFile      Kind = "file"
	KindDirectory Kind = "directory"
)

// Language groups source files for adapter gating.
type Language string

const (
	LanguagePython     Language = "python"
	LanguageJavaScript Language = "javascript" // includes TypeScript
)

// ManifestKind names a well-known ecosystem descriptor.
type ManifestKind string

const (
	ManifestReadme       ManifestKind = "readme"
	ManifestPackageJSON  ManifestKind = "package_json"
	ManifestRequirements ManifestKind = "requirements_txt"
	ManifestPyproject    ManifestKind = "pyproject_toml"
)

var languageByExt = map[string]Language{
	".py":  LanguagePython,
	".js":  LanguageJavaScript,
	".jsx": LanguageJavaScript,
	".mjs": LanguageJavaScript,
	".cjs": LanguageJavaScript,
	".ts":  LanguageJavaScript,
	".tsx": LanguageJavaScript,
}

func manifestKind(name string) (ManifestKind, bool) {
	switch {
	case strings.EqualFold(name, "readme.md"):
		return ManifestReadme, true
	case name == "package.json":
		return ManifestPackageJSON, true
	case name == "requirements.txt":
		return ManifestRequirements, true
	case name == "pyproject.toml":
		return ManifestPyproject, true
	}
	return "", false
}

// Entry is one node of the flattened tree. Path is relative to the root
// and slash-separated.
type Entry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size,omitempty"`
	Kind Kind   `json:"kind"`
}

// Inventory is the audit result.
type Inventory struct {
	Root      string                    `json:"root"`
	Manifests map[ManifestKind][]string `json:"manifests"`
	Tree      []Entry                   `json:"tree"`
	Counts    map[Language]int          `json:"counts"`
	Sources   map[Language][]string     `json:"sources"`
}

// Count returns the number of source files for lang.
func (inv *Inventory) Count(lang Language) int {
	if inv == nil {
		return 0
	}
	return inv.Counts[lang]
}

// HasLanguage reports whether any source file of lang was found.
func (inv *Inventory) HasLanguage(lang Language) bool {
	return inv.Count(lang) > 0
}

// Files returns the sorted relative source paths for lang.
func (inv *Inventory) Files(lang Language) []string {
	if inv == nil {
		return nil
	}
	return inv.Sources[lang]
}

// TotalSources returns the number of classified source files.
func (inv *Inventory) TotalSources() int {
	if inv == nil {
		return 0
	}
	n := 0
	for _, c := range inv.Counts {
		n += c
	}
	return n
}

// Options tunes the walk.
type Options struct {
	// IgnoreLockfiles drops package-lock.json, poetry.lock and friends.
	IgnoreLockfiles bool
	// ExtraIgnoreDirs are pruned in addition to the built-in list.
	ExtraIgnoreDirs []string
}

// Auditor walks repositories.
type Auditor struct {
	opts      Options
	extraDirs map[string]bool
	logger    *zap.SugaredLogger
}

// New creates an Auditor.
func New(opts Options, logger *zap.SugaredLogger) *Auditor {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	extra := make(map[string]bool, len(opts.ExtraIgnoreDirs))
	for _, d := range opts.ExtraIgnoreDirs {
		extra[d] = true
	}
	return &Auditor{opts: opts, extraDirs: extra, logger: logger}
}

// Audit walks root depth-first. Ignored directories are pruned before
// descent; unreadable entries are skipped.
func (a *Auditor) Audit(ctx context.Context, root string) (*Inventory, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat repository root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("repository root %s is not a directory", root)
	}

	inv := &Inventory{
		Root:      root,
		Manifests: make(map[ManifestKind][]string),
		Counts:    map[Language]int{LanguagePython: 0, LanguageJavaScript: 0},
		Sources:   make(map[Language][]string),
	}

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path == root {
			return err
		}
		if err != nil {
			// Permission denied or removed mid-walk.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		name := d.Name()

		if d.IsDir() {
			if a.skipDir(name) {
				return fs.SkipDir
			}
			inv.Tree = append(inv.Tree, Entry{Name: name, Path: rel, Kind: KindDirectory})
			return nil
		}
		if !d.Type().IsRegular() || a.skipFile(name) {
			return nil
		}
		fi, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}

		if kind, ok := manifestKind(name); ok {
			inv.Manifests[kind] = append(inv.Manifests[kind], rel)
		}
		if lang, ok := languageByExt[strings.ToLower(filepath.Ext(name))]; ok {
			inv.Counts[lang]++
			inv.Sources[lang] = append(inv.Sources[lang], rel)
		}
		inv.Tree = append(inv.Tree, Entry{Name: name, Path: rel, Size: fi.Size(), Kind: KindFile})
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walk %s: %w", root, walkErr)
	}

	for k := range inv.Manifests {
		sort.Strings(inv.Manifests[k])
	}
	for k := range inv.Sources {
		sort.Strings(inv.Sources[k])
	}

	a.logger.Infow("audit complete",
		"root", root,
		"entries", len(inv.Tree),
		"python_files", inv.Counts[LanguagePython],
		"js_ts_files", inv.Counts[LanguageJavaScript],
		"readmes", len(inv.Manifests[ManifestReadme]),
		"package_jsons", len(inv.Manifests[ManifestPackageJSON]),
		"requirements_txts", len(inv.Manifests[ManifestRequirements]),
		"pyproject_tomls", len(inv.Manifests[ManifestPyproject]),
	)
	return inv, nil
}
