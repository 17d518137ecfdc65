package audit

import (
	"path/filepath"
	"strings"
)

var ignoredDirs = map[string]bool{
	// version control
	".git": true, ".svn": true, ".hg": true, ".bzr": true,
	// python
	"__pycache__": true, ".pytest_cache": true, ".mypy_cache": true, ".ruff_cache": true,
	"venv": true, ".venv": true, "env": true, ".env": true, "virtualenv": true,
	".eggs": true, ".tox": true, "htmlcov": true, ".coverage": true, "coverage": true,
	// node
	"node_modules": true, ".npm": true, ".yarn": true, ".pnp": true,
	// IDEs
	".idea": true, ".vscode": true, ".vs": true, ".eclipse": true, ".settings": true,
	// build output
	"dist": true, "build": true, "out": true, "target": true, ".next": true, ".nuxt": true,
	// caches
	".cache": true, ".parcel-cache": true, ".turbo": true,
	// OS
	".Trash": true, "Thumbs.db": true,
	"logs": true,
}

var ignoredFiles = map[string]bool{
	".DS_Store": true, "Thumbs.db": true, "desktop.ini": true,
	".env": true, ".env.local": true, ".env.production": true,
}

var lockfiles = map[string]bool{
	"package-lock.json": true, "yarn.lock": true, "pnpm-lock.yaml": true,
	"poetry.lock": true, "Pipfile.lock": true,
}

// ignoredPatterns apply to both file and directory names.
var ignoredPatterns = []string{
	"*.pyc", "*.pyo", "*.so", "*.dll", "*.log", "*.tmp", "*.bak", "*.egg-info", "*~",
}

var ignoredExtensions = map[string]bool{
	".pyc": true, ".pyo": true, ".so": true, ".dll": true, ".dylib": true, ".exe": true,
	".swp": true, ".swo": true,
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".ico": true, ".svg": true,
	".mp4": true, ".mp3": true, ".wav": true, ".avi": true,
	".woff": true, ".woff2": true, ".ttf": true, ".eot": true, ".otf": true,
	".zip": true, ".tar": true, ".gz": true, ".rar": true, ".7z": true,
	".db": true, ".sqlite": true, ".sqlite3": true,
	".log": true, ".tmp": true, ".bak": true,
}

func matchesPattern(name string) bool {
	for _, p := range ignoredPatterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}

func (a *Auditor) skipDir(name string) bool {
	if ignoredDirs[name] || a.extraDirs[name] {
		return true
	}
	if strings.HasPrefix(name, ".") {
		return true
	}
	return matchesPattern(name)
}

func (a *Auditor) skipFile(name string) bool {
	if ignoredFiles[name] {
		return true
	}
	if a.opts.IgnoreLockfiles && lockfiles[name] {
		return true
	}
	if matchesPattern(name) {
		return true
	}
	return ignoredExtensions[strings.ToLower(filepath.Ext(name))]
}
