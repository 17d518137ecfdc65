package analyzer

import (
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/reviewfactory/internal/audit"
	"github.com/lucasnoah/reviewfactory/internal/checks"
	"github.com/lucasnoah/reviewfactory/internal/finding"
)

// Adapter names, also used as workflow stage names.
const (
	Style       = "style"
	Security    = "security"
	Performance = "performance"
)

// ToolOverride adjusts a built-in tool from configuration.
type ToolOverride struct {
	Binary    string
	ExtraArgs []string
	Timeout   time.Duration
	Disabled  bool
}

// Options configures the built-in adapters.
type Options struct {
	// MinComplexityRank is the lowest radon rank reported. Defaults to "C".
	MinComplexityRank string
	Tools             map[string]ToolOverride
	// OnToolDone is called after every tool run.
	OnToolDone func(adapter string, res *checks.Result)
}

// DefaultToolTimeouts are per tool; security scanners get the longest.
var DefaultToolTimeouts = map[string]time.Duration{
	"ruff":      2 * time.Minute,
	"eslint":    3 * time.Minute,
	"bandit":    5 * time.Minute,
	"semgrep":   10 * time.Minute,
	"npm-audit": 3 * time.Minute,
	"radon":     2 * time.Minute,
}

// eslintConfigNames are the files that mean the repo brings its own config.
var eslintConfigNames = []string{
	"eslint.config.js", "eslint.config.mjs", "eslint.config.cjs",
	"eslint.config.ts", "eslint.config.mts", "eslint.config.cts",
	".eslintrc", ".eslintrc.js", ".eslintrc.cjs", ".eslintrc.json", ".eslintrc.yml", ".eslintrc.yaml",
}

// fallbackESLintConfig is used for repositories without their own config.
const fallbackESLintConfig = `export default [
  {
    files: ["**/*.{js,jsx,mjs,cjs,ts,tsx}"],
    languageOptions: {
      ecmaVersion: "latest",
      sourceType: "module",
      parserOptions: { ecmaFeatures: { jsx: true } },
    },
    rules: {
      "no-unused-vars": "warn",
      "no-undef": "off",
      "no-unreachable": "error",
      "no-dupe-keys": "error",
      "no-constant-condition": "warn",
      "eqeqeq": "warn",
      "no-eval": "error",
    },
  },
];
`

var lockfileNames = []string{"package-lock.json", "npm-shrinkwrap.json"}

// Defaults builds the style, security and performance adapters. Transient
// files (the fallback ESLint config) are written to scratch.
func Defaults(opts Options, runner *checks.Runner, scratch Scratch, logger *zap.SugaredLogger) *Registry {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	minRank := opts.MinComplexityRank
	if minRank == "" {
		minRank = "C"
	}

	build := func(name string, specs ...ToolSpec) *ToolAdapter {
		var kept []ToolSpec
		for _, s := range specs {
			if ov, ok := opts.Tools[s.Tool.Name]; ok {
				if ov.Disabled {
					continue
				}
				if ov.Binary != "" {
					s.Tool.Binary = ov.Binary
				}
				if ov.Timeout > 0 {
					s.Tool.Timeout = ov.Timeout
				}
				s.Tool.Args = append(s.Tool.Args, ov.ExtraArgs...)
			}
			if s.Tool.Timeout == 0 {
				s.Tool.Timeout = DefaultToolTimeouts[s.Tool.Name]
			}
			kept = append(kept, s)
		}
		a := NewToolAdapter(name, runner, logger, kept...)
		if opts.OnToolDone != nil {
			a.OnToolDone(func(r *checks.Result) { opts.OnToolDone(name, r) })
		}
		return a
	}

	python := []audit.Language{audit.LanguagePython}
	javascript := []audit.Language{audit.LanguageJavaScript}

	style := build(Style,
		ToolSpec{
			Tool: checks.Tool{
				Name: "ruff", Binary: "ruff", Parser: "ruff", Category: finding.CategoryStyle,
				Args:        []string{"check", "--output-format", "json", "--exit-zero", "--no-cache"},
				OKExitCodes: []int{0, 1},
			},
			Languages: python,
			Prepare:   filesOf(audit.LanguagePython),
		},
		ToolSpec{
			Tool: checks.Tool{
				Name: "eslint", Binary: "eslint", Parser: "eslint", Category: finding.CategoryStyle,
				Args:        []string{"--format", "json", "--no-error-on-unmatched-pattern"},
				OKExitCodes: []int{0, 1},
			},
			Languages: javascript,
			Prepare:   prepareESLint(scratch),
		},
	)

	security := build(Security,
		ToolSpec{
			Tool: checks.Tool{
				Name: "bandit", Binary: "bandit", Parser: "bandit", Category: finding.CategorySecurity,
				Args:        []string{"-f", "json", "-q"},
				OKExitCodes: []int{0, 1},
			},
			Languages: python,
			Prepare:   filesOf(audit.LanguagePython),
		},
		ToolSpec{
			Tool: checks.Tool{
				Name: "semgrep", Binary: "semgrep", Parser: "semgrep", Category: finding.CategorySecurity,
				Args:        []string{"scan", "--json", "--quiet", "--config", "auto", "--metrics", "off"},
				OKExitCodes: []int{0, 1},
			},
			Languages: []audit.Language{audit.LanguagePython, audit.LanguageJavaScript},
			Prepare:   filesOf(audit.LanguagePython, audit.LanguageJavaScript),
		},
		ToolSpec{
			Tool: checks.Tool{
				Name: "npm-audit", Binary: "npm", Parser: "npm-audit", Category: finding.CategorySecurity,
				Args:        []string{"audit", "--json", "--package-lock-only"},
				OKExitCodes: []int{0, 1},
			},
			Languages: javascript,
			Prepare:   prepareNPMAudit,
		},
	)

	performance := build(Performance,
		ToolSpec{
			Tool: checks.Tool{
				Name: "radon", Binary: "radon", Parser: "radon", Category: finding.CategoryPerformance,
				Args: []string{"cc", "-j", "-n", minRank},
			},
			Languages: python,
			Prepare:   filesOf(audit.LanguagePython),
			Keep: func(f finding.Finding) bool {
				return rankAtLeast(f.Rank, minRank)
			},
		},
	)

	return NewRegistry(style, security, performance)
}

func filesOf(langs ...audit.Language) func(string, *audit.Inventory, checks.Tool) (checks.Tool, func(), bool, error) {
	return func(_ string, inv *audit.Inventory, t checks.Tool) (checks.Tool, func(), bool, error) {
		return withFiles(t, inv, langs...), nil, true, nil
	}
}

func prepareESLint(scratch Scratch) func(string, *audit.Inventory, checks.Tool) (checks.Tool, func(), bool, error) {
	return func(repoPath string, inv *audit.Inventory, t checks.Tool) (checks.Tool, func(), bool, error) {
		for _, name := range eslintConfigNames {
			if fileExists(filepath.Join(repoPath, name)) {
				return withFiles(t, inv, audit.LanguageJavaScript), nil, true, nil
			}
		}
		if scratch == nil {
			t.Args = append(append([]string(nil), t.Args...), "--no-config-lookup")
			return withFiles(t, inv, audit.LanguageJavaScript), nil, true, nil
		}
		path, cleanup, err := scratch.TempFile("eslint-*.config.mjs", []byte(fallbackESLintConfig))
		if err != nil {
			return t, nil, false, err
		}
		t.Args = append(append([]string(nil), t.Args...), "--config", path)
		return withFiles(t, inv, audit.LanguageJavaScript), cleanup, true, nil
	}
}

// prepareNPMAudit runs npm audit only for a root package.json with a lockfile.
func prepareNPMAudit(repoPath string, _ *audit.Inventory, t checks.Tool) (checks.Tool, func(), bool, error) {
	if !fileExists(filepath.Join(repoPath, "package.json")) {
		return t, nil, false, nil
	}
	for _, name := range lockfileNames {
		if fileExists(filepath.Join(repoPath, name)) {
			return t, nil, true, nil
		}
	}
	return t, nil, false, nil
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

func rankAtLeast(rank, min string) bool {
	if rank == "" {
		return false
	}
	return rank >= min
}
