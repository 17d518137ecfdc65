// Package prompt renders the text sent to the generator and the markdown
// report from small logic-less templates.
package prompt

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	varRe      = regexp.MustCompile(`\{\{([a-zA-Z_][a-zA-Z0-9_]*)\}\}`)
	ifOpenRe   = regexp.MustCompile(`\{\{#if\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)
	ifCloseTag = "{{/if}}"
)

// Vars maps template variable names to values.
type Vars map[string]string

// Render expands tmpl. {{name}} is replaced by its value and a missing
// variable is an error. {{#if name}}...{{/if}} keeps its body only when
// name is set and non-empty; blocks nest. Values are inserted literally and
// never re-expanded, so finding text containing braces is safe.
func Render(tmpl string, vars Vars) (string, error) {
	body, err := resolveConditionals(tmpl, vars)
	if err != nil {
		return "", err
	}

	var missing []string
	out := varRe.ReplaceAllStringFunc(body, func(tag string) string {
		name := varRe.FindStringSubmatch(tag)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		missing = append(missing, name)
		return tag
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("missing template variables: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// resolveConditionals repeatedly pairs the first {{/if}} with the nearest
// {{#if}} before it, which is always the innermost open block.
func resolveConditionals(tmpl string, vars Vars) (string, error) {
	out := tmpl
	for {
		closeAt := strings.Index(out, ifCloseTag)
		if closeAt < 0 {
			break
		}
		opens := ifOpenRe.FindAllStringSubmatchIndex(out[:closeAt], -1)
		if len(opens) == 0 {
			return "", errors.New("dangling {{/if}} without matching {{#if}}")
		}
		open := opens[len(opens)-1]
		name := out[open[2]:open[3]]

		keep := ""
		if v := vars[name]; v != "" {
			keep = out[open[1]:closeAt]
		}
		out = out[:open[0]] + keep + out[closeAt+len(ifCloseTag):]
	}
	if tag := ifOpenRe.FindString(out); tag != "" {
		return "", fmt.Errorf("unclosed conditional block: %s", tag)
	}
	return out, nil
}

// Load returns the named template. A file of that name in dir overrides
// the built-in copy; dir may be empty.
func Load(name, dir string) (string, error) {
	if filepath.IsAbs(name) || strings.Contains(filepath.ToSlash(name), "/") {
		return "", fmt.Errorf("template name %q must be a bare file name", name)
	}
	if dir != "" {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("read template override %q: %w", name, err)
		}
	}
	if tmpl, ok := builtinTemplates[name]; ok {
		return tmpl, nil
	}
	return "", fmt.Errorf("template %q not found", name)
}
