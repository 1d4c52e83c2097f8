// Package template expands per-host placeholders in remote commands.
package template

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Context provides data available in templates
type Context struct {
	Host string `json:"host"` // Canonical hostname the command runs on
	User string `json:"user"` // Login name, empty for the ssh default
}

// TemplateEngine provides command templating functionality
type TemplateEngine struct {
	templates map[string]*template.Template
}

// NewTemplateEngine creates a new template engine with the predefined
// templates registered
func NewTemplateEngine() *TemplateEngine {
	te := &TemplateEngine{
		templates: make(map[string]*template.Template),
	}
	for name, text := range PredefinedTemplates {
		// Predefined templates are covered by tests, a parse failure is a bug
		if err := te.RegisterTemplate(name, text); err != nil {
			panic(err)
		}
	}
	return te
}

// RegisterTemplate registers a named template
func (te *TemplateEngine) RegisterTemplate(name, templateStr string) error {
	tmpl, err := template.New(name).Funcs(templateFuncs()).Option("missingkey=error").Parse(templateStr)
	if err != nil {
		return fmt.Errorf("failed to parse template '%s': %w", name, err)
	}

	te.templates[name] = tmpl
	return nil
}

// Has reports whether a named template exists
func (te *TemplateEngine) Has(name string) bool {
	_, ok := te.templates[name]
	return ok
}

// Names lists the registered templates
func (te *TemplateEngine) Names() []string {
	names := make([]string, 0, len(te.templates))
	for name := range te.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExecuteTemplate executes a named template for one host
func (te *TemplateEngine) ExecuteTemplate(name string, ctx Context) (string, error) {
	tmpl, exists := te.templates[name]
	if !exists {
		return "", fmt.Errorf("template '%s' not found", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", name, err)
	}

	return strings.TrimSpace(buf.String()), nil
}

// ExecuteInlineTemplate executes an inline template string for one host
func (te *TemplateEngine) ExecuteInlineTemplate(templateStr string, ctx Context) (string, error) {
	tmpl, err := template.New("inline").Funcs(templateFuncs()).Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse inline template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("failed to execute inline template: %w", err)
	}

	return buf.String(), nil
}

// Expand renders command for ctx when it contains template syntax and
// returns it unchanged otherwise
func (te *TemplateEngine) Expand(command string, ctx Context) (string, error) {
	if !IsTemplate(command) {
		return command, nil
	}
	return te.ExecuteInlineTemplate(command, ctx)
}

// templateFuncs returns custom template functions
func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"upper":     strings.ToUpper,
		"lower":     strings.ToLower,
		"title":     cases.Title(language.English).String,
		"trim":      strings.TrimSpace,
		"replace":   strings.ReplaceAll,
		"hasPrefix": strings.HasPrefix,
		"hasSuffix": strings.HasSuffix,

		"hostShort": func(host string) string {
			if idx := strings.Index(host, "."); idx != -1 {
				return host[:idx]
			}
			return host
		},

		"hostDomain": func(host string) string {
			if idx := strings.Index(host, "."); idx != -1 {
				return host[idx+1:]
			}
			return ""
		},
	}
}

// PredefinedTemplates contains commonly used commands for --template
var PredefinedTemplates = map[string]string{
	"system-info": `
echo "=== System Information for {{.Host}} ==="
echo "Hostname: $(hostname)"
echo "Kernel: $(uname -sr)"
echo "Architecture: $(uname -m)"
echo "Uptime: $(uptime)"
echo "Memory: $(free -h | grep Mem)"
echo "Disk: $(df -h / | tail -1)"
`,

	"disk-usage": `df -hP -x tmpfs -x devtmpfs`,

	"memory": `free -m | awk 'NR==2 {printf "{{hostShort .Host}}: %s/%s MiB used\n", $3, $2}'`,

	"failed-units": `systemctl --failed --no-legend --plain`,
}

// IsTemplate checks if a command string contains template syntax
func IsTemplate(command string) bool {
	return strings.Contains(command, "{{") && strings.Contains(command, "}}")
}

// ValidateTemplate validates a template string without executing it
func ValidateTemplate(templateStr string) error {
	_, err := template.New("validation").Funcs(templateFuncs()).Parse(templateStr)
	return err
}
