package parsing

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/renholm/stagehand/pkg/schema"
)

// frontMatter is the YAML header of a workflow document.
type frontMatter struct {
	Name        string `yaml:"name"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
}

// Parse parses a workflow document: optional YAML front matter, a fenced
// mermaid stateDiagram block, and an "## Actions" section with one action
// line per state. fallbackName is used when the front matter carries no name
// (typically the file basename).
func Parse(src []byte, fallbackName string) (*schema.Definition, error) {
	fm, body, err := splitFrontMatter(string(src))
	if err != nil {
		return nil, err
	}

	def := &schema.Definition{
		Name:        fm.Name,
		Title:       fm.Title,
		Description: fm.Description,
		Transitions: make(map[string]string),
	}
	if def.Name == "" {
		def.Name = fallbackName
	}
	if def.Name == "" {
		return nil, schema.NewError(schema.ErrKindParse, "workflow has no name")
	}

	diagram, err := extractMermaid(body)
	if err != nil {
		return nil, err
	}
	if err := parseDiagram(diagram, def); err != nil {
		return nil, err
	}

	actions, err := parseActionsSection(body)
	if err != nil {
		return nil, err
	}

	// Attach actions to their states in transition-table order.
	for i := range def.States {
		line, ok := actions[def.States[i].Name]
		if !ok {
			continue // reported by semantic validation
		}
		desc, err := ParseActionLine(def.States[i].Name, line)
		if err != nil {
			return nil, err
		}
		def.States[i].Action = desc
		delete(actions, def.States[i].Name)
	}
	for state := range actions {
		return nil, schema.NewErrorf(schema.ErrKindParse,
			"action declared for unknown state %q", state).WithState(state)
	}

	return def, nil
}

// splitFrontMatter separates the optional leading "---" YAML block from the
// markdown body.
func splitFrontMatter(src string) (frontMatter, string, error) {
	var fm frontMatter

	trimmed := strings.TrimLeft(src, "\n")
	if !strings.HasPrefix(trimmed, "---\n") {
		return fm, src, nil
	}

	rest := trimmed[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end == -1 {
		return fm, "", schema.NewError(schema.ErrKindParse, "unterminated front matter block")
	}

	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return fm, "", schema.NewError(schema.ErrKindParse, "invalid front matter").WithCause(err)
	}

	body := rest[end+len("\n---"):]
	return fm, body, nil
}

// extractMermaid returns the contents of the first fenced mermaid block.
func extractMermaid(body string) ([]string, error) {
	lines := strings.Split(body, "\n")
	var block []string
	inBlock := false
	for _, line := range lines {
		t := strings.TrimSpace(line)
		if !inBlock {
			if strings.HasPrefix(t, "```mermaid") {
				inBlock = true
			}
			continue
		}
		if strings.HasPrefix(t, "```") {
			return block, nil
		}
		block = append(block, t)
	}
	if inBlock {
		return nil, schema.NewError(schema.ErrKindParse, "unterminated mermaid block")
	}
	return nil, schema.NewError(schema.ErrKindParse, "workflow document has no mermaid state diagram")
}

// parseDiagram fills the definition's states and transition table from a
// stateDiagram-v2 block. Supported lines: the header, transitions
// "A --> B" (with an optional ": label" suffix), and "%%" comments.
func parseDiagram(lines []string, def *schema.Definition) error {
	seen := make(map[string]bool)

	addState := func(name string) {
		if name == schema.TerminalMarker || seen[name] {
			return
		}
		seen[name] = true
		def.States = append(def.States, schema.State{Name: name})
	}

	headerSeen := false
	for _, line := range lines {
		if line == "" || strings.HasPrefix(line, "%%") {
			continue
		}
		if !headerSeen {
			if line != "stateDiagram-v2" && line != "stateDiagram" {
				return schema.NewErrorf(schema.ErrKindParse,
					"expected stateDiagram-v2 header, got %q", line)
			}
			headerSeen = true
			continue
		}

		// Strip transition labels ("A --> B: on success").
		if idx := strings.Index(line, ":"); idx != -1 {
			line = strings.TrimSpace(line[:idx])
		}

		from, to, ok := strings.Cut(line, "-->")
		if !ok {
			return schema.NewErrorf(schema.ErrKindParse, "unsupported diagram line %q", line)
		}
		from = strings.TrimSpace(from)
		to = strings.TrimSpace(to)
		if from == "" || to == "" {
			return schema.NewErrorf(schema.ErrKindParse, "malformed transition %q", line)
		}

		if from == schema.TerminalMarker {
			if def.Start != "" {
				return schema.NewErrorf(schema.ErrKindParse,
					"multiple start transitions: %q and %q", def.Start, to)
			}
			def.Start = to
			addState(to)
			continue
		}

		addState(from)
		addState(to)
		if existing, dup := def.Transitions[from]; dup {
			return schema.NewErrorf(schema.ErrKindParse,
				"state %q has multiple outgoing transitions (%q and %q)", from, existing, to).
				WithState(from)
		}
		def.Transitions[from] = to
	}

	if !headerSeen || len(def.Transitions) == 0 {
		return schema.NewError(schema.ErrKindParse, "state diagram declares no transitions")
	}
	if def.Start == "" {
		return schema.NewError(schema.ErrKindParse, "state diagram has no [*] --> start transition")
	}
	return nil
}

// parseActionsSection collects "- state: action line" entries under the
// "## Actions" heading. Returns a map of state name to raw action line.
func parseActionsSection(body string) (map[string]string, error) {
	lines := strings.Split(body, "\n")
	actions := make(map[string]string)

	inSection := false
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if strings.HasPrefix(line, "## ") {
			inSection = strings.EqualFold(line, "## Actions")
			continue
		}
		if !inSection || !strings.HasPrefix(line, "- ") {
			continue
		}

		entry := strings.TrimPrefix(line, "- ")
		state, action, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, schema.NewErrorf(schema.ErrKindParse,
				"malformed action entry %q: expected '- state: action'", line)
		}
		state = strings.TrimSpace(state)
		action = strings.TrimSpace(action)
		if state == "" || action == "" {
			return nil, schema.NewErrorf(schema.ErrKindParse,
				"malformed action entry %q: empty state or action", line)
		}
		if _, dup := actions[state]; dup {
			return nil, schema.NewErrorf(schema.ErrKindParse,
				"duplicate action entry for state %q", state).WithState(state)
		}
		actions[state] = action
	}
	return actions, nil
}

// LoadFile parses a workflow document from disk, using the file basename
// (without extension) as the fallback workflow name.
func LoadFile(path string) (*schema.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrKindIO, "read workflow %s: %s", path, err.Error()).WithCause(err)
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return Parse(data, base)
}

// Library resolves workflow names to parsed definitions from one or more
// directories of .md workflow documents. Definitions are loaded eagerly and
// shared read-only afterwards.
type Library struct {
	defs map[string]*schema.Definition
}

// NewLibrary scans the given directories for workflow documents. Later
// directories shadow earlier ones on name collision.
func NewLibrary(dirs ...string) (*Library, error) {
	lib := &Library{defs: make(map[string]*schema.Definition)}
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, schema.NewErrorf(schema.ErrKindIO, "scan workflow dir %s: %s", dir, err.Error()).WithCause(err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
				continue
			}
			def, err := LoadFile(filepath.Join(dir, e.Name()))
			if err != nil {
				return nil, err
			}
			lib.defs[def.Name] = def
		}
	}
	return lib, nil
}

// Get resolves a workflow definition by name.
func (l *Library) Get(name string) (*schema.Definition, error) {
	def, ok := l.defs[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrKindWorkflow, "workflow %q not found", name)
	}
	return def, nil
}

// Names returns the sorted names of all loaded workflows.
func (l *Library) Names() []string {
	names := make([]string, 0, len(l.defs))
	for n := range l.defs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Add registers an in-memory definition, shadowing any same-named document.
func (l *Library) Add(def *schema.Definition) {
	l.defs[def.Name] = def
}
