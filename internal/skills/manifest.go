package skills

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/strandlabs/strand/pkg/models"
)

const (
	// SkillFilename is the expected manifest filename in a skill dir.
	SkillFilename = "SKILL.md"

	// FrontmatterDelimiter marks the YAML header boundaries.
	FrontmatterDelimiter = "---"

	// DefaultVersion applies when the header omits a version.
	DefaultVersion = "1.0.0"

	// optionalMarker in a parameter description flags it optional.
	optionalMarker = "可选"
)

// Manifest is a parsed SKILL.md.
type Manifest struct {
	Name         string   `yaml:"name"`
	Version      string   `yaml:"version"`
	Description  string   `yaml:"description"`
	Author       string   `yaml:"author"`
	Dependencies []string `yaml:"dependencies"`

	// Actions are the tool actions declared in the body.
	Actions []Action `yaml:"-"`

	// Dir is the directory the manifest was loaded from.
	Dir string `yaml:"-"`
}

// Action is one `### <name>` block under `## Actions`.
type Action struct {
	Name        string
	Description string
	Params      []Param

	schemaJSON json.RawMessage
	schema     *jsonschema.Schema
}

// Param is one declared action parameter.
type Param struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

// paramBullet matches both accepted parameter bullet shapes:
//
//	- **参数**: `name` (type) - description
//	- `name` (type) - description
var paramBullet = regexp.MustCompile("^-\\s+(?:\\*\\*[^*]+\\*\\*:\\s*)?`([^`]+)`\\s*\\(([^)]*)\\)\\s*-\\s*(.*)$")

var actionsHeading = regexp.MustCompile(`(?i)^##\s+Actions\s*$`)

// ParseManifestFile reads and parses the SKILL.md at path. Defaults:
// name from the skill directory, version "1.0.0".
func ParseManifestFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(data, filepath.Dir(path))
}

// ParseManifest parses SKILL.md content. dir is the skill directory,
// used as the name default.
func ParseManifest(data []byte, dir string) (*Manifest, error) {
	frontmatter, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, fmt.Errorf("split frontmatter: %w", err)
	}

	var m Manifest
	if len(frontmatter) > 0 {
		if err := yaml.Unmarshal(frontmatter, &m); err != nil {
			return nil, fmt.Errorf("parse frontmatter: %w", err)
		}
	}
	if m.Name == "" {
		m.Name = filepath.Base(dir)
	}
	if m.Version == "" {
		m.Version = DefaultVersion
	}
	m.Dir = dir
	m.Actions = parseActions(body)
	for i := range m.Actions {
		if err := m.Actions[i].compileSchema(); err != nil {
			return nil, fmt.Errorf("action %s.%s: %w", m.Name, m.Actions[i].Name, err)
		}
	}
	return &m, nil
}

// splitFrontmatter separates the `---` delimited YAML header from the
// markdown body. A file without a header is all body.
func splitFrontmatter(data []byte) ([]byte, []byte, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !scanner.Scan() {
		return nil, nil, nil
	}
	first := strings.TrimSpace(scanner.Text())
	if first != FrontmatterDelimiter {
		return nil, data, nil
	}

	var frontmatterLines []string
	foundClosing := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == FrontmatterDelimiter {
			foundClosing = true
			break
		}
		frontmatterLines = append(frontmatterLines, line)
	}
	if !foundClosing {
		return nil, nil, fmt.Errorf("missing closing frontmatter delimiter")
	}

	var bodyLines []string
	for scanner.Scan() {
		bodyLines = append(bodyLines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("scanner error: %w", err)
	}

	return []byte(strings.Join(frontmatterLines, "\n")), []byte(strings.Join(bodyLines, "\n")), nil
}

// parseActions extracts `### <name>` blocks under the `## Actions`
// heading. The first non-bullet line of a block is its description;
// matching bullet lines declare parameters.
func parseActions(body []byte) []Action {
	var actions []Action
	var current *Action
	inActions := false

	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t")
		trimmed := strings.TrimSpace(line)

		switch {
		case actionsHeading.MatchString(trimmed):
			inActions = true
			current = nil
			continue
		case strings.HasPrefix(trimmed, "## "):
			// A new top-level section ends the actions block.
			inActions = false
			current = nil
			continue
		}
		if !inActions {
			continue
		}

		if name, ok := strings.CutPrefix(trimmed, "### "); ok {
			actions = append(actions, Action{Name: strings.TrimSpace(name)})
			current = &actions[len(actions)-1]
			continue
		}
		if current == nil || trimmed == "" {
			continue
		}

		if match := paramBullet.FindStringSubmatch(trimmed); match != nil {
			desc := strings.TrimSpace(match[3])
			current.Params = append(current.Params, Param{
				Name:        match[1],
				Type:        strings.TrimSpace(match[2]),
				Description: desc,
				Required:    !strings.Contains(desc, optionalMarker),
			})
			continue
		}
		if strings.HasPrefix(trimmed, "-") {
			// Non-parameter bullet, ignore.
			continue
		}
		if current.Description == "" {
			current.Description = trimmed
		}
	}
	return actions
}

// ToolDescriptors publishes one descriptor per action, named
// "<skill>.<action>", with an object parameter schema derived from the
// declared parameters.
func (m *Manifest) ToolDescriptors() ([]*models.ToolDescriptor, error) {
	out := make([]*models.ToolDescriptor, 0, len(m.Actions))
	for i := range m.Actions {
		action := &m.Actions[i]
		if err := action.compileSchema(); err != nil {
			return nil, fmt.Errorf("action %s.%s: %w", m.Name, action.Name, err)
		}
		out = append(out, &models.ToolDescriptor{
			Name:        m.Name + "." + action.Name,
			Description: action.Description,
			Parameters:  action.schemaJSON,
		})
	}
	return out, nil
}

// ValidateParams checks the call parameters against the action's
// declared schema: required parameters must be present and every
// value must match its declared type. An unknown action validates
// trivially; dispatch rejects it.
func (m *Manifest) ValidateParams(actionName string, params map[string]any) error {
	for i := range m.Actions {
		action := &m.Actions[i]
		if action.Name != actionName {
			continue
		}
		if err := action.compileSchema(); err != nil {
			return err
		}
		if params == nil {
			params = map[string]any{}
		}
		// Round-trip through JSON so handler-friendly Go values
		// (ints, typed slices) validate as their JSON shapes.
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode params: %w", err)
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("decode params: %w", err)
		}
		return action.schema.Validate(doc)
	}
	return nil
}

// compileSchema builds and compiles the action's parameter schema.
// Already-compiled actions are a no-op.
func (a *Action) compileSchema() error {
	if a.schema != nil {
		return nil
	}

	properties := make(map[string]any, len(a.Params))
	var required []string
	for _, p := range a.Params {
		properties[p.Name] = map[string]any{
			"type":        schemaType(p.Type),
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}

	doc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		doc["required"] = required
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	schema, err := jsonschema.CompileString("schema.json", string(data))
	if err != nil {
		return fmt.Errorf("invalid parameter schema: %w", err)
	}
	a.schemaJSON = data
	a.schema = schema
	return nil
}

func schemaType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "string", "number", "integer", "boolean", "object", "array":
		return strings.ToLower(strings.TrimSpace(t))
	case "int", "float":
		return "number"
	case "bool":
		return "boolean"
	default:
		return "string"
	}
}
