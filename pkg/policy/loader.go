package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// EngineVersion is the classification engine version used to gate
// policy documents that depend on newer rule features.
const EngineVersion = "1.2.0"

// Document is the deploy-time YAML policy file.
type Document struct {
	Version              string   `yaml:"version" json:"version"`
	MinEngineVersion     string   `yaml:"min_engine_version,omitempty" json:"min_engine_version,omitempty"`
	FailClosed           bool     `yaml:"fail_closed,omitempty" json:"fail_closed,omitempty"`
	MandatoryTransitions []string `yaml:"mandatory_transitions" json:"mandatory_transitions"`
	Rules                []Rule   `yaml:"rules" json:"rules"`
}

const documentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["version", "rules"],
  "properties": {
    "version": {"type": "string", "minLength": 1},
    "min_engine_version": {"type": "string"},
    "fail_closed": {"type": "boolean"},
    "mandatory_transitions": {
      "type": "array",
      "items": {"type": "string", "minLength": 1}
    },
    "rules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["action", "class"],
        "properties": {
          "action": {"type": "string", "pattern": "^[a-z0-9_]+\\.[a-z0-9_]+$"},
          "class": {"enum": ["mandatory", "best-effort"]},
          "rationale": {"type": "string"},
          "when": {"type": "string"}
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`

// LoadFile reads, validates, and compiles a policy document from path.
func LoadFile(path string, opts ...Option) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read document: %w", err)
	}
	return Load(data, opts...)
}

// Load validates a YAML policy document against the embedded schema,
// gates it on the engine version, and compiles it into a Policy.
func Load(data []byte, opts ...Option) (*Policy, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("policy: parse document: %w", err)
	}

	schema, err := jsonschema.CompileString("policy.schema.json", documentSchema)
	if err != nil {
		return nil, fmt.Errorf("policy: compile schema: %w", err)
	}
	if err := schema.Validate(normalizeYAML(raw)); err != nil {
		return nil, fmt.Errorf("policy: document rejected by schema: %w", err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("policy: decode document: %w", err)
	}

	if doc.MinEngineVersion != "" {
		if err := checkEngineVersion(doc.MinEngineVersion); err != nil {
			return nil, err
		}
	}

	if doc.FailClosed {
		opts = append(opts, WithFailClosed(true))
	}
	return New(doc.Rules, doc.MandatoryTransitions, opts...), nil
}

func checkEngineVersion(min string) error {
	constraint, err := semver.NewConstraint(">= " + strings.TrimSpace(min))
	if err != nil {
		return fmt.Errorf("policy: invalid min_engine_version %q: %w", min, err)
	}
	engine := semver.MustParse(EngineVersion)
	if !constraint.Check(engine) {
		return fmt.Errorf("policy: document requires engine >= %s, running %s", min, EngineVersion)
	}
	return nil
}

// normalizeYAML converts YAML-decoded values into the JSON-shaped types
// the schema validator expects.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = normalizeYAML(val)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = normalizeYAML(val)
		}
		return s
	case int:
		return json.Number(fmt.Sprintf("%d", t))
	default:
		return v
	}
}
