// Package catalog enumerates and memoizes the actions visible to a bot,
// merging the shared global scope with the bot-local scope, and owns the
// per-bot caches the rest of the execution pipeline reads through.
package catalog

import (
	"encoding/json"
	"log/slog"
	"path"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Location is the scope an action was enumerated from.
type Location string

const (
	LocationGlobal Location = "global"
	LocationLocal  Location = "local"
)

// ScriptExtension and HTTPScriptExtension are the filename conventions for
// action scripts. Files using HTTPScriptExtension follow the newer convention
// and are not legacy.
const (
	ScriptExtension     = ".go"
	HTTPScriptExtension = ".http.go"
)

// Definition identifies a loadable action. (Name, Location) is unique within
// a bot's visible set; merged listings may still contain the same name in
// both locations and callers resolve collisions by position.
type Definition struct {
	Name     string    `json:"name"`
	Location Location  `json:"location"`
	Legacy   bool      `json:"legacy"`
	Metadata *Metadata `json:"metadata,omitempty"`
}

// Metadata is the structured data statically extracted from a script header.
type Metadata struct {
	Title       string  `json:"title,omitempty" yaml:"title"`
	Category    string  `json:"category,omitempty" yaml:"category"`
	Description string  `json:"description,omitempty" yaml:"description"`
	Params      []Param `json:"params,omitempty" yaml:"params"`
}

// Param describes one declared script parameter.
type Param struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type,omitempty" yaml:"type"`
	Required    bool   `json:"required,omitempty" yaml:"required"`
	Default     any    `json:"default,omitempty" yaml:"default"`
	Description string `json:"description,omitempty" yaml:"description"`
}

const metadataSchemaJSON = `{
  "$schema": "https://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "title": {"type": "string"},
    "category": {"type": "string"},
    "description": {"type": "string"},
    "params": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "type": {"type": "string"},
          "required": {"type": "boolean"},
          "default": {},
          "description": {"type": "string"}
        },
        "required": ["name"],
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`

var metadataSchema = jsonschema.MustCompileString("action-metadata.json", metadataSchemaJSON)

const metadataMarker = "//meta:"

// nameFromPath derives the action name from a script path relative to the
// actions directory, stripping the script-extension suffixes.
func nameFromPath(rel string) (name string, legacy bool) {
	if strings.HasSuffix(rel, HTTPScriptExtension) {
		return strings.TrimSuffix(rel, HTTPScriptExtension), false
	}
	return strings.TrimSuffix(rel, ScriptExtension), true
}

// isDisabled reports whether the naming convention marks a script disabled.
// A leading dot on the basename disables the file.
func isDisabled(rel string) bool {
	return strings.HasPrefix(path.Base(rel), ".")
}

// extractMetadata parses the //meta: header comment of a script. Malformed or
// schema-invalid headers yield nil metadata with a warning; metadata is never
// load-bearing for execution.
func extractMetadata(source, name string, log *slog.Logger) *Metadata {
	lines := strings.Split(source, "\n")
	start := -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if trimmed == metadataMarker {
			start = i
		}
		break
	}
	if start == -1 {
		return nil
	}

	var b strings.Builder
	for _, line := range lines[start+1:] {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "//") {
			break
		}
		b.WriteString(strings.TrimPrefix(trimmed, "//"))
		b.WriteByte('\n')
	}

	var meta Metadata
	if err := yaml.Unmarshal([]byte(b.String()), &meta); err != nil {
		log.Warn("invalid action metadata header", "action", name, "error", err)
		return nil
	}
	if err := validateMetadata(&meta); err != nil {
		log.Warn("action metadata failed schema validation", "action", name, "error", err)
		return nil
	}
	return &meta
}

func validateMetadata(meta *Metadata) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return metadataSchema.Validate(v)
}
