package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/omnivurse/crm-eco-sub011/pkg/schema"
)

// Definition formats accepted by ParseDefinition.
const (
	FormatAuto = ""
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// ParseDefinition decodes a sequence definition. Unknown fields are rejected
// in both formats. FormatAuto treats input starting with '{' as JSON.
func ParseDefinition(data []byte, format string) (*schema.SequenceDefinition, error) {
	if format == FormatAuto {
		format = detectFormat(data)
	}

	def := &schema.SequenceDefinition{}
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(def); err != nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "invalid JSON definition").WithCause(err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(def); err != nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "invalid YAML definition").WithCause(err)
		}
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unsupported definition format %q", format)
	}
	return def, nil
}

// LoadDefinitionFile reads and decodes a definition, choosing the format by
// file extension.
func LoadDefinitionFile(path string) (*schema.SequenceDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}
	format := FormatAuto
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		format = FormatJSON
	case ".yaml", ".yml":
		format = FormatYAML
	}
	return ParseDefinition(data, format)
}

func detectFormat(data []byte) string {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return FormatJSON
	}
	return FormatYAML
}
