package filestore

import (
	"encoding/json"
	"fmt"

	"github.com/phrazzld/agentflow/internal/domain"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Codec encodes session records to and from file contents.
type Codec interface {
	// Extension is the file extension, without the dot, used for records.
	Extension() string
	Marshal(record *domain.SessionRecord) ([]byte, error)
	Unmarshal(data []byte) (*domain.SessionRecord, error)
}

// CodecFor returns the codec registered under format (json, yaml or toml).
func CodecFor(format string) (Codec, error) {
	switch format {
	case "", "json":
		return JSONCodec{}, nil
	case "yaml", "yml":
		return YAMLCodec{}, nil
	case "toml":
		return TOMLCodec{}, nil
	default:
		return nil, fmt.Errorf("unsupported session file format %q", format)
	}
}

// JSONCodec stores records as indented JSON.
type JSONCodec struct{}

func (JSONCodec) Extension() string { return "json" }

func (JSONCodec) Marshal(record *domain.SessionRecord) ([]byte, error) {
	return json.MarshalIndent(record, "", "  ")
}

func (JSONCodec) Unmarshal(data []byte) (*domain.SessionRecord, error) {
	var rec domain.SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidFormat, err)
	}
	rec.Normalize()
	return &rec, nil
}

// YAMLCodec stores records as YAML documents.
type YAMLCodec struct{}

func (YAMLCodec) Extension() string { return "yaml" }

func (YAMLCodec) Marshal(record *domain.SessionRecord) ([]byte, error) {
	return yaml.Marshal(record)
}

func (YAMLCodec) Unmarshal(data []byte) (*domain.SessionRecord, error) {
	var rec domain.SessionRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidFormat, err)
	}
	rec.Normalize()
	return &rec, nil
}

// TOMLCodec stores records as TOML documents. TOML has no null, so records
// holding nil values are rejected instead of losing the key.
type TOMLCodec struct{}

func (TOMLCodec) Extension() string { return "toml" }

func (TOMLCodec) Marshal(record *domain.SessionRecord) ([]byte, error) {
	if path, ok := nullIn(record); ok {
		return nil, fmt.Errorf("%w: toml cannot store a null value at %s", domain.ErrValidation, path)
	}
	return toml.Marshal(record)
}

// nullIn returns the location of the first nil value nested in the record's
// partitions.
func nullIn(record *domain.SessionRecord) (string, bool) {
	check := func(name string, p domain.Partition) (string, bool) {
		if path, ok := nullValue(name+".data", p.Data); ok {
			return path, true
		}
		for i, h := range p.History {
			// A nil result is simply absent and decodes back to nil.
			if h.Result == nil {
				continue
			}
			if path, ok := nullValue(fmt.Sprintf("%s.history[%d].result", name, i), h.Result); ok {
				return path, true
			}
		}
		return "", false
	}

	if path, ok := check("shared", record.Shared); ok {
		return path, true
	}
	for _, ns := range record.NamespaceNames() {
		if path, ok := check("namespaces."+ns, record.Namespaces[ns]); ok {
			return path, true
		}
	}
	return "", false
}

func nullValue(path string, v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return path, true
	case map[string]any:
		for k, item := range val {
			if p, ok := nullValue(path+"."+k, item); ok {
				return p, true
			}
		}
	case []any:
		for i, item := range val {
			if p, ok := nullValue(fmt.Sprintf("%s[%d]", path, i), item); ok {
				return p, true
			}
		}
	}
	return "", false
}

func (TOMLCodec) Unmarshal(data []byte) (*domain.SessionRecord, error) {
	var rec domain.SessionRecord
	if err := toml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidFormat, err)
	}
	rec.Normalize()
	return &rec, nil
}
