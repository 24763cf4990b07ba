package source

import (
	"encoding/json"
	"fmt"
	"sort"

	"go.yaml.in/yaml/v3"
)

// Metadata is an ordered mapping of string keys to scalar or structured
// values. Keys keep their source order; values are normalized to the
// JSON-compatible shapes produced by Normalize.
type Metadata struct {
	keys   []string
	values map[string]any
}

// MetadataFromNode decodes a YAML mapping node, preserving key order.
// A nil node or an empty document yields empty metadata.
func MetadataFromNode(node *yaml.Node) (Metadata, error) {
	if node == nil {
		return Metadata{}, nil
	}
	if node.Kind == yaml.DocumentNode {
		if len(node.Content) == 0 {
			return Metadata{}, nil
		}
		node = node.Content[0]
	}
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return Metadata{}, nil
	}
	if node.Kind != yaml.MappingNode {
		return Metadata{}, fmt.Errorf("metadata must be a mapping, got %s", nodeKindName(node.Kind))
	}

	md := Metadata{values: make(map[string]any, len(node.Content)/2)}
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valNode := node.Content[i], node.Content[i+1]
		var key string
		if err := keyNode.Decode(&key); err != nil {
			return Metadata{}, fmt.Errorf("line %d: metadata key: %w", keyNode.Line, err)
		}
		if _, dup := md.values[key]; dup {
			return Metadata{}, fmt.Errorf("line %d: duplicate metadata key %q", keyNode.Line, key)
		}
		var val any
		if err := valNode.Decode(&val); err != nil {
			return Metadata{}, fmt.Errorf("line %d: metadata %q: %w", valNode.Line, key, err)
		}
		md.keys = append(md.keys, key)
		md.values[key] = Normalize(val)
	}
	return md, nil
}

// MetadataFromMap builds metadata from a plain map. Keys are sorted because
// Go maps carry no order.
func MetadataFromMap(m map[string]any) Metadata {
	md := Metadata{values: make(map[string]any, len(m))}
	for k, v := range m {
		md.keys = append(md.keys, k)
		md.values[k] = Normalize(v)
	}
	sort.Strings(md.keys)
	return md
}

// Len returns the number of keys.
func (m Metadata) Len() int { return len(m.keys) }

// Keys returns the keys in source order.
func (m Metadata) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Get returns a copy of the raw value for key.
func (m Metadata) Get(key string) (any, bool) {
	v, ok := m.values[key]
	if !ok {
		return nil, false
	}
	return Normalize(v), true
}

// String returns the value for key when it is a string.
func (m Metadata) String(key string) (string, bool) {
	s, ok := m.values[key].(string)
	return s, ok
}

// Float returns the value for key when it is numeric.
func (m Metadata) Float(key string) (float64, bool) {
	switch v := m.values[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// Int returns the value for key when it is a whole number.
func (m Metadata) Int(key string) (int, bool) {
	switch v := m.values[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v == float64(int(v)) {
			return int(v), true
		}
	}
	return 0, false
}

// Strings returns the value for key when it is a list of strings.
func (m Metadata) Strings(key string) ([]string, bool) {
	list, ok := m.values[key].([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

// Map returns a deep copy of the metadata as a plain map.
func (m Metadata) Map() map[string]any {
	out := make(map[string]any, len(m.values))
	for k, v := range m.values {
		out[k] = Normalize(v)
	}
	return out
}

// MarshalJSON emits the metadata with sorted keys, which makes it usable as a
// canonical form for hashing.
func (m Metadata) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Map())
}

// Normalize recursively converts YAML-decoded values to JSON-compatible
// types and returns a fresh copy of every container.
func Normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = Normalize(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = Normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Normalize(item)
		}
		return out
	case int64:
		return int(val)
	case uint64:
		return int(val)
	case float32:
		return float64(val)
	default:
		return val
	}
}

func nodeKindName(k yaml.Kind) string {
	switch k {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "node"
	}
}
