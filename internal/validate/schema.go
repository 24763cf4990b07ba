package validate

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/agentx-labs/abt/internal/source"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

//go:embed schema/*.schema.json
var schemaFS embed.FS

var (
	compiledSchemas map[source.Kind]*jsonschema.Schema
	compileOnce     sync.Once
	compileErr      error
	printer         = message.NewPrinter(language.English)
)

// issue is a single schema violation.
type issue struct {
	Field   string // dotted instance location, e.g. "temperature" or "tools.1"
	Message string
}

// getSchemas compiles the embedded per-kind metadata schemas once.
func getSchemas() (map[source.Kind]*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiled := make(map[source.Kind]*jsonschema.Schema, len(source.ValidKinds))
		for _, k := range source.ValidKinds {
			name := k.String() + ".schema.json"
			data, err := schemaFS.ReadFile("schema/" + name)
			if err != nil {
				compileErr = fmt.Errorf("reading schema %s: %w", name, err)
				return
			}
			s, err := compileSchema(name, data)
			if err != nil {
				compileErr = err
				return
			}
			compiled[k] = s
		}
		compiledSchemas = compiled
	})
	return compiledSchemas, compileErr
}

func compileSchema(name string, data []byte) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshaling schema %s: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		return nil, fmt.Errorf("adding schema resource %s: %w", name, err)
	}
	s, err := c.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compiling schema %s: %w", name, err)
	}
	return s, nil
}

// toInstance converts metadata values into the representation the schema
// validator expects by round-tripping through JSON.
func toInstance(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("converting to JSON: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("preparing JSON for validation: %w", err)
	}
	return inst, nil
}

// checkMetadata validates a unit's metadata against the schema of its kind.
func checkMetadata(u source.Unit) ([]issue, error) {
	schemas, err := getSchemas()
	if err != nil {
		return nil, fmt.Errorf("loading schemas: %w", err)
	}
	s, ok := schemas[u.Kind]
	if !ok {
		return nil, fmt.Errorf("no schema for kind %s", u.Kind)
	}
	inst, err := toInstance(u.Metadata.Map())
	if err != nil {
		return nil, err
	}
	err = s.Validate(inst)
	if err == nil {
		return nil, nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return nil, fmt.Errorf("unexpected validation error type: %w", err)
	}
	return extractIssues(ve), nil
}

// checkParameterSchema reports whether a tool's parameters document compiles
// as a JSON Schema on its own.
func checkParameterSchema(id source.UnitID, params any) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("converting to JSON: %w", err)
	}
	_, err = compileSchema(strings.ReplaceAll(id.Name(), "/", "_")+".parameters.json", data)
	return err
}

// extractIssues walks the error tree and returns one issue per leaf. A
// missing required property yields one issue per missing field.
func extractIssues(ve *jsonschema.ValidationError) []issue {
	var issues []issue
	collectIssues(ve, &issues)
	if len(issues) == 0 {
		return []issue{{Message: ve.Error()}}
	}
	return deduplicateIssues(issues)
}

func collectIssues(ve *jsonschema.ValidationError, issues *[]issue) {
	if len(ve.Causes) > 0 {
		for _, cause := range ve.Causes {
			collectIssues(cause, issues)
		}
		return
	}
	if ve.ErrorKind == nil {
		return
	}

	field := strings.Join(ve.InstanceLocation, ".")
	if req, ok := ve.ErrorKind.(*kind.Required); ok {
		for _, missing := range req.Missing {
			*issues = append(*issues, issue{
				Field:   joinField(field, missing),
				Message: "missing required field",
			})
		}
		return
	}

	kwPath := ve.ErrorKind.KeywordPath()
	if len(kwPath) > 0 {
		switch kwPath[len(kwPath)-1] {
		case "allOf", "oneOf", "anyOf", "$ref":
			return
		}
	}
	*issues = append(*issues, issue{
		Field:   field,
		Message: ve.ErrorKind.LocalizedString(printer),
	})
}

func joinField(parent, child string) string {
	if parent == "" {
		return child
	}
	return parent + "." + child
}

// deduplicateIssues removes repeated issues and orders them by field.
func deduplicateIssues(issues []issue) []issue {
	seen := make(map[issue]bool, len(issues))
	var result []issue
	for _, is := range issues {
		if !seen[is] {
			seen[is] = true
			result = append(result, is)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Field != result[j].Field {
			return result[i].Field < result[j].Field
		}
		return result[i].Message < result[j].Message
	})
	return result
}
