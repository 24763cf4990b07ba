package source

import (
	"fmt"
	"strings"
)

// Kind is the unit type discriminator.
type Kind int

const (
	KindUnknown Kind = iota
	KindAgent
	KindSkill
	KindMacro
	KindTool
)

// ValidKinds lists every buildable kind in directory order.
var ValidKinds = []Kind{KindAgent, KindSkill, KindMacro, KindTool}

// String returns the singular lower-case name ("agent", "skill", ...).
func (k Kind) String() string {
	switch k {
	case KindAgent:
		return "agent"
	case KindSkill:
		return "skill"
	case KindMacro:
		return "macro"
	case KindTool:
		return "tool"
	default:
		return "unknown"
	}
}

// Dir returns the project directory that holds units of this kind.
func (k Kind) Dir() string {
	switch k {
	case KindAgent:
		return "agents"
	case KindSkill:
		return "skills"
	case KindMacro:
		return "macros"
	case KindTool:
		return "tools"
	default:
		return ""
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// KindFromDir maps a top-level project directory to its kind.
// "agents" -> KindAgent, "skills" -> KindSkill, unknown -> KindUnknown.
func KindFromDir(dir string) Kind {
	for _, k := range ValidKinds {
		if k.Dir() == dir {
			return k
		}
	}
	return KindUnknown
}

// UnitID is the stable, path-derived identifier of a unit, e.g.
// "skills/refund_policy". It is unique across a project.
type UnitID string

// NewUnitID joins a kind directory and a unit name.
func NewUnitID(kind Kind, name string) UnitID {
	return UnitID(kind.Dir() + "/" + name)
}

// ParseUnitID validates a raw id string. It rejects empty segments, relative
// segments, absolute paths, backslashes, and unknown kind directories.
func ParseUnitID(raw string) (UnitID, error) {
	if raw == "" {
		return "", fmt.Errorf("empty unit id")
	}
	if strings.HasPrefix(raw, "/") {
		return "", fmt.Errorf("unit id %q must be project-relative", raw)
	}
	if strings.ContainsAny(raw, "\\ \t\n") {
		return "", fmt.Errorf("unit id %q contains unsupported characters", raw)
	}
	parts := strings.Split(raw, "/")
	if len(parts) < 2 {
		return "", fmt.Errorf("unit id %q must have the form <kind-dir>/<name>", raw)
	}
	for _, p := range parts {
		switch p {
		case "":
			return "", fmt.Errorf("unit id %q has an empty path segment", raw)
		case ".", "..":
			return "", fmt.Errorf("unit id %q uses relative path segment %q", raw, p)
		}
	}
	if KindFromDir(parts[0]) == KindUnknown {
		return "", fmt.Errorf("unit id %q does not start with a known kind directory", raw)
	}
	return UnitID(raw), nil
}

// Kind returns the kind encoded in the id's first path segment.
func (id UnitID) Kind() Kind {
	dir, _, _ := strings.Cut(string(id), "/")
	return KindFromDir(dir)
}

// Name returns the id without its kind directory: "agents/triage" -> "triage".
func (id UnitID) Name() string {
	_, name, found := strings.Cut(string(id), "/")
	if !found {
		return string(id)
	}
	return name
}

func (id UnitID) String() string { return string(id) }

// Unit is the atomic buildable entity. Body is empty for pure-schema tools.
type Unit struct {
	ID       UnitID
	Kind     Kind
	Metadata Metadata
	Body     string
	Path     string // source file, relative to the project root
}

// ToolID maps a tool name as written in agent metadata to its unit id. The
// "tools/" prefix is optional.
func ToolID(name string) UnitID {
	prefix := KindTool.Dir() + "/"
	if strings.HasPrefix(name, prefix) {
		return UnitID(name)
	}
	return UnitID(prefix + name)
}
