package loader

import (
	"bytes"
	"fmt"

	"github.com/agentx-labs/abt/internal/source"
	"go.yaml.in/yaml/v3"
)

const fence = "---"

// splitFrontmatter separates a leading YAML block delimited by "---" lines
// from the document body. A document that does not open with a fence has no
// frontmatter. Leading blank lines of the body are dropped.
func splitFrontmatter(data []byte) (header []byte, body []byte, err error) {
	data = bytes.TrimPrefix(data, []byte("\ufeff"))
	first, rest, _ := cutLine(data)
	if string(bytes.TrimRight(first, " \t\r")) != fence {
		return nil, data, nil
	}

	offset := len(data) - len(rest)
	for len(rest) > 0 {
		line, next, _ := cutLine(rest)
		if string(bytes.TrimRight(line, " \t\r")) == fence {
			header = data[offset : len(data)-len(rest)]
			return header, bytes.TrimLeft(next, "\r\n"), nil
		}
		rest = next
	}
	return nil, nil, fmt.Errorf("frontmatter opened with %q is never closed", fence)
}

func cutLine(data []byte) (line, rest []byte, found bool) {
	return bytes.Cut(data, []byte("\n"))
}

// parseMetadata decodes a YAML document into ordered metadata. An empty
// document yields empty metadata.
func parseMetadata(data []byte) (source.Metadata, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return source.MetadataFromNode(nil)
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return source.Metadata{}, fmt.Errorf("parsing YAML: %w", err)
	}
	md, err := source.MetadataFromNode(&node)
	if err != nil {
		return source.Metadata{}, fmt.Errorf("parsing YAML: %w", err)
	}
	return md, nil
}
