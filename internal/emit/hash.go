package emit

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"

	"github.com/agentx-labs/abt/internal/source"
)

// Settings are the build options that change the compiled text.
type Settings struct {
	Variables          map[string]any `json:"variables"`
	HandoffSummary     string         `json:"handoff_summary"`
	MaxDepth           int            `json:"max_depth"`
	AllowHandoffCycles bool           `json:"allow_handoff_cycles"`
}

// SourceHash digests the canonical form of every unit in id order: the id,
// the kind, the metadata as sorted-key JSON and the body, each length
// prefixed. The settings follow as one sorted-key JSON field. Unchanged
// sources and settings always produce the same digest.
func SourceHash(idx *source.Index, settings Settings) (string, error) {
	h := sha256.New()
	for _, u := range idx.Units() {
		writeField(h, []byte(u.ID))
		writeField(h, []byte(u.Kind.String()))
		meta, err := u.Metadata.MarshalJSON()
		if err != nil {
			return "", fmt.Errorf("hashing %s: %w", u.ID, err)
		}
		writeField(h, meta)
		writeField(h, []byte(u.Body))
	}

	settings.Variables, _ = source.Normalize(settings.Variables).(map[string]any)
	data, err := json.Marshal(settings)
	if err != nil {
		return "", fmt.Errorf("hashing build settings: %w", err)
	}
	writeField(h, data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeField(h hash.Hash, b []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(b)))
	h.Write(n[:])
	h.Write(b)
}
