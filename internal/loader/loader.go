package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/agentx-labs/abt/internal/diag"
	"github.com/agentx-labs/abt/internal/logging"
	"github.com/agentx-labs/abt/internal/source"
)

// SkillFile is the entry document of a directory-form skill.
const SkillFile = "SKILL.md"

// candidate is a file that defines a unit.
type candidate struct {
	id   source.UnitID
	path string // slash-separated, relative to the project root
}

// Load walks the kind directories under root and returns every unit found,
// sorted by id. All failures are collected; a non-empty error list means
// the returned units must not be built.
//
// Layout:
//
//	agents/<name>.md
//	skills/<name>/SKILL.md or skills/<name>.md
//	macros/<name>.md
//	tools/<name>.yaml, .yml or .json
//
// Names may be nested ("skills/billing/refunds"). Hidden files and
// directories are ignored.
func Load(ctx context.Context, root string) ([]source.Unit, diag.LoadErrors) {
	logger := logging.FromContext(ctx)

	info, err := os.Stat(root)
	if err != nil {
		return nil, diag.LoadErrors{{Path: root, Err: err}}
	}
	if !info.IsDir() {
		return nil, diag.LoadErrors{{Path: root, Err: errors.New("project root is not a directory")}}
	}

	var (
		cands []candidate
		errs  diag.LoadErrors
	)
	for _, kind := range source.ValidKinds {
		found, walkErrs := walkKind(root, kind)
		cands = append(cands, found...)
		errs = append(errs, walkErrs...)
	}

	byID := make(map[source.UnitID]string, len(cands))
	var units []source.Unit
	for _, c := range cands {
		if prev, dup := byID[c.id]; dup {
			errs = append(errs, &diag.LoadError{
				Path: c.path,
				Err:  fmt.Errorf("unit %s is already defined by %s", c.id, prev),
			})
			continue
		}
		byID[c.id] = c.path

		u, err := readUnit(root, c)
		if err != nil {
			errs = append(errs, &diag.LoadError{Path: c.path, Err: err})
			continue
		}
		units = append(units, u)
	}

	sort.Slice(units, func(i, j int) bool { return units[i].ID < units[j].ID })
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Path < errs[j].Path })

	logger.Debugw("Project loaded.", "root", root, "units", len(units), "errors", len(errs))
	if len(errs) > 0 {
		return units, errs
	}
	return units, nil
}

// walkKind finds the unit files of one kind directory. A missing directory
// is not an error.
func walkKind(root string, kind source.Kind) ([]candidate, diag.LoadErrors) {
	kindDir := filepath.Join(root, kind.Dir())
	if _, err := os.Stat(kindDir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, diag.LoadErrors{{Path: kind.Dir(), Err: err}}
	}

	var (
		result []candidate
		errs   diag.LoadErrors
	)
	err := filepath.WalkDir(kindDir, func(p string, d fs.DirEntry, err error) error {
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if err != nil {
			errs = append(errs, &diag.LoadError{Path: rel, Err: err})
			return nil
		}
		if p != kindDir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		name, ok := unitName(kindDir, p, kind)
		if !ok {
			return nil
		}
		id, idErr := source.ParseUnitID(kind.Dir() + "/" + name)
		if idErr != nil {
			errs = append(errs, &diag.LoadError{Path: rel, Err: idErr})
			return nil
		}
		result = append(result, candidate{id: id, path: rel})
		return nil
	})
	if err != nil {
		errs = append(errs, &diag.LoadError{Path: kind.Dir(), Err: err})
	}
	return result, errs
}

// unitName derives the unit name for a file, or reports false when the file
// does not define a unit of kind.
func unitName(kindDir, p string, kind source.Kind) (string, bool) {
	rel, err := filepath.Rel(kindDir, p)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	base := path.Base(rel)
	ext := path.Ext(rel)

	switch kind {
	case source.KindTool:
		switch ext {
		case ".yaml", ".yml", ".json":
			return strings.TrimSuffix(rel, ext), true
		}
		return "", false
	case source.KindSkill:
		if base == SkillFile {
			dir := path.Dir(rel)
			if dir == "." {
				return "", false
			}
			return dir, true
		}
		// Markdown next to a SKILL.md belongs to that skill.
		if _, err := os.Stat(filepath.Join(filepath.Dir(p), SkillFile)); err == nil {
			return "", false
		}
		fallthrough
	default:
		if ext != ".md" {
			return "", false
		}
		return strings.TrimSuffix(rel, ext), true
	}
}

// readUnit reads and parses one unit file.
func readUnit(root string, c candidate) (source.Unit, error) {
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(c.path)))
	if err != nil {
		return source.Unit{}, fmt.Errorf("reading file: %w", err)
	}

	u := source.Unit{ID: c.id, Kind: c.id.Kind(), Path: c.path}
	if u.Kind == source.KindTool {
		u.Metadata, err = parseMetadata(data)
		if err != nil {
			return source.Unit{}, err
		}
		return u, nil
	}

	header, body, err := splitFrontmatter(data)
	if err != nil {
		return source.Unit{}, err
	}
	u.Metadata, err = parseMetadata(header)
	if err != nil {
		return source.Unit{}, fmt.Errorf("frontmatter: %w", err)
	}
	u.Body = string(body)
	return u, nil
}
