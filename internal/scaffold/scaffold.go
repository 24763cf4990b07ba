package scaffold

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/agentx-labs/abt/internal/branding"
)

//go:embed all:scaffolds
var scaffoldFS embed.FS

const projectSet = "scaffolds/project"

// ProjectData holds the template variables available to scaffold templates.
// Templates use [[ ]] delimiters so that unit bodies can carry {{ }} text
// verbatim.
type ProjectData struct {
	Name          string // project name, defaults to the directory name
	DisplayName   string
	ModelProvider string
	Output        string
}

// Result holds the outcome of a scaffold generation.
type Result struct {
	OutputDir string
	Files     []string // written, slash-separated and relative to OutputDir
	Skipped   []string // already present and left untouched
}

// NewProjectData creates ProjectData for a project directory.
func NewProjectData(dir, provider string) *ProjectData {
	name := filepath.Base(filepath.Clean(dir))
	if name == "." || name == string(filepath.Separator) {
		name = "my_project"
	}
	if provider == "" {
		provider = "openai"
	}
	return &ProjectData{
		Name:          name,
		DisplayName:   branding.DisplayName(),
		ModelProvider: provider,
		Output:        branding.DefaultOutput(),
	}
}

// Generate writes the starter project into outputDir. Files that already
// exist are never overwritten.
func Generate(data *ProjectData, outputDir string) (*Result, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	result := &Result{OutputDir: outputDir}
	err := fs.WalkDir(scaffoldFS, projectSet, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel := strings.TrimPrefix(p, projectSet+"/")
		outName := strings.TrimSuffix(rel, ".tmpl")
		outPath := filepath.Join(outputDir, filepath.FromSlash(outName))

		if _, err := os.Stat(outPath); err == nil {
			result.Skipped = append(result.Skipped, outName)
			return nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("checking %s: %w", outPath, err)
		}

		content, err := fs.ReadFile(scaffoldFS, p)
		if err != nil {
			return fmt.Errorf("reading template %s: %w", p, err)
		}
		if strings.HasSuffix(rel, ".tmpl") {
			content, err = execute(path.Base(p), content, data)
			if err != nil {
				return err
			}
		}

		if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
			return fmt.Errorf("creating directory for %s: %w", outPath, err)
		}
		if err := os.WriteFile(outPath, content, 0644); err != nil {
			return fmt.Errorf("writing %s: %w", outPath, err)
		}
		result.Files = append(result.Files, outName)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func execute(name string, tmplBytes []byte, data *ProjectData) ([]byte, error) {
	tmpl, err := template.New(name).Delims("[[", "]]").Option("missingkey=error").Parse(string(tmplBytes))
	if err != nil {
		return nil, fmt.Errorf("parsing template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("executing template %s: %w", name, err)
	}
	return buf.Bytes(), nil
}
