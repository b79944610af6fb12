package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/draftgate/draftgate/types"
)

// annotationsFile is where the agent declares rationale and dependency
// edges for its changes. The declarations are untrusted input: dangling
// or cyclic references are expected, and the supervisor validates them
// before apply.
const annotationsFile = "annotations.yaml"

// Annotation is one agent-declared note about a changed path.
type Annotation struct {
	Path      string   `yaml:"path"`
	Rationale string   `yaml:"rationale,omitempty"`
	DependsOn []string `yaml:"depends_on,omitempty"`
}

// applyAnnotations reads .draftgate/annotations.yaml from the overlay,
// if present, and attaches rationale and dependency edges to matching
// artifacts. Annotations for paths the draft does not touch are ignored.
func applyAnnotations(ws *Workspace, draft *types.DraftPackage) error {
	path := filepath.Join(ws.Dir, metaDir, annotationsFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var annotations []Annotation
	if err := yaml.Unmarshal(data, &annotations); err != nil {
		return fmt.Errorf("failed to parse artifact annotations: %w", err)
	}

	for _, ann := range annotations {
		artifact := draft.Artifact(types.FileURI(ann.Path))
		if artifact == nil {
			continue
		}
		artifact.Rationale = ann.Rationale
		for _, dep := range ann.DependsOn {
			artifact.DependsOn = append(artifact.DependsOn, types.FileURI(dep))
		}
	}
	return nil
}
