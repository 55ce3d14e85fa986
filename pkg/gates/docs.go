package gates

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/plan"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/workspace"
)

// maxDocBytes bounds how much of a document is searched for a section.
const maxDocBytes = 1 << 20

// DocsGate requires listed documentation to exist, be non-empty and be part
// of the phase's change set. An entry "docs/api.md#Usage" additionally
// requires a "Usage" heading in the file.
type DocsGate struct{}

// Name implements Gate.
func (DocsGate) Name() string { return "docs" }

// Description implements Gate.
func (DocsGate) Description() string {
	return "Documentation was updated in this phase"
}

// IsEnabled implements Gate.
func (DocsGate) IsEnabled(phase *plan.Phase) bool {
	return phase.Gates.Docs != nil && len(phase.Gates.Docs.MustUpdate) > 0
}

// Run implements Gate.
func (DocsGate) Run(_ context.Context, phase *plan.Phase, _ *plan.Plan, rc *RunContext) ([]string, error) {
	changed := rc.ChangedFiles()
	if len(changed) == 0 {
		return []string{"Documentation gate: No changed files detected."}, nil
	}
	if rc.Workspace == nil {
		return nil, errors.New("no workspace guard configured")
	}

	var issues []string
	for _, entry := range phase.Gates.Docs.MustUpdate {
		doc := plan.DocPath(entry)
		_, anchor, _ := strings.Cut(entry, "#")

		info, err := rc.Workspace.Stat(doc)
		switch {
		case errors.Is(err, workspace.ErrOutsideWorkspace), errors.Is(err, os.ErrNotExist):
			issues = append(issues, fmt.Sprintf("Documentation not found: %s", doc))
			continue
		case err != nil:
			return nil, fmt.Errorf("failed to stat %s: %w", doc, err)
		case info.Mode().IsRegular() && info.Size() == 0:
			issues = append(issues, fmt.Sprintf("Documentation is empty: %s", doc))
			continue
		}

		if !docChanged(doc, info.IsDir(), changed) {
			issues = append(issues, fmt.Sprintf("Documentation not updated: %s", doc))
			continue
		}

		if anchor != "" && info.Mode().IsRegular() {
			data, _, err := rc.Workspace.ReadFile(doc, maxDocBytes)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", doc, err)
			}
			if !hasSection(data, anchor) {
				issues = append(issues, fmt.Sprintf("Documentation section not found: %s#%s", doc, anchor))
			}
		}
	}
	return issues, nil
}

// docChanged reports whether doc, or any file under it when it is a
// directory, is in the change set.
func docChanged(doc string, isDir bool, changed []string) bool {
	doc = strings.TrimSuffix(doc, "/")
	for _, f := range changed {
		if f == doc {
			return true
		}
		if isDir && strings.HasPrefix(f, doc+"/") {
			return true
		}
	}
	return false
}

func hasSection(data []byte, anchor string) bool {
	re := regexp.MustCompile(`(?im)^#+\s+` + regexp.QuoteMeta(anchor))
	return re.Match(data)
}
