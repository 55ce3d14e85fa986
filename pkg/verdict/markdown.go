package verdict

import (
	"fmt"
	"strings"
	"time"
)

// RenderRejection formats a rejection for the agent to read.
func RenderRejection(v *Verdict) string {
	var md strings.Builder

	md.WriteString(fmt.Sprintf("# Critique: %s\n\n", v.PhaseID))
	md.WriteString(fmt.Sprintf("**Run:** %s\n\n", v.RunID))
	md.WriteString(fmt.Sprintf("**Timestamp:** %s\n\n", v.Timestamp.Format(time.RFC3339)))
	md.WriteString(fmt.Sprintf("**Category:** %s\n\n", v.Category))

	md.WriteString(fmt.Sprintf("## Issues Found (%d)\n\n", v.IssueCount))
	for _, issue := range v.Issues {
		lines := strings.Split(issue, "\n")
		md.WriteString("- " + lines[0] + "\n")
		for _, line := range lines[1:] {
			md.WriteString("  " + line + "\n")
		}
	}
	md.WriteString("\n")

	if len(v.GateResults) > 0 {
		md.WriteString("## Gates\n\n")
		for _, r := range v.GateResults {
			status := "✅"
			if !r.Passed() {
				status = "❌"
			}
			md.WriteString(fmt.Sprintf("%s **%s**", status, r.Gate))
			if n := len(r.Issues); n > 0 {
				md.WriteString(fmt.Sprintf(" (%d issue(s))", n))
			}
			md.WriteString("\n")
		}
		md.WriteString("\n")
	}

	md.WriteString("## Resolution\n\n")
	switch v.Category {
	case CategoryTamper:
		md.WriteString("Restore the protocol files to their committed state. If the change was intended, an operator must regenerate the manifest with `phasectl manifest generate`.\n")
	case CategoryStateCorruption:
		md.WriteString("The plan or manifest changed after the phase started. Restore them, or restart the phase with `phasectl start " + v.PhaseID + "`.\n")
	case CategoryPlan:
		md.WriteString("Fix `.repo/plan.yaml` and check it with `phasectl validate`.\n")
	default:
		md.WriteString("Address the issues above and re-run `phasectl review " + v.PhaseID + "`.\n")
	}
	return md.String()
}

// RenderApproval formats the approval marker.
func RenderApproval(v *Verdict) string {
	var md strings.Builder
	md.WriteString(fmt.Sprintf("Phase %s approved\n", v.PhaseID))
	md.WriteString(fmt.Sprintf("Run: %s\n", v.RunID))
	md.WriteString(fmt.Sprintf("Timestamp: %s\n", v.Timestamp.Format(time.RFC3339)))
	if len(v.GateResults) > 0 {
		names := make([]string, 0, len(v.GateResults))
		for _, r := range v.GateResults {
			names = append(names, r.Gate)
		}
		md.WriteString(fmt.Sprintf("Gates passed: %s\n", strings.Join(names, ", ")))
	}
	return md.String()
}
