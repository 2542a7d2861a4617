package runner

import "strings"

// Advisor annotates an accepted task with advisory hints. Implementations
// must be side-effect free; hints never affect admission or ordering.
type Advisor interface {
	Advise(spec TaskSpec) []string
}

// HeuristicAdvisor derives hints from the spec shape alone. It stands in for
// a learned planner when none is wired.
type HeuristicAdvisor struct{}

// Advise implements Advisor.
func (HeuristicAdvisor) Advise(spec TaskSpec) []string {
	var hints []string
	if spec.Command != "" {
		hints = append(hints, "tool:shell")
	}
	if spec.Path != "" {
		hints = append(hints, "tool:fileops")
	}
	if spec.Query != "" {
		hints = append(hints, "tool:search")
	}
	if t := strings.TrimSpace(spec.Type); t != "" && t != "general" {
		hints = append(hints, "category:"+t)
	}
	return hints
}
