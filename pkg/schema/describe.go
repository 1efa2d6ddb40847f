package schema

import (
	"fmt"
	"strings"
)

// Describe renders a human-readable description of the type, used when
// presenting a goal's contract to the model backend.
func (t Type) Describe() string {
	switch t.Kind {
	case KindEnum:
		return fmt.Sprintf("one of [%s]", strings.Join(t.Values, ", "))
	case KindNumber:
		return fmt.Sprintf("number in [%g, %g]", *t.Min, *t.Max)
	case KindRecord:
		parts := make([]string, 0, len(t.Fields))
		for _, f := range t.Fields {
			parts = append(parts, fmt.Sprintf("%s: %s", f.Name, f.Type.Describe()))
		}
		return fmt.Sprintf("object {%s}", strings.Join(parts, ", "))
	default:
		return string(t.Kind)
	}
}

// Contract renders the goal's full typed contract as prompt-ready text.
func (g *Goal) Contract() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Function: %s\n", g.Name)
	fmt.Fprintf(&sb, "Purpose: %s\n", g.Description)
	sb.WriteString("Inputs:\n")
	for _, p := range g.Inputs {
		fmt.Fprintf(&sb, "  %s: %s\n", p.Name, p.Type.Describe())
	}
	fmt.Fprintf(&sb, "Output: %s\n", g.Output.Describe())
	return sb.String()
}
