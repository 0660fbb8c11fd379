// Provides the step-wise view of a URI used to walk hierarchical stores.

package uri

// StepKind is one of the four segment variants.
type StepKind int

const (
	// NamedSection is a traversable node with a concrete name.
	NamedSection StepKind = iota
	// WildcardSection is a traversable node matching any name at its depth.
	WildcardSection
	// NamedItem is a terminal node with a concrete name.
	NamedItem
	// WildcardItem is a terminal node matching the remainder of the path.
	WildcardItem
)

func (k StepKind) String() string {
	switch k {
	case NamedSection:
		return "named-section"
	case WildcardSection:
		return "wildcard-section"
	case NamedItem:
		return "named-item"
	case WildcardItem:
		return "wildcard-item"
	default:
		return "unknown"
	}
}

// Step is one segment of a URI together with its role.
type Step struct {
	Kind StepKind
	// Name is empty for wildcard steps.
	Name string
}

// IsItem reports whether the step is the terminal one.
func (s Step) IsItem() bool {
	return s.Kind == NamedItem || s.Kind == WildcardItem
}

// IsWild reports whether the step is a wildcard.
func (s Step) IsWild() bool {
	return s.Kind == WildcardSection || s.Kind == WildcardItem
}

// Steps returns the segments of u as sections followed by one item. A root
// URI has no steps.
func (u URI) Steps() []Step {
	steps := make([]Step, len(u.segments))
	last := len(u.segments) - 1
	for i, s := range u.segments {
		switch {
		case i == last && s == Wildcard:
			steps[i] = Step{Kind: WildcardItem}
		case i == last:
			steps[i] = Step{Kind: NamedItem, Name: s}
		case s == Wildcard:
			steps[i] = Step{Kind: WildcardSection}
		default:
			steps[i] = Step{Kind: NamedSection, Name: s}
		}
	}
	return steps
}
