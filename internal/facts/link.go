package facts

// LinkKind names a directed relationship between two atoms.
// Unknown kinds are carried through unchanged.
type LinkKind string

const (
	LinkContains         LinkKind = "contains"
	LinkReferences       LinkKind = "references"
	LinkCalls            LinkKind = "calls"
	LinkInherits         LinkKind = "inherits"
	LinkImplements       LinkKind = "implements"
	LinkUsesType         LinkKind = "uses_type"
	LinkNameMatch        LinkKind = "name_match"
	LinkAttributeBinding LinkKind = "attribute_binding"
	LinkQueryTrace       LinkKind = "query_trace"
	LinkForeignKey       LinkKind = "foreign_key"
)

// IsCrossDomain reports whether the kind connects code atoms to schema atoms.
func (k LinkKind) IsCrossDomain() bool {
	switch k {
	case LinkNameMatch, LinkAttributeBinding, LinkQueryTrace:
		return true
	default:
		return false
	}
}

// Link is a directed relationship between two atom ids.
type Link struct {
	SourceID string   `json:"source" yaml:"source"`
	TargetID string   `json:"target" yaml:"target"`
	Kind     LinkKind `json:"kind" yaml:"kind"`

	// Confidence is in [0, 1]. Zero means the producer did not report one
	// and is treated as certain by Normalize.
	Confidence float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"`

	// Evidence is free-form text explaining why the link exists.
	Evidence string `json:"evidence,omitempty" yaml:"evidence,omitempty"`
}

// LinkKey identifies a link for deduplication.
type LinkKey struct {
	SourceID string
	Kind     LinkKind
	TargetID string
}

// Key returns the deduplication key of the link.
func (l Link) Key() LinkKey {
	return LinkKey{SourceID: l.SourceID, Kind: l.Kind, TargetID: l.TargetID}
}

// Normalize defaults a missing confidence to 1 and caps it at 1.
// Negative confidences are rejected by Bundle.Validate.
func (l Link) Normalize() Link {
	if l.Confidence == 0 || l.Confidence > 1 {
		l.Confidence = 1
	}
	return l
}
