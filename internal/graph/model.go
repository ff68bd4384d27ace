package graph

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
)

// NodeKind is the graph-level classification of a node. The builder maps
// extractor kinds onto this smaller vocabulary; unknown kinds pass through.
type NodeKind string

const (
	NodeClass     NodeKind = "class"
	NodeInterface NodeKind = "interface"
	NodeEnum      NodeKind = "enum"
	NodeMethod    NodeKind = "method"
	NodeFunction  NodeKind = "function"
	NodeField     NodeKind = "field"
	NodeNamespace NodeKind = "namespace"
	NodeFile      NodeKind = "file"
	NodeTable     NodeKind = "table"
	NodeView      NodeKind = "view"
	NodeColumn    NodeKind = "column"
	NodeProcedure NodeKind = "procedure"
)

// EdgeKind is the relationship type of an edge.
type EdgeKind string

const (
	EdgeContains         EdgeKind = "contains"
	EdgeReferences       EdgeKind = "references"
	EdgeCalls            EdgeKind = "calls"
	EdgeInherits         EdgeKind = "inherits"
	EdgeImplements       EdgeKind = "implements"
	EdgeUsesType         EdgeKind = "uses_type"
	EdgeNameMatch        EdgeKind = "name_match"
	EdgeAttributeBinding EdgeKind = "attribute_binding"
	EdgeQueryTrace       EdgeKind = "query_trace"
	EdgeForeignKey       EdgeKind = "foreign_key"
)

// Well-known attribute keys.
const (
	AttrOriginalKind  = "original_kind"
	AttrDomain        = "domain"
	AttrParent        = "parent"
	AttrFile          = "file"
	AttrLanguage      = "language"
	AttrVisibility    = "visibility"
	AttrDataType      = "data_type"
	AttrIsDTO         = "is_dto"
	AttrIsEntity      = "is_entity"
	AttrIsConstructor = "is_constructor"
	AttrEntryPoint    = "entry_point"
	AttrConfidence    = "confidence"
	AttrEvidence      = "evidence"
)

// ValueType tags the variant held by an AttrValue.
type ValueType uint8

const (
	ValueString ValueType = iota + 1
	ValueNumber
	ValueBool
	ValueList
)

// AttrValue is a closed variant: a string, a number, a bool or a list of
// strings. The zero value holds nothing and reports Type() == 0.
type AttrValue struct {
	typ  ValueType
	str  string
	num  float64
	b    bool
	list []string
}

// Str wraps a string attribute.
func Str(s string) AttrValue { return AttrValue{typ: ValueString, str: s} }

// Num wraps a numeric attribute.
func Num(n float64) AttrValue { return AttrValue{typ: ValueNumber, num: n} }

// Bool wraps a boolean attribute.
func Bool(b bool) AttrValue { return AttrValue{typ: ValueBool, b: b} }

// List wraps a string-list attribute. The slice is copied.
func List(items ...string) AttrValue {
	return AttrValue{typ: ValueList, list: slices.Clone(items)}
}

// Type returns the variant tag.
func (v AttrValue) Type() ValueType { return v.typ }

// AsString returns the string value and whether the variant is a string.
func (v AttrValue) AsString() (string, bool) { return v.str, v.typ == ValueString }

// AsNumber returns the numeric value and whether the variant is a number.
func (v AttrValue) AsNumber() (float64, bool) { return v.num, v.typ == ValueNumber }

// AsBool returns the boolean value and whether the variant is a bool.
func (v AttrValue) AsBool() (bool, bool) { return v.b, v.typ == ValueBool }

// AsList returns a copy of the list value and whether the variant is a list.
func (v AttrValue) AsList() ([]string, bool) {
	if v.typ != ValueList {
		return nil, false
	}
	return slices.Clone(v.list), true
}

// String renders the value for display and digests.
func (v AttrValue) String() string {
	switch v.typ {
	case ValueString:
		return v.str
	case ValueNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case ValueBool:
		return strconv.FormatBool(v.b)
	case ValueList:
		return fmt.Sprintf("%q", v.list)
	default:
		return ""
	}
}

// MarshalJSON encodes the held value as its natural JSON type.
func (v AttrValue) MarshalJSON() ([]byte, error) {
	switch v.typ {
	case ValueString:
		return json.Marshal(v.str)
	case ValueNumber:
		return json.Marshal(v.num)
	case ValueBool:
		return json.Marshal(v.b)
	case ValueList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes a JSON string, number, bool or string array.
func (v *AttrValue) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case nil:
		*v = AttrValue{}
	case string:
		*v = Str(x)
	case float64:
		*v = Num(x)
	case bool:
		*v = Bool(x)
	case []any:
		items := make([]string, 0, len(x))
		for _, item := range x {
			s, ok := item.(string)
			if !ok {
				return fmt.Errorf("attribute list item %v is not a string", item)
			}
			items = append(items, s)
		}
		*v = List(items...)
	default:
		return fmt.Errorf("unsupported attribute value %s", data)
	}
	return nil
}

// Attributes is a node or edge attribute map.
type Attributes map[string]AttrValue

// String returns the string attribute under key, or "".
func (a Attributes) String(key string) string {
	s, _ := a[key].AsString()
	return s
}

// Bool returns the bool attribute under key, or false.
func (a Attributes) Bool(key string) bool {
	b, _ := a[key].AsBool()
	return b
}

// Number returns the numeric attribute under key, or 0.
func (a Attributes) Number(key string) float64 {
	n, _ := a[key].AsNumber()
	return n
}

// GraphNode is a vertex of the knowledge graph.
type GraphNode struct {
	// ID is unique within a graph.
	ID string `json:"id"`

	// Name is the display name of the entity.
	Name string `json:"name"`

	// Kind is the mapped graph-level kind.
	Kind NodeKind `json:"kind"`

	// Namespace is the dotted container path (or database schema).
	Namespace string `json:"namespace,omitempty"`

	// Attributes carries tags such as original_kind or is_dto.
	Attributes Attributes `json:"attributes,omitempty"`

	// Navigation lists, filled by IndexHandle.PopulateNavigation.
	inbound  []*GraphEdge
	outbound []*GraphEdge
}

// Inbound returns edges whose target is this node, sorted by edge id.
// The slice belongs to the graph and must not be modified.
func (n *GraphNode) Inbound() []*GraphEdge { return n.inbound }

// Outbound returns edges whose source is this node, sorted by edge id.
// The slice belongs to the graph and must not be modified.
func (n *GraphNode) Outbound() []*GraphEdge { return n.outbound }

// InDegree returns the number of inbound edges.
func (n *GraphNode) InDegree() int { return len(n.inbound) }

// OutDegree returns the number of outbound edges.
func (n *GraphNode) OutDegree() int { return len(n.outbound) }

// GraphEdge is a directed edge of the knowledge graph.
type GraphEdge struct {
	// ID is unique within a graph.
	ID string `json:"id"`

	// SourceID and TargetID reference node ids.
	SourceID string `json:"source"`
	TargetID string `json:"target"`

	// Kind is the relationship type.
	Kind EdgeKind `json:"kind"`

	// Attributes carries confidence and evidence.
	Attributes Attributes `json:"attributes,omitempty"`

	// Resolved endpoints, filled by IndexHandle.PopulateNavigation.
	source *GraphNode
	target *GraphNode
}

// Source returns the resolved source node, or nil before navigation.
func (e *GraphEdge) Source() *GraphNode { return e.source }

// Target returns the resolved target node, or nil before navigation.
func (e *GraphEdge) Target() *GraphNode { return e.target }

// GenerateEdgeID builds the deterministic id of an edge.
func GenerateEdgeID(kind EdgeKind, sourceID, targetID string) string {
	return string(kind) + ":" + sourceID + "->" + targetID
}
