// Package facts defines the raw facts produced by language extractors and
// schema scanners: atoms (named code or schema entities) and the links
// between them.
//
// An Atom is a closed variant. Only CodeAtom and SchemaAtom implement it;
// consumers switch on the concrete type, or use Visit to get exhaustive
// handling without a default branch.
package facts

import (
	"errors"
	"strings"
)

// Domain separates code atoms from schema atoms.
type Domain string

const (
	DomainCode   Domain = "code"
	DomainSchema Domain = "schema"
)

// CodeKind is the kind reported by a language extractor.
type CodeKind string

const (
	CodeClass       CodeKind = "class"
	CodeInterface   CodeKind = "interface"
	CodeStruct      CodeKind = "struct"
	CodeRecord      CodeKind = "record"
	CodeEnum        CodeKind = "enum"
	CodeDTO         CodeKind = "dto"
	CodeEntity      CodeKind = "entity"
	CodeMethod      CodeKind = "method"
	CodeConstructor CodeKind = "constructor"
	CodeFunction    CodeKind = "function"
	CodeField       CodeKind = "field"
	CodeProperty    CodeKind = "property"
	CodeNamespace   CodeKind = "namespace"
	CodeModule      CodeKind = "module"
	CodeFile        CodeKind = "file"
)

// SchemaKind is the kind reported by a schema scanner.
type SchemaKind string

const (
	SchemaDatabase         SchemaKind = "database"
	SchemaSchema           SchemaKind = "schema"
	SchemaTable            SchemaKind = "table"
	SchemaView             SchemaKind = "view"
	SchemaMaterializedView SchemaKind = "materialized_view"
	SchemaColumn           SchemaKind = "column"
	SchemaProcedure        SchemaKind = "procedure"
	SchemaFunction         SchemaKind = "function"
	SchemaTrigger          SchemaKind = "trigger"
)

// SignatureDelimiter joins ids inside violation and cycle signatures.
// Validate rejects any id containing it.
const SignatureDelimiter = "\x1f"

// ErrUnknownAtom is returned when a value claiming to be an Atom is neither
// a CodeAtom nor a SchemaAtom (for example a nil interface).
var ErrUnknownAtom = errors.New("unknown atom variant")

// Identity is the (name, kind, namespace) triple used to decide whether two
// atoms sharing an id describe the same thing.
type Identity struct {
	Name      string
	Kind      string
	Namespace string
}

// Atom is implemented by CodeAtom and SchemaAtom only.
type Atom interface {
	AtomID() string
	AtomName() string
	AtomKind() string
	AtomNamespace() string
	AtomParent() string
	Domain() Domain
	Identity() Identity

	// withID returns a copy of the atom carrying a different id.
	withID(id string) Atom
	sealed()
}

// Location points at the source of an atom.
type Location struct {
	File      string `json:"file,omitempty" yaml:"file,omitempty"`
	StartLine int    `json:"startLine,omitempty" yaml:"startLine,omitempty"`
	EndLine   int    `json:"endLine,omitempty" yaml:"endLine,omitempty"`
}

// CodeAtom is a named code entity (type, member, module).
type CodeAtom struct {
	// ID is the canonical identifier, see CanonicalID.
	ID string `json:"id" yaml:"id"`

	// Name is the simple name of the entity.
	Name string `json:"name" yaml:"name"`

	// Kind is the extractor-reported kind.
	Kind CodeKind `json:"kind" yaml:"kind"`

	// Namespace is the dotted container path (package, module or namespace).
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`

	// Parent is the id of the enclosing type, if any.
	Parent string `json:"parent,omitempty" yaml:"parent,omitempty"`

	Location   Location `json:"location,omitzero" yaml:"location,omitempty"`
	Size       int      `json:"size,omitempty" yaml:"size,omitempty"`
	Visibility string   `json:"visibility,omitempty" yaml:"visibility,omitempty"`
	Language   string   `json:"language,omitempty" yaml:"language,omitempty"`

	// EntryPoint is set by extractors for program entry points (main
	// functions, HTTP handlers, test functions) that are never referenced.
	EntryPoint bool `json:"entryPoint,omitempty" yaml:"entryPoint,omitempty"`
}

func (a CodeAtom) AtomID() string        { return a.ID }
func (a CodeAtom) AtomName() string      { return a.Name }
func (a CodeAtom) AtomKind() string      { return string(a.Kind) }
func (a CodeAtom) AtomNamespace() string { return a.Namespace }
func (a CodeAtom) AtomParent() string    { return a.Parent }
func (a CodeAtom) Domain() Domain        { return DomainCode }

func (a CodeAtom) Identity() Identity {
	return Identity{Name: a.Name, Kind: string(a.Kind), Namespace: a.Namespace}
}

func (a CodeAtom) withID(id string) Atom {
	a.ID = id
	return a
}

func (CodeAtom) sealed() {}

// SchemaAtom is a named database entity (table, column, routine).
type SchemaAtom struct {
	ID   string     `json:"id" yaml:"id"`
	Name string     `json:"name" yaml:"name"`
	Kind SchemaKind `json:"kind" yaml:"kind"`

	// Schema is the owning database schema, used as the namespace.
	Schema string `json:"schema,omitempty" yaml:"schema,omitempty"`

	// Parent is the id of the owning table or view for columns.
	Parent string `json:"parent,omitempty" yaml:"parent,omitempty"`

	Location Location `json:"location,omitzero" yaml:"location,omitempty"`
	DataType string   `json:"dataType,omitempty" yaml:"dataType,omitempty"`
	Nullable bool     `json:"nullable,omitempty" yaml:"nullable,omitempty"`
	Dialect  string   `json:"dialect,omitempty" yaml:"dialect,omitempty"`
}

func (a SchemaAtom) AtomID() string        { return a.ID }
func (a SchemaAtom) AtomName() string      { return a.Name }
func (a SchemaAtom) AtomKind() string      { return string(a.Kind) }
func (a SchemaAtom) AtomNamespace() string { return a.Schema }
func (a SchemaAtom) AtomParent() string    { return a.Parent }
func (a SchemaAtom) Domain() Domain        { return DomainSchema }

func (a SchemaAtom) Identity() Identity {
	return Identity{Name: a.Name, Kind: string(a.Kind), Namespace: a.Schema}
}

func (a SchemaAtom) withID(id string) Atom {
	a.ID = id
	return a
}

func (SchemaAtom) sealed() {}

// Visit dispatches on the concrete atom variant. Every variant has its own
// callback, so adding a variant breaks every call site at compile time.
func Visit[T any](a Atom, onCode func(CodeAtom) T, onSchema func(SchemaAtom) T) (T, error) {
	switch v := a.(type) {
	case CodeAtom:
		return onCode(v), nil
	case *CodeAtom:
		if v == nil {
			break
		}
		return onCode(*v), nil
	case SchemaAtom:
		return onSchema(v), nil
	case *SchemaAtom:
		if v == nil {
			break
		}
		return onSchema(*v), nil
	}
	var zero T
	return zero, ErrUnknownAtom
}

// WithID returns a copy of the atom under a different id.
func WithID(a Atom, id string) Atom {
	return a.withID(id)
}

// CanonicalID builds the identifier every producer agrees on:
// "<domain>:<namespace>.<name>", or "<domain>:<name>" without a namespace.
func CanonicalID(domain Domain, namespace, name string) string {
	if namespace == "" {
		return string(domain) + ":" + name
	}
	return string(domain) + ":" + namespace + "." + name
}

// TopLevelNamespace returns the first dotted segment of a namespace.
func TopLevelNamespace(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[:i]
	}
	return namespace
}
