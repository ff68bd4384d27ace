package facts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidBundle is wrapped by every validation failure.
var ErrInvalidBundle = errors.New("invalid fact bundle")

// ScanMetadata describes where and when a bundle was produced.
type ScanMetadata struct {
	// Repository is an opaque repository identifier.
	Repository string    `json:"repository" yaml:"repository"`
	Branch     string    `json:"branch,omitempty" yaml:"branch,omitempty"`
	Commit     string    `json:"commit,omitempty" yaml:"commit,omitempty"`
	ScannedAt  time.Time `json:"scannedAt" yaml:"scannedAt"`
}

// Bundle is the output of one repository scan.
type Bundle struct {
	Scan        ScanMetadata `json:"scan" yaml:"scan"`
	CodeAtoms   []CodeAtom   `json:"codeAtoms,omitempty" yaml:"codeAtoms,omitempty"`
	SchemaAtoms []SchemaAtom `json:"schemaAtoms,omitempty" yaml:"schemaAtoms,omitempty"`
	Links       []Link       `json:"links,omitempty" yaml:"links,omitempty"`
}

// Atoms returns code atoms followed by schema atoms.
func (b *Bundle) Atoms() []Atom {
	atoms := make([]Atom, 0, len(b.CodeAtoms)+len(b.SchemaAtoms))
	for _, a := range b.CodeAtoms {
		atoms = append(atoms, a)
	}
	for _, a := range b.SchemaAtoms {
		atoms = append(atoms, a)
	}
	return atoms
}

// Validate checks the bundle for facts no consumer can handle.
// All problems are reported together.
func (b *Bundle) Validate() error {
	var errs []error
	if strings.TrimSpace(b.Scan.Repository) == "" {
		errs = append(errs, errors.New("scan.repository is empty"))
	}
	for _, a := range b.Atoms() {
		if err := ValidateID(a.AtomID()); err != nil {
			errs = append(errs, fmt.Errorf("atom %q: %w", a.AtomName(), err))
		}
	}
	for i, l := range b.Links {
		if err := ValidateID(l.SourceID); err != nil {
			errs = append(errs, fmt.Errorf("link %d source: %w", i, err))
		}
		if err := ValidateID(l.TargetID); err != nil {
			errs = append(errs, fmt.Errorf("link %d target: %w", i, err))
		}
		if l.Kind == "" {
			errs = append(errs, fmt.Errorf("link %d: kind is empty", i))
		}
		if l.Confidence < 0 {
			errs = append(errs, fmt.Errorf("link %d: negative confidence %v", i, l.Confidence))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrInvalidBundle, b.Scan.Repository, errors.Join(errs...))
}

// ValidateID rejects empty ids and ids containing the signature delimiter.
func ValidateID(id string) error {
	if id == "" {
		return errors.New("empty id")
	}
	if strings.Contains(id, SignatureDelimiter) {
		return fmt.Errorf("id %q contains the reserved signature delimiter", id)
	}
	return nil
}

// Format is the encoding of a bundle file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatForPath picks the bundle format from a file extension.
// The second result is false for unsupported extensions.
func FormatForPath(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, true
	case ".json":
		return FormatJSON, true
	default:
		return "", false
	}
}

// DecodeBundle reads one bundle from r and validates it.
func DecodeBundle(r io.Reader, format Format) (*Bundle, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle: %w", err)
	}

	var b Bundle
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&b)
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&b)
	default:
		return nil, fmt.Errorf("unsupported bundle format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrInvalidBundle, format, err)
	}

	for i := range b.Links {
		b.Links[i] = b.Links[i].Normalize()
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// LoadBundleFile reads a bundle from a .yaml, .yml or .json file.
func LoadBundleFile(path string) (*Bundle, error) {
	format, ok := FormatForPath(path)
	if !ok {
		return nil, fmt.Errorf("unsupported bundle file %s", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bundle: %w", err)
	}
	defer f.Close()

	b, err := DecodeBundle(f, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return b, nil
}

// EncodeBundle writes b to w in the given format.
func EncodeBundle(w io.Writer, b *Bundle, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(b)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(b); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported bundle format %q", format)
	}
}
