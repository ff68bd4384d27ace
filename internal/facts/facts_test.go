package facts

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		domain    Domain
		namespace string
		atom      string
		expected  string
	}{
		{"CodeWithNamespace", DomainCode, "Shop.Orders", "OrderService", "code:Shop.Orders.OrderService"},
		{"SchemaWithSchema", DomainSchema, "dbo", "Orders", "schema:dbo.Orders"},
		{"NoNamespace", DomainCode, "", "main", "code:main"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, CanonicalID(tt.domain, tt.namespace, tt.atom))
		})
	}
}

func TestVisit(t *testing.T) {
	t.Parallel()

	kind := func(a Atom) (string, error) {
		return Visit(a,
			func(c CodeAtom) string { return "code/" + string(c.Kind) },
			func(s SchemaAtom) string { return "schema/" + string(s.Kind) },
		)
	}

	t.Run("CodeAtom", func(t *testing.T) {
		t.Parallel()
		got, err := kind(CodeAtom{ID: "code:A", Kind: CodeClass})
		require.NoError(t, err)
		assert.Equal(t, "code/class", got)
	})

	t.Run("SchemaAtomPointer", func(t *testing.T) {
		t.Parallel()
		got, err := kind(&SchemaAtom{ID: "schema:dbo.T", Kind: SchemaTable})
		require.NoError(t, err)
		assert.Equal(t, "schema/table", got)
	})

	t.Run("NilAtom", func(t *testing.T) {
		t.Parallel()
		_, err := kind(nil)
		assert.ErrorIs(t, err, ErrUnknownAtom)
	})

	t.Run("NilPointers", func(t *testing.T) {
		t.Parallel()
		for _, a := range []Atom{(*CodeAtom)(nil), (*SchemaAtom)(nil)} {
			_, err := kind(a)
			assert.ErrorIs(t, err, ErrUnknownAtom, "%T", a)
		}
	})
}

func TestAtomIdentity(t *testing.T) {
	t.Parallel()

	code := CodeAtom{ID: "code:Shop.Order", Name: "Order", Kind: CodeEntity, Namespace: "Shop"}
	schema := SchemaAtom{ID: "schema:dbo.Order", Name: "Order", Kind: SchemaTable, Schema: "dbo"}

	assert.Equal(t, Identity{Name: "Order", Kind: "entity", Namespace: "Shop"}, code.Identity())
	assert.Equal(t, Identity{Name: "Order", Kind: "table", Namespace: "dbo"}, schema.Identity())
	assert.Equal(t, DomainCode, code.Domain())
	assert.Equal(t, DomainSchema, schema.Domain())

	renamed := WithID(code, "code:Shop.Order@billing")
	assert.Equal(t, "code:Shop.Order@billing", renamed.AtomID())
	assert.Equal(t, "code:Shop.Order", code.ID, "original must not change")
}

func TestTopLevelNamespace(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Shop", TopLevelNamespace("Shop.Orders.Api"))
	assert.Equal(t, "dbo", TopLevelNamespace("dbo"))
	assert.Equal(t, "", TopLevelNamespace(""))
}

func TestLinkNormalize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1.0, Link{}.Normalize().Confidence)
	assert.Equal(t, 1.0, Link{Confidence: 3}.Normalize().Confidence)
	assert.Equal(t, 0.4, Link{Confidence: 0.4}.Normalize().Confidence)
	assert.True(t, LinkQueryTrace.IsCrossDomain())
	assert.False(t, LinkCalls.IsCrossDomain())
}

func TestBundleValidate(t *testing.T) {
	t.Parallel()

	t.Run("Valid", func(t *testing.T) {
		t.Parallel()
		b := &Bundle{
			Scan:      ScanMetadata{Repository: "shop"},
			CodeAtoms: []CodeAtom{{ID: "code:A", Name: "A", Kind: CodeClass}},
			Links:     []Link{{SourceID: "code:A", TargetID: "code:B", Kind: LinkCalls}},
		}
		assert.NoError(t, b.Validate())
	})

	t.Run("MissingRepository", func(t *testing.T) {
		t.Parallel()
		b := &Bundle{}
		assert.ErrorIs(t, b.Validate(), ErrInvalidBundle)
	})

	t.Run("DelimiterInID", func(t *testing.T) {
		t.Parallel()
		b := &Bundle{
			Scan:      ScanMetadata{Repository: "shop"},
			CodeAtoms: []CodeAtom{{ID: "code:A" + SignatureDelimiter + "B", Name: "A"}},
		}
		err := b.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reserved signature delimiter")
	})

	t.Run("ReportsAllProblems", func(t *testing.T) {
		t.Parallel()
		b := &Bundle{
			Scan:  ScanMetadata{Repository: "shop"},
			Links: []Link{{SourceID: "", TargetID: "code:B"}, {SourceID: "code:A", TargetID: "code:B", Kind: LinkCalls, Confidence: -1}},
		}
		err := b.Validate()
		require.Error(t, err)
		msg := err.Error()
		assert.Contains(t, msg, "link 0 source")
		assert.Contains(t, msg, "link 0: kind is empty")
		assert.Contains(t, msg, "negative confidence")
	})
}

const sampleBundleYAML = `scan:
  repository: shop-api
  branch: main
  commit: abc123
  scannedAt: 2026-01-02T03:04:05Z
codeAtoms:
  - id: code:Shop.OrderController
    name: OrderController
    kind: class
    namespace: Shop
schemaAtoms:
  - id: schema:dbo.Orders
    name: Orders
    kind: table
    schema: dbo
links:
  - source: code:Shop.OrderController
    target: schema:dbo.Orders
    kind: query_trace
    confidence: 0.7
  - source: code:Shop.OrderController
    target: code:Shop.OrderRepository
    kind: calls
`

func TestDecodeBundle(t *testing.T) {
	t.Parallel()

	t.Run("YAML", func(t *testing.T) {
		t.Parallel()
		b, err := DecodeBundle(strings.NewReader(sampleBundleYAML), FormatYAML)
		require.NoError(t, err)

		assert.Equal(t, "shop-api", b.Scan.Repository)
		assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), b.Scan.ScannedAt.UTC())
		assert.Len(t, b.Atoms(), 2)
		assert.Equal(t, 0.7, b.Links[0].Confidence)
		assert.Equal(t, 1.0, b.Links[1].Confidence, "missing confidence defaults to certain")
	})

	t.Run("JSONRoundTrip", func(t *testing.T) {
		t.Parallel()
		b, err := DecodeBundle(strings.NewReader(sampleBundleYAML), FormatYAML)
		require.NoError(t, err)

		var buf bytes.Buffer
		require.NoError(t, EncodeBundle(&buf, b, FormatJSON))

		again, err := DecodeBundle(&buf, FormatJSON)
		require.NoError(t, err)
		assert.Equal(t, b.CodeAtoms, again.CodeAtoms)
		assert.Equal(t, b.SchemaAtoms, again.SchemaAtoms)
		assert.Equal(t, b.Links, again.Links)
	})

	t.Run("UnknownField", func(t *testing.T) {
		t.Parallel()
		_, err := DecodeBundle(strings.NewReader("scan:\n  repository: x\nbogus: 1\n"), FormatYAML)
		assert.True(t, errors.Is(err, ErrInvalidBundle))
	})
}

func TestLoadBundleFile(t *testing.T) {
	t.Parallel()

	t.Run("LoadsYAMLFile", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "shop.yaml")
		require.NoError(t, os.WriteFile(path, []byte(sampleBundleYAML), 0o644))

		b, err := LoadBundleFile(path)
		require.NoError(t, err)
		assert.Equal(t, "shop-api", b.Scan.Repository)
	})

	t.Run("RejectsUnsupportedExtension", func(t *testing.T) {
		t.Parallel()
		_, err := LoadBundleFile(filepath.Join(t.TempDir(), "shop.txt"))
		assert.Error(t, err)
	})
}
