package graph

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeKindConstants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		kind     NodeKind
		expected string
	}{
		{"Class", NodeClass, "class"},
		{"Method", NodeMethod, "method"},
		{"Field", NodeField, "field"},
		{"Namespace", NodeNamespace, "namespace"},
		{"Table", NodeTable, "table"},
		{"View", NodeView, "view"},
		{"Procedure", NodeProcedure, "procedure"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, string(tt.kind))
		})
	}
}

func TestGenerateEdgeID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "calls:code:A->code:B", GenerateEdgeID(EdgeCalls, "code:A", "code:B"))
	assert.Equal(t, "query_trace:code:A->schema:dbo.T", GenerateEdgeID(EdgeQueryTrace, "code:A", "schema:dbo.T"))
}

func TestAttrValue(t *testing.T) {
	t.Parallel()

	t.Run("Accessors", func(t *testing.T) {
		t.Parallel()

		s, ok := Str("x").AsString()
		assert.True(t, ok)
		assert.Equal(t, "x", s)

		_, ok = Str("x").AsNumber()
		assert.False(t, ok)

		n, ok := Num(0.8).AsNumber()
		assert.True(t, ok)
		assert.Equal(t, 0.8, n)

		b, ok := Bool(true).AsBool()
		assert.True(t, ok)
		assert.True(t, b)

		l, ok := List("a", "b").AsList()
		assert.True(t, ok)
		assert.Equal(t, []string{"a", "b"}, l)

		assert.Equal(t, ValueType(0), AttrValue{}.Type())
	})

	t.Run("ListIsCopied", func(t *testing.T) {
		t.Parallel()
		items := []string{"a"}
		v := List(items...)
		items[0] = "changed"
		got, _ := v.AsList()
		assert.Equal(t, []string{"a"}, got)
	})

	t.Run("JSONRoundTrip", func(t *testing.T) {
		t.Parallel()
		attrs := Attributes{
			"s": Str("v"),
			"n": Num(2),
			"b": Bool(false),
			"l": List("x", "y"),
		}
		data, err := json.Marshal(attrs)
		require.NoError(t, err)
		assert.JSONEq(t, `{"s":"v","n":2,"b":false,"l":["x","y"]}`, string(data))

		var back Attributes
		require.NoError(t, json.Unmarshal(data, &back))
		assert.Equal(t, attrs, back)
	})

	t.Run("RejectsNestedValues", func(t *testing.T) {
		t.Parallel()
		var v AttrValue
		assert.Error(t, json.Unmarshal([]byte(`{"a":1}`), &v))
		assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &v))
	})

	t.Run("TypedLookups", func(t *testing.T) {
		t.Parallel()
		attrs := Attributes{AttrIsDTO: Bool(true), AttrConfidence: Num(0.5), AttrOriginalKind: Str("dto")}
		assert.True(t, attrs.Bool(AttrIsDTO))
		assert.False(t, attrs.Bool(AttrIsEntity))
		assert.Equal(t, 0.5, attrs.Number(AttrConfidence))
		assert.Equal(t, "dto", attrs.String(AttrOriginalKind))
		assert.Equal(t, "", attrs.String(AttrIsDTO), "wrong variant reads as zero")
	})
}
