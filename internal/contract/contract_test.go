package contract

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/callsig/internal/model"
)

func params(n int) []model.ParameterInfo {
	ps := make([]model.ParameterInfo, n)
	for i := range ps {
		ps[i] = model.ParameterInfo{Name: fmt.Sprintf("a%d", i), Modifier: model.Required}
	}
	return ps
}

func rec(ret string, args ...string) model.Record {
	return model.Record{
		Method:     model.MethodInfo{Class: model.ClassInfo{FQN: "C"}, Name: "m"},
		Params:     params(len(args)),
		ArgTypes:   args,
		ReturnType: ret,
	}
}

func build(t *testing.T, recs ...model.Record) *Contract {
	t.Helper()
	c := New(recs[0])
	for _, r := range recs[1:] {
		require.NoError(t, c.AddRecord(r))
	}
	return c
}

// language enumerates every record of the given arity over alphabet that c
// accepts.
func language(c *Contract, arity int, alphabet []string) map[string]bool {
	out := make(map[string]bool)
	seq := make([]string, arity+1)
	var gen func(i int)
	gen = func(i int) {
		if i == len(seq) {
			r := rec(seq[arity], seq[:arity]...)
			if c.Accept(r) {
				out[fmt.Sprint(seq)] = true
			}
			return
		}
		for _, a := range alphabet {
			seq[i] = a
			gen(i + 1)
		}
	}
	gen(0)
	return out
}

var alphabet = []string{"A", "B", "C", model.ImplicitArgType}

func TestAcceptAfterConstruction(t *testing.T) {
	recs := []model.Record{
		rec("A", "A", "B"),
		rec("B", "A", "B"),
		rec("C", "C", "C"),
		rec("A", "-", "A"),
	}
	c := New(recs[0])
	assert.True(t, c.Accept(recs[0]))
	for _, r := range recs[1:] {
		require.NoError(t, c.AddRecord(r))
		assert.True(t, c.Accept(r), r.String())
	}
	for _, r := range recs {
		assert.True(t, c.Accept(r), r.String())
	}
	assert.False(t, c.Accept(rec("C", "A", "B")))
}

func TestZeroArity(t *testing.T) {
	c := New(rec("Integer"))
	assert.Equal(t, 0, c.Arity())
	assert.Equal(t, 2, c.NodeCount())
	assert.True(t, c.Accept(rec("Integer")))
	assert.False(t, c.Accept(rec("String")))
	require.NoError(t, c.AddRecord(rec("String")))
	assert.True(t, c.Accept(rec("String")))
}

func TestArityRejection(t *testing.T) {
	c := build(t, rec("A", "A", "B"))
	before := language(c, 2, alphabet)

	assert.False(t, c.Accept(rec("A", "A", "B", "C")))
	assert.False(t, c.Accept(rec("A", "A")))
	err := c.AddRecord(rec("A", "A", "B", "C"))
	assert.ErrorIs(t, err, ErrArityMismatch)
	assert.Equal(t, before, language(c, 2, alphabet))

	// Same arity with a different modifier is a different shape.
	r := rec("A", "A", "B")
	r.Params[1].Modifier = model.Optional
	assert.False(t, c.Accept(r))
	assert.ErrorIs(t, c.AddRecord(r), ErrArityMismatch)
}

func TestReferenceTransitions(t *testing.T) {
	c := New(rec("String", "String", "String"))
	// Return type equal to the first argument is stored as a reference, so a
	// different type in both slots is a different sequence.
	assert.False(t, c.Accept(rec("String", "Integer", "String")))
	assert.Equal(t, []string{"String"}, c.ReturnTypes([]string{"String", "String"}))
	assert.Nil(t, c.ReturnTypes([]string{"Integer", "String"}))

	// Implicit arguments never become references.
	d := New(rec("-", "-", "-"))
	assert.Equal(t, TypedTransition("-"), labelAt([]string{"-", "-", "-"}, 2))
	assert.True(t, d.Accept(rec("-", "-", "-")))
}

func TestMinimizePreservesLanguage(t *testing.T) {
	c := build(t,
		rec("A", "A", "B"),
		rec("A", "C", "B"),
		rec("B", "A", "A"),
		rec("C", "B", "B"),
		rec("C", "C", "C"),
	)
	before := language(c, 2, alphabet)
	nodes := c.NodeCount()

	c.Minimize()
	assert.Equal(t, before, language(c, 2, alphabet))
	assert.Less(t, c.NodeCount(), nodes)

	n, e := c.NodeCount(), c.EdgeCount()
	c.Minimize()
	assert.Equal(t, n, c.NodeCount())
	assert.Equal(t, e, c.EdgeCount())
}

func TestAddRecordAfterMinimize(t *testing.T) {
	c := build(t, rec("R", "A", "B"), rec("R", "C", "B"))
	c.Minimize()
	// A and C now share the level-1 node.
	assert.Equal(t, 4, c.NodeCount())

	require.NoError(t, c.AddRecord(rec("R", "A", "D")))
	assert.True(t, c.Accept(rec("R", "A", "D")))
	assert.True(t, c.Accept(rec("R", "C", "B")))
	assert.False(t, c.Accept(rec("R", "C", "D")))
}

func TestScenarioMergeAfterMinimize(t *testing.T) {
	x := build(t,
		rec("String", "String", "String"),
		rec("String", "Int", "String"),
		rec("String", "String", "Int"),
		rec("String", "Int", "Int"),
	)
	x.Minimize()

	require.NoError(t, x.MergeWith(New(rec("String", "Int", "Int"))))
	assert.True(t, x.Accept(rec("String", "Int", "Int")))
	assert.False(t, x.Accept(rec("Int", "String", "Int")))
}

func TestMergeIsUnion(t *testing.T) {
	a := build(t, rec("A", "A", "B"), rec("C", "B", "B"))
	b := build(t, rec("B", "A", "B"), rec("A", "C", "-"))
	d := build(t, rec("C", "C", "C"))

	want := language(a, 2, alphabet)
	for k := range language(b, 2, alphabet) {
		want[k] = true
	}
	for k := range language(d, 2, alphabet) {
		want[k] = true
	}

	ab := a.Clone()
	require.NoError(t, ab.MergeWith(b))
	require.NoError(t, ab.MergeWith(d))

	db := d.Clone()
	require.NoError(t, db.MergeWith(b))
	require.NoError(t, db.MergeWith(a))

	assert.Equal(t, want, language(ab, 2, alphabet))
	assert.Equal(t, want, language(db, 2, alphabet))
	assert.True(t, Equal(ab, db))

	assert.ErrorIs(t, a.MergeWith(New(rec("A", "A"))), ErrArityMismatch)
}

func TestEqual(t *testing.T) {
	a := build(t, rec("A", "A", "B"), rec("A", "C", "B"))
	b := build(t, rec("A", "C", "B"), rec("A", "A", "B"))
	b.Minimize()
	assert.True(t, Equal(a, b))
	assert.False(t, Equal(a, New(rec("A", "A", "B"))))
	assert.False(t, Equal(a, nil))
	assert.True(t, Equal(nil, nil))
}

func TestCloneIsIndependent(t *testing.T) {
	a := New(rec("A", "A"))
	b := a.Clone()
	require.NoError(t, b.AddRecord(rec("B", "B")))
	assert.False(t, a.Accept(rec("B", "B")))
	assert.True(t, b.Accept(rec("B", "B")))
}

func TestCodecRoundTrip(t *testing.T) {
	c := build(t,
		rec("A", "A", "B"),
		rec("A", "C", "B"),
		rec("B", "A", "A"),
		rec("-", "-", "C"),
	)
	c.Minimize()

	b, err := c.MarshalBinary()
	require.NoError(t, err)
	got, err := UnmarshalContract(b)
	require.NoError(t, err)

	assert.True(t, Equal(c, got))
	assert.Equal(t, c.Params(), got.Params())
	assert.Equal(t, language(c, 2, alphabet), language(got, 2, alphabet))

	again, err := got.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, b, again)

	// Decoded contracts can keep learning.
	require.NoError(t, got.AddRecord(rec("C", "C", "C")))
	assert.True(t, got.Accept(rec("C", "C", "C")))
}

func TestDecodeCorrupt(t *testing.T) {
	c := build(t, rec("A", "A", "B"), rec("B", "B", "B"))
	b, err := c.MarshalBinary()
	require.NoError(t, err)

	for i := 0; i < len(b); i++ {
		_, err := Decode(bytes.NewReader(b[:i]))
		assert.ErrorIs(t, err, ErrCorrupt, "truncated at %d", i)
	}

	_, err = UnmarshalContract(append(b, 0))
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = UnmarshalContract([]byte{0xff, 0xff, 0xff, 0xff})
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestLines(t *testing.T) {
	c := build(t,
		rec("Array", "String", "Integer"),
		rec("NilClass", "String", "Integer"),
		rec("String", "String", "String"),
	)
	c.Minimize()
	assert.Equal(t, []string{
		"(String, Integer) -> Array | NilClass",
		"(String, String) -> String",
	}, c.Lines(0))
	assert.Len(t, c.Lines(1), 1)
}
