package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type thing struct {
	id  string
	tag string
}

func (t *thing) Key() string { return t.id }

func TestInsertOrGetReturnsExisting(t *testing.T) {
	r := New[*thing]()

	first := r.InsertOrGet(&thing{id: "a", tag: "first"})
	require.Equal(t, "first", first.tag)

	second := r.InsertOrGet(&thing{id: "a", tag: "second"})
	assert.Same(t, first, second, "InsertOrGet must return the stored value, not the new one")
	assert.Equal(t, "first", second.tag)
	assert.Equal(t, 1, r.Len())
}

func TestReplaceOverwrites(t *testing.T) {
	r := New[*thing]()
	r.InsertOrGet(&thing{id: "a", tag: "first"})

	r.Replace(&thing{id: "a", tag: "second"})

	v, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, "second", v.tag)
	assert.Equal(t, 1, r.Len())
}

func TestValuesPreserveInsertionOrder(t *testing.T) {
	r := New[*thing]()
	r.InsertOrGet(&thing{id: "b", tag: "1"})
	r.InsertOrGet(&thing{id: "a", tag: "2"})
	r.InsertOrGet(&thing{id: "c", tag: "3"})

	values := r.Values()
	require.Len(t, values, 3)
	assert.Equal(t, []string{"b", "a", "c"}, []string{values[0].id, values[1].id, values[2].id})
}

func TestReplaceMovesToEndOfOrder(t *testing.T) {
	r := New[*thing]()
	r.InsertOrGet(&thing{id: "a", tag: "1"})
	r.InsertOrGet(&thing{id: "b", tag: "2"})
	r.Replace(&thing{id: "a", tag: "3"})

	values := r.Values()
	require.Len(t, values, 2)
	assert.Equal(t, "b", values[0].id)
	assert.Equal(t, "a", values[1].id)
}

func TestDelete(t *testing.T) {
	r := New[*thing]()
	r.InsertOrGet(&thing{id: "a", tag: "1"})
	r.Delete("a")

	_, ok := r.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Values())
}
