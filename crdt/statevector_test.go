package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateVectorIncludes(t *testing.T) {
	sv := StateVector{"a": 3}

	assert.True(t, sv.Includes(ID{Site: "a", Seq: 1}))
	assert.True(t, sv.Includes(ID{Site: "a", Seq: 3}))
	assert.False(t, sv.Includes(ID{Site: "a", Seq: 4}))
	assert.False(t, sv.Includes(ID{Site: "b", Seq: 1}))
}

func TestStateVectorCopyIsIndependent(t *testing.T) {
	sv := StateVector{"a": 3}
	cp := sv.Copy()
	cp["a"] = 9
	cp["b"] = 1

	assert.Equal(t, uint64(3), sv["a"])
	assert.NotContains(t, sv, "b")
}
