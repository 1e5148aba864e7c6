package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRef_Lifetime(t *testing.T) {
	r := newFakeResource()
	require.Equal(t, uint32(1), r.RefCount())

	ref := NewRef[Resource](r)
	assert.Equal(t, uint32(2), r.RefCount())
	assert.Same(t, r, ref.Get().(*fakeResource))

	clone := ref.Clone()
	assert.Equal(t, uint32(3), r.RefCount())

	ref.Release()
	assert.Equal(t, uint32(2), r.RefCount())

	// Release is idempotent.
	ref.Release()
	assert.Equal(t, uint32(2), r.RefCount())
	assert.Nil(t, ref.Get())

	clone.Release()
	assert.Equal(t, uint32(1), r.RefCount())
}

func TestRef_Assign(t *testing.T) {
	a := newFakeResource()
	b := newFakeResource()

	ref := NewRef[Resource](a)
	require.Equal(t, uint32(2), a.RefCount())

	ref.Assign(b)
	assert.Equal(t, uint32(1), a.RefCount(), "assign must release the previous target")
	assert.Equal(t, uint32(2), b.RefCount())

	// Assigning the current target changes nothing.
	ref.Assign(b)
	assert.Equal(t, uint32(2), b.RefCount())

	ref.Release()
	assert.Equal(t, uint32(1), b.RefCount())
}

// Releasing the last Ref after the close protocol has run drives the
// destructor from the Ref holder's goroutine.
func TestRef_LastHolderDestructs(t *testing.T) {
	r := newFakeResource()
	ref := NewRef[Resource](r)

	require.True(t, InitiateCloseRequest(r))
	assert.Equal(t, int32(0), r.destroys.Load())

	ref.Release()
	assert.Equal(t, int32(1), r.destroys.Load())
	assert.True(t, r.CloseSync().Done())
}
