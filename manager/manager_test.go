package manager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nautilus-aerokernel/threadgroup/common/errkind"
	"github.com/nautilus-aerokernel/threadgroup/group"
	"github.com/nautilus-aerokernel/threadgroup/threadrt"
)

// TestDeleteRefusal reproduces spec.md §8 scenario 6: deleting a
// non-empty group fails with NotEmpty; once it is drained, delete
// succeeds, and a subsequent find reports NotFound.
func TestDeleteRefusal(t *testing.T) {
	m := New(group.DefaultConfig())

	g, err := m.Create("H")
	require.NoError(t, err, "Create()")

	// The same thread must join and later leave: Leave finds the member
	// record by the calling thread's id.
	joined := make(chan struct{})
	proceed := make(chan struct{})
	h := threadrt.Spawn(context.Background(), 0, func(ctx context.Context) {
		_, jerr := g.Join(ctx)
		require.NoError(t, jerr)
		close(joined)
		<-proceed
		require.NoError(t, g.Leave(ctx))
	})
	<-joined

	err = m.Delete(g)
	require.Error(t, err, "Delete() on a non-empty group")
	kind, ok := errkind.As(err)
	require.True(t, ok)
	require.Equal(t, errkind.NotEmpty, kind)

	close(proceed)
	h.Join()

	require.NoError(t, m.Delete(g), "Delete() once drained")

	_, err = m.Find("H")
	require.Error(t, err, "Find() after delete")
	kind, ok = errkind.As(err)
	require.True(t, ok)
	require.Equal(t, errkind.NotFound, kind)
}

// TestCreateThenDeleteWithNoJoinsSucceeds is the boundary case: a group
// with zero members is deletable immediately after creation.
func TestCreateThenDeleteWithNoJoinsSucceeds(t *testing.T) {
	m := New(group.DefaultConfig())

	g, err := m.Create("empty")
	require.NoError(t, err)
	require.Equal(t, 1, m.NumGroups())
	require.NoError(t, m.Delete(g))
	require.Equal(t, 0, m.NumGroups())

	_, err = m.Find("empty")
	require.Error(t, err)
}

// TestCreateDuplicateNameFails mirrors spec.md §4.2: Create refuses a
// name already present in the registry.
func TestCreateDuplicateNameFails(t *testing.T) {
	m := New(group.DefaultConfig())

	_, err := m.Create("dup")
	require.NoError(t, err)

	_, err = m.Create("dup")
	require.Error(t, err, "Create() of a duplicate name")
}
