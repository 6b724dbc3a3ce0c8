package eventlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medmatrix/console/graph"
	"github.com/medmatrix/console/types"
)

func TestLog(t *testing.T) {
	g := graph.DefaultProductGraph()

	t.Run("AppendAssignsSequence", func(t *testing.T) {
		l := New(g)
		require.NoError(t, l.Append(types.StepEvent{Node: "classifier"}))
		require.NoError(t, l.Append(types.StepEvent{Node: "drug_extractor"}))

		events := l.Snapshot()
		require.Len(t, events, 2)
		assert.Equal(t, 0, events[0].Seq)
		assert.Equal(t, 1, events[1].Seq)
		assert.Equal(t, 2, l.Len())
	})

	t.Run("AppendUnknownNode", func(t *testing.T) {
		l := New(g)
		err := l.Append(types.StepEvent{Node: "not_a_node"})
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "not_a_node", vErr.Node)
		assert.Zero(t, l.Len())
	})

	t.Run("SnapshotIsACopy", func(t *testing.T) {
		l := New(g)
		require.NoError(t, l.Append(types.StepEvent{Node: "classifier"}))

		snap := l.Snapshot()
		snap[0].Node = "mutated"
		assert.Equal(t, "classifier", l.Snapshot()[0].Node)
	})

	t.Run("Reset", func(t *testing.T) {
		l := New(g)
		require.NoError(t, l.Append(types.StepEvent{Node: "classifier"}))
		l.Reset()
		assert.Zero(t, l.Len())
		assert.Empty(t, l.Snapshot())

		// Sequence positions restart after a reset.
		require.NoError(t, l.Append(types.StepEvent{Node: "classifier"}))
		assert.Equal(t, 0, l.Snapshot()[0].Seq)
	})
}
