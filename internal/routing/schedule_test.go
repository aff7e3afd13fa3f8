package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScheduleOrdersByDependency(t *testing.T) {
	// channel 2 reads channel 1's output, so 1 must come before 2.
	res := Schedule([]Source{
		{ChannelID: 2, CreatedAt: 2, DependsOn: []int{1}},
		{ChannelID: 1, CreatedAt: 1, DependsOn: nil},
	})
	assert.Empty(t, res.DroppedEdges)
	assert.Equal(t, []int{1, 2}, res.Order)
}

func TestScheduleTieBreaksByCreationThenChannelID(t *testing.T) {
	res := Schedule([]Source{
		{ChannelID: 5, CreatedAt: 10},
		{ChannelID: 3, CreatedAt: 10},
		{ChannelID: 1, CreatedAt: 5},
	})
	assert.Equal(t, []int{1, 3, 5}, res.Order)
}

func TestScheduleIsDeterministicAcrossRepeatedCalls(t *testing.T) {
	sources := []Source{
		{ChannelID: 4, CreatedAt: 4, DependsOn: []int{2, 3}},
		{ChannelID: 3, CreatedAt: 3, DependsOn: []int{1}},
		{ChannelID: 2, CreatedAt: 2, DependsOn: []int{1}},
		{ChannelID: 1, CreatedAt: 1},
	}
	first := Schedule(sources)
	for i := 0; i < 5; i++ {
		again := Schedule(sources)
		assert.Equal(t, first.Order, again.Order, "schedule must be stable across repeated calls on the same input")
	}
}

func TestScheduleDropsOneEdgeToBreakACycle(t *testing.T) {
	// 1 -> 2 -> 1 is a cycle; one edge must be dropped so the rest still
	// schedules (spec §4.4 "Cycle handling").
	res := Schedule([]Source{
		{ChannelID: 1, CreatedAt: 1, DependsOn: []int{2}},
		{ChannelID: 2, CreatedAt: 2, DependsOn: []int{1}},
	})
	assert.Len(t, res.DroppedEdges, 1)
	assert.Len(t, res.Order, 2)
	assert.ElementsMatch(t, []int{1, 2}, res.Order)
}

func TestScheduleDropsTheDeterministicEdgeOfACycle(t *testing.T) {
	// The cycle-break picks the dependency with the smallest channel id
	// for determinism, regardless of run.
	for i := 0; i < 5; i++ {
		res := Schedule([]Source{
			{ChannelID: 1, CreatedAt: 1, DependsOn: []int{2}},
			{ChannelID: 2, CreatedAt: 2, DependsOn: []int{1}},
		})
		assert.Equal(t, []DroppedEdge{{From: 1, To: 2}}, res.DroppedEdges)
	}
}

func TestScheduleIgnoresDependencyOnAnExternalChannel(t *testing.T) {
	// DependsOn referencing a channel id not present in sources (e.g.
	// already resolved or external) must not block scheduling.
	res := Schedule([]Source{
		{ChannelID: 1, CreatedAt: 1, DependsOn: []int{999}},
	})
	assert.Empty(t, res.DroppedEdges)
	assert.Equal(t, []int{1}, res.Order)
}

func TestScheduleHandlesLongerCycleDroppingOnlyWhatIsNeeded(t *testing.T) {
	// 1 -> 2 -> 3 -> 1 cycle, plus 4 depending on 3 (outside the cycle).
	res := Schedule([]Source{
		{ChannelID: 1, CreatedAt: 1, DependsOn: []int{3}},
		{ChannelID: 2, CreatedAt: 2, DependsOn: []int{1}},
		{ChannelID: 3, CreatedAt: 3, DependsOn: []int{2}},
		{ChannelID: 4, CreatedAt: 4, DependsOn: []int{3}},
	})
	assert.Len(t, res.DroppedEdges, 1)
	assert.Len(t, res.Order, 4)
	// 4 must still come after 3 regardless of where the cycle was broken.
	pos := make(map[int]int, len(res.Order))
	for i, id := range res.Order {
		pos[id] = i
	}
	assert.Less(t, pos[3], pos[4])
}
