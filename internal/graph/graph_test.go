package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/hotmic/engine/internal/chain"
	"github.com/hotmic/engine/internal/plugins"
)

func newTestGraph() *Graph {
	return New(chain.New(48000, 64), 48000, 64)
}

func TestInsertPluginKeepsConfigOrderEqualToChainOrder(t *testing.T) {
	g := newTestGraph()
	idA := g.InsertPlugin(plugins.NewGain(), 0)
	idB := g.InsertPlugin(plugins.NewGain(), 0) // inserted before a
	idC := g.InsertPlugin(plugins.NewGain(), 2) // appended

	cfg := g.Config()
	assert.Len(t, cfg, 3)
	assert.Equal(t, []int{idB, idA, idC}, []int{cfg[0].InstanceID, cfg[1].InstanceID, cfg[2].InstanceID})

	slots := g.Chain().Snapshot()
	for i, s := range slots {
		assert.Equal(t, cfg[i].InstanceID, s.InstanceID, "chain-order parity broken at index %d", i)
	}
}

func TestMovePluginEvictsItFromItsContainer(t *testing.T) {
	g := newTestGraph()
	idA := g.InsertPlugin(plugins.NewGain(), 0)
	idB := g.InsertPlugin(plugins.NewGain(), 1)
	_ = g.InsertPlugin(plugins.NewGain(), 2)

	cid := g.CreateContainer("grp")
	assert.NoError(t, g.AssignToContainer(idA, cid))
	assert.NoError(t, g.AssignToContainer(idB, cid))

	g.MovePlugin(idA, 2)

	var c *Container
	for _, cc := range g.Containers() {
		if cc.ID == cid {
			c = cc
		}
	}
	assert.NotContains(t, c.Members, idA, "a moved plugin must lose its container membership")
}

func TestSetContainerBypassFansOutToMembers(t *testing.T) {
	g := newTestGraph()
	idA := g.InsertPlugin(plugins.NewGain(), 0)
	idB := g.InsertPlugin(plugins.NewGain(), 1)

	cid := g.CreateContainer("grp")
	assert.NoError(t, g.AssignToContainer(idA, cid))
	assert.NoError(t, g.AssignToContainer(idB, cid))

	g.SetContainerBypass(cid, true)

	for _, e := range g.Config() {
		if e.InstanceID == idA || e.InstanceID == idB {
			assert.True(t, e.Bypassed)
		}
	}
	slotA, _ := g.Chain().LookupByInstanceID(idA)
	slotB, _ := g.Chain().LookupByInstanceID(idB)
	assert.True(t, slotA.Bypassed())
	assert.True(t, slotB.Bypassed())
}

func TestRemovePluginClearsItsContainerMembership(t *testing.T) {
	g := newTestGraph()
	idA := g.InsertPlugin(plugins.NewGain(), 0)
	cid := g.CreateContainer("grp")
	assert.NoError(t, g.AssignToContainer(idA, cid))

	removed := g.RemovePlugin(idA)
	assert.NotNil(t, removed)

	for _, c := range g.Containers() {
		assert.NotContains(t, c.Members, idA)
	}
}

// TestContainerMembersStayContiguousUnderRandomEdits is the property test
// spec §8 calls for: for any sequence of insert/assign/move operations,
// every container's members must remain a consecutive run in chain
// order once Normalize (called internally after every graph mutation)
// has settled (spec §4.2 "Invariants maintained after every operation").
func TestContainerMembersStayContiguousUnderRandomEdits(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		g := newTestGraph()

		n := rapid.IntRange(2, 8).Draw(t, "n")
		ids := make([]int, n)
		for i := 0; i < n; i++ {
			ids[i] = g.InsertPlugin(plugins.NewGain(), i)
		}

		cid := g.CreateContainer("grp")

		steps := rapid.IntRange(1, 20).Draw(t, "steps")
		for s := 0; s < steps; s++ {
			idx := rapid.IntRange(0, n-1).Draw(t, "idx")
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				_ = g.AssignToContainer(ids[idx], cid)
			case 1:
				target := rapid.IntRange(0, n-1).Draw(t, "target")
				g.MovePlugin(ids[idx], target)
			case 2:
				pos := rapid.IntRange(0, n-1).Draw(t, "pos")
				g.MovePluginWithinContainer(ids[idx], cid, pos)
			}
		}

		assertContainerContiguous(t, g, cid)
	})
}

func assertContainerContiguous(t *rapid.T, g *Graph, containerID int) {
	var c *Container
	for _, cc := range g.Containers() {
		if cc.ID == containerID {
			c = cc
		}
	}
	if c == nil || len(c.Members) == 0 {
		return
	}

	position := make(map[int]int, len(g.config))
	for i, e := range g.Config() {
		position[e.InstanceID] = i
	}

	first, ok := position[c.Members[0]]
	if !ok {
		t.Fatalf("container member %d not found in chain config", c.Members[0])
	}
	for i, m := range c.Members {
		pos, ok := position[m]
		if !ok {
			t.Fatalf("container member %d not found in chain config", m)
		}
		if pos != first+i {
			t.Fatalf("container %d not contiguous: member %d at position %d, expected %d", containerID, m, pos, first+i)
		}
	}
}
