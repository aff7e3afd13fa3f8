// Package graph implements the Plugin Graph (spec §2 item 6, §4.2): the
// canonical editable model over a chain.Chain — insert/remove/move
// plugins, create/move/delete containers, keeping the persisted config
// order and container membership mutually consistent with the live
// chain after every operation.
//
// Grounded on session.Manager's map-plus-mutex CRUD shape (create/find/
// mutate-under-lock, "changed" flags returned to the caller) and on
// bot.SSRCManager's parallel forward/reverse maps (ssrcToUser/userToSSRC
// here become instanceID->container and container->members).
package graph

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hotmic/engine/internal/chain"
	"github.com/hotmic/engine/internal/plugin"
)

// PluginConfigEntry is the persisted form of one chain slot (spec §6
// "Persisted state layout"). Chain order and config order are kept
// equal by position (spec §4.2 invariant).
type PluginConfigEntry struct {
	InstanceID int
	Type       string
	Bypassed   bool
	PresetName string
	Parameters map[string]float32
	State      []byte
}

// ContainerConfig is the persisted form of one container (spec §3
// "Container", §6).
type ContainerConfig struct {
	ID         int
	Name       string
	Bypassed   bool
	InstanceIDs []int
}

// Factory constructs a plugin instance from its persisted type name,
// used by LoadFromConfig when rebuilding a chain (grounded on the
// transcriber package's NewXxxTranscriber constructor family, lifted to
// an interface since the graph does not know about concrete plugin
// types).
type Factory interface {
	Create(pluginType string) (plugin.Plugin, error)
}

// Container is the live, in-memory form of a container.
type Container struct {
	ID       int
	Name     string
	Bypassed bool
	Members  []int // ordered instance ids
}

// Graph is the canonical editable model described in spec §4.2.
type Graph struct {
	mu sync.Mutex

	ch *chain.Chain

	// config mirrors chain order by position; config[i] describes the
	// slot at chain index i.
	config []*PluginConfigEntry

	containers      map[int]*Container
	memberOf        map[int]int // instance id -> container id
	nextContainerID int

	sampleRate float64
	blockSize  int
}

// New creates a graph over ch.
func New(ch *chain.Chain, sampleRate float64, blockSize int) *Graph {
	return &Graph{
		ch:         ch,
		config:     make([]*PluginConfigEntry, 0),
		containers: make(map[int]*Container),
		memberOf:   make(map[int]int),
		sampleRate: sampleRate,
		blockSize:  blockSize,
	}
}

// Chain returns the underlying chain, for wiring into a channel strip.
func (g *Graph) Chain() *chain.Chain { return g.ch }

// LoadFromConfig rebuilds the chain and container set from persisted
// state (spec §4.2 "load_from_config"). It replaces the live chain and
// containers wholesale; a plugin type the factory cannot construct is
// skipped and its config entry dropped, so one corrupt entry does not
// fail the whole load.
func (g *Graph) LoadFromConfig(plugins []*PluginConfigEntry, containers []*ContainerConfig, factory Factory) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	slots := make([]*chain.Slot, 0, len(plugins))
	newConfig := make([]*PluginConfigEntry, 0, len(plugins))
	var firstErr error

	for _, entry := range plugins {
		p, err := factory.Create(entry.Type)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("load plugin %q (instance %d): %w", entry.Type, entry.InstanceID, err)
			}
			continue
		}
		p.Initialize(int(g.sampleRate), g.blockSize)
		if entry.State != nil {
			p.SetState(entry.State)
		}
		for name, v := range entry.Parameters {
			for _, param := range p.Parameters() {
				if param.Name == name {
					p.SetParameter(param.Index, v)
				}
			}
		}
		slot := chain.NewSlot(entry.InstanceID, p, g.sampleRate, g.blockSize)
		slot.SetBypass(entry.Bypassed)
		slots = append(slots, slot)
		newConfig = append(newConfig, entry)
	}

	g.ch.ReplaceAll(slots)
	g.config = newConfig

	g.containers = make(map[int]*Container)
	g.memberOf = make(map[int]int)
	g.nextContainerID = 0
	for _, cc := range containers {
		c := &Container{ID: cc.ID, Name: cc.Name, Bypassed: cc.Bypassed, Members: append([]int(nil), cc.InstanceIDs...)}
		g.containers[cc.ID] = c
		if cc.ID > g.nextContainerID {
			g.nextContainerID = cc.ID
		}
		for _, id := range cc.InstanceIDs {
			g.memberOf[id] = cc.ID
		}
		if c.Bypassed {
			for _, m := range c.Members {
				if slot, idx := g.ch.LookupByInstanceID(m); idx >= 0 {
					slot.SetBypass(true)
					g.config[idx].Bypassed = true
				}
			}
		}
	}

	g.normalizeLocked()
	return firstErr
}

// ---- plugin operations -----------------------------------------------

// InsertPlugin inserts p at chain index `at` (clamped; spec §4.2 "Insert
// at index >= chain length -> append") and normalizes. Returns the
// assigned instance id.
func (g *Graph) InsertPlugin(p plugin.Plugin, at int) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	p.Initialize(int(g.sampleRate), g.blockSize)
	id := g.ch.Insert(at, p)
	g.insertConfigEntry(at, &PluginConfigEntry{
		InstanceID: id,
		Type:       p.ID(),
		Parameters: map[string]float32{},
	})
	g.normalizeLocked()
	return id
}

// InsertIntoContainer resolves a chain index that places p adjacent to
// container members at positionWithinContainer, inserts it there, and
// assigns membership (spec §4.2 "insert_into_container", tie-break
// rules under "Tie-breaks and edge cases").
func (g *Graph) InsertIntoContainer(p plugin.Plugin, containerID, positionWithinContainer int) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.containers[containerID]
	if !ok {
		return 0, fmt.Errorf("container %d not found", containerID)
	}

	at := g.containerInsertIndexLocked(c, positionWithinContainer)

	p.Initialize(int(g.sampleRate), g.blockSize)
	id := g.ch.Insert(at, p)
	g.insertConfigEntry(at, &PluginConfigEntry{
		InstanceID: id,
		Type:       p.ID(),
		Parameters: map[string]float32{},
	})

	if positionWithinContainer <= 0 {
		c.Members = append([]int{id}, c.Members...)
	} else if positionWithinContainer >= len(c.Members) {
		c.Members = append(c.Members, id)
	} else {
		next := make([]int, 0, len(c.Members)+1)
		next = append(next, c.Members[:positionWithinContainer]...)
		next = append(next, id)
		next = append(next, c.Members[positionWithinContainer:]...)
		c.Members = next
	}
	g.memberOf[id] = containerID

	g.normalizeLocked()
	return id, nil
}

// containerInsertIndexLocked computes the chain index that places a new
// member immediately before the container's current first member
// (position 0) or immediately after its last member (position >= size),
// per spec §4.2 tie-break rules.
func (g *Graph) containerInsertIndexLocked(c *Container, position int) int {
	if len(c.Members) == 0 {
		return g.ch.Len()
	}
	if position <= 0 {
		_, idx := g.ch.LookupByInstanceID(c.Members[0])
		return idx
	}
	if position >= len(c.Members) {
		_, idx := g.ch.LookupByInstanceID(c.Members[len(c.Members)-1])
		return idx + 1
	}
	_, idx := g.ch.LookupByInstanceID(c.Members[position])
	return idx
}

// RemovePlugin removes the plugin from the chain, its container (if
// any), and config, returning the detached slot for off-thread disposal
// (spec §4.2 "remove_plugin").
func (g *Graph) RemovePlugin(instanceID int) *chain.Slot {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, idx := g.ch.LookupByInstanceID(instanceID)
	if idx < 0 {
		return nil
	}
	slot := g.ch.Remove(idx)
	g.removeConfigEntry(idx)

	if cid, ok := g.memberOf[instanceID]; ok {
		if c, ok := g.containers[cid]; ok {
			c.Members = removeInt(c.Members, instanceID)
		}
		delete(g.memberOf, instanceID)
	}

	g.normalizeLocked()
	return slot
}

// MovePlugin clamps target, no-ops if unchanged, and moves the plugin to
// that chain index. A move that leaves its container non-contiguous
// costs it its membership (spec §4.2 "move_plugin" policy).
func (g *Graph) MovePlugin(instanceID, target int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, from := g.ch.LookupByInstanceID(instanceID)
	if from < 0 {
		return
	}
	if target < 0 {
		target = 0
	}
	if target >= g.ch.Len() {
		target = g.ch.Len() - 1
	}
	if target == from {
		return
	}

	slot := g.ch.Remove(from)
	entry := g.removeConfigEntry(from)

	// Inserting at target after the removal leaves the plugin at chain
	// index target on either side of from, so target needs no adjusting.
	adjTarget := target
	if target > from {
		adjTarget = target
	}

	g.ch.InsertSlot(adjTarget, slot)
	g.insertConfigEntry(adjTarget, entry)

	// A plugin that moves loses any container membership; its old
	// container's contiguity is restored by the normalize pass below.
	if cid, ok := g.memberOf[instanceID]; ok {
		if c, ok := g.containers[cid]; ok {
			c.Members = removeInt(c.Members, instanceID)
		}
		delete(g.memberOf, instanceID)
	}

	g.normalizeLocked()
}

// MovePluginWithinContainer permutes only the members of containerID,
// leaving every other slot's position and plugin untouched (spec §4.2
// "move_plugin_within_container").
func (g *Graph) MovePluginWithinContainer(instanceID, containerID, position int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.containers[containerID]
	if !ok {
		return
	}
	if g.memberOf[instanceID] != containerID {
		return
	}

	memberIdx := indexOf(c.Members, instanceID)
	if memberIdx < 0 {
		return
	}
	if position < 0 {
		position = 0
	}
	if position >= len(c.Members) {
		position = len(c.Members) - 1
	}
	if position == memberIdx {
		return
	}

	newOrder := make([]int, 0, len(c.Members))
	without := append(append([]int{}, c.Members[:memberIdx]...), c.Members[memberIdx+1:]...)
	newOrder = append(newOrder, without[:position]...)
	newOrder = append(newOrder, instanceID)
	newOrder = append(newOrder, without[position:]...)
	c.Members = newOrder

	g.reorderChainToMatchContainer(c)
	g.normalizeLocked()
}

// reorderChainToMatchContainer physically moves chain slots so that the
// container's members occupy a contiguous run in c.Members order,
// starting at the lowest chain index any member currently occupies.
func (g *Graph) reorderChainToMatchContainer(c *Container) {
	if len(c.Members) == 0 {
		return
	}
	firstIdx := g.lowestChainIndexOf(c.Members)

	detached := make([]*chain.Slot, 0, len(c.Members))
	detachedCfg := make([]*PluginConfigEntry, 0, len(c.Members))
	for _, id := range c.Members {
		_, idx := g.ch.LookupByInstanceID(id)
		if idx < 0 {
			continue
		}
		detached = append(detached, g.ch.Remove(idx))
		detachedCfg = append(detachedCfg, g.removeConfigEntry(idx))
	}

	at := firstIdx
	if at > g.ch.Len() {
		at = g.ch.Len()
	}
	for i, s := range detached {
		g.ch.InsertSlot(at+i, s)
		g.insertConfigEntry(at+i, detachedCfg[i])
	}
}

func (g *Graph) lowestChainIndexOf(ids []int) int {
	lowest := g.ch.Len()
	for _, id := range ids {
		if _, idx := g.ch.LookupByInstanceID(id); idx >= 0 && idx < lowest {
			lowest = idx
		}
	}
	return lowest
}

// SetPluginBypass mirrors the bypass flag onto the slot and its config
// entry (spec §4.2 "set_plugin_bypass").
func (g *Graph) SetPluginBypass(instanceID int, flag bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	slot, idx := g.ch.LookupByInstanceID(instanceID)
	if idx < 0 {
		return
	}
	slot.SetBypass(flag)
	g.config[idx].Bypassed = flag
}

// SetPluginParameter applies value to the plugin and mirrors it into the
// config entry (spec §4.2 "set_plugin_parameter").
func (g *Graph) SetPluginParameter(instanceID int, paramIndex int, name string, value float32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	slot, idx := g.ch.LookupByInstanceID(instanceID)
	if idx < 0 {
		return
	}
	slot.Plugin.SetParameter(paramIndex, value)
	g.config[idx].Parameters[name] = value
}

// SetPluginState mirrors a state blob into the config entry, after
// applying it to the live plugin (spec §4.2 "set_plugin_state").
func (g *Graph) SetPluginState(instanceID int, state []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	slot, idx := g.ch.LookupByInstanceID(instanceID)
	if idx < 0 {
		return
	}
	slot.Plugin.SetState(state)
	g.config[idx].State = state
}

// ---- container operations ---------------------------------------------

// CreateContainer allocates a new, empty, unique container id.
func (g *Graph) CreateContainer(name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextContainerID++
	id := g.nextContainerID
	g.containers[id] = &Container{ID: id, Name: name}
	return id
}

// RemoveContainer deletes the container without deleting its plugins,
// which remain in the chain, un-grouped (spec §3 Container lifecycles).
func (g *Graph) RemoveContainer(id int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.containers[id]
	if !ok {
		return
	}
	for _, m := range c.Members {
		delete(g.memberOf, m)
	}
	delete(g.containers, id)
}

// SetContainerBypass flips the container's bypass flag and fans it out
// to every member plugin (spec §3 Container invariant iii, §8 scenario
// 3).
func (g *Graph) SetContainerBypass(id int, flag bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.containers[id]
	if !ok {
		return
	}
	c.Bypassed = flag
	for _, m := range c.Members {
		if slot, idx := g.ch.LookupByInstanceID(m); idx >= 0 {
			slot.SetBypass(flag)
			g.config[idx].Bypassed = flag
		}
	}
}

// AssignToContainer places an already-chained plugin into a container at
// the end of its member list. The caller is responsible for subsequently
// reordering if contiguity matters immediately; Normalize will otherwise
// evict the plugin from the container to restore contiguity.
func (g *Graph) AssignToContainer(instanceID, containerID int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.containers[containerID]
	if !ok {
		return fmt.Errorf("container %d not found", containerID)
	}
	if _, idx := g.ch.LookupByInstanceID(instanceID); idx < 0 {
		return fmt.Errorf("plugin %d not in chain", instanceID)
	}
	if old, ok := g.memberOf[instanceID]; ok {
		if oc, ok := g.containers[old]; ok {
			oc.Members = removeInt(oc.Members, instanceID)
		}
	}
	c.Members = append(c.Members, instanceID)
	g.memberOf[instanceID] = containerID
	g.normalizeLocked()
	return nil
}

// MoveContainer moves the whole contiguous block of a container's
// members as a unit to target chain index, preserving their internal
// order (spec §4.2 "move_container"). Pre-target members already in
// motion do not count twice against the displacement (spec §4.2
// "Tie-breaks and edge cases").
func (g *Graph) MoveContainer(id, target int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.containers[id]
	if !ok || len(c.Members) == 0 {
		return
	}

	detached := make([]*chain.Slot, 0, len(c.Members))
	detachedCfg := make([]*PluginConfigEntry, 0, len(c.Members))

	for _, id := range c.Members {
		if _, idx := g.ch.LookupByInstanceID(id); idx >= 0 {
			detached = append(detached, g.ch.Remove(idx))
			detachedCfg = append(detachedCfg, g.removeConfigEntry(idx))
		}
	}

	if target < 0 {
		target = 0
	}
	at := target
	if at > g.ch.Len() {
		at = g.ch.Len()
	}

	for i, s := range detached {
		g.ch.InsertSlot(at+i, s)
		g.insertConfigEntry(at+i, detachedCfg[i])
	}
	g.normalizeLocked()
}

// ---- normalize ----------------------------------------------------------

// Normalize re-establishes every invariant in spec §4.2 "Invariants
// maintained after every operation". It is idempotent: calling it twice
// in a row produces no further change. Container id uniqueness needs no
// separate renumbering pass here: containers are keyed by id in a map,
// so a colliding id from persisted config can never produce two live
// Container values in the first place — the later entry simply
// replaces the earlier one at load time.
func (g *Graph) Normalize() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.normalizeLocked()
}

func (g *Graph) normalizeLocked() {
	slots := g.ch.Snapshot()

	// Config order <-> chain order by position: rebuild config to match
	// current chain exactly, creating entries for any chain plugin that
	// lacks one.
	byID := make(map[int]*PluginConfigEntry, len(g.config))
	for _, e := range g.config {
		byID[e.InstanceID] = e
	}
	next := make([]*PluginConfigEntry, len(slots))
	for i, s := range slots {
		e, ok := byID[s.InstanceID]
		if !ok {
			e = &PluginConfigEntry{
				InstanceID: s.InstanceID,
				Type:       s.Plugin.ID(),
				Parameters: map[string]float32{},
			}
		}
		next[i] = e
	}
	g.config = next

	// Container contiguity: for each container, keep only the members
	// that are (a) present in the chain, sorted by chain position, and
	// evict any member whose removal is required to make the run
	// contiguous.
	positions := make(map[int]int, len(slots))
	for i, s := range slots {
		positions[s.InstanceID] = i
	}

	for _, c := range g.containers {
		present := make([]int, 0, len(c.Members))
		for _, m := range c.Members {
			if _, ok := positions[m]; ok {
				present = append(present, m)
			} else {
				delete(g.memberOf, m)
			}
		}
		sort.Slice(present, func(i, j int) bool { return positions[present[i]] < positions[present[j]] })
		kept := enforceContiguous(present, positions)
		for _, m := range present {
			if g.memberOf[m] == c.ID {
				delete(g.memberOf, m)
			}
		}
		c.Members = kept
		for _, m := range c.Members {
			g.memberOf[m] = c.ID
		}
	}

	// No instance id in more than one container: last writer (by
	// container iteration above) wins; evict duplicates from all other
	// containers.
	for cid, c := range g.containers {
		kept := make([]int, 0, len(c.Members))
		for _, m := range c.Members {
			if g.memberOf[m] != cid {
				continue
			}
			kept = append(kept, m)
		}
		c.Members = kept
	}
}

// enforceContiguous drops trailing members that would otherwise leave a
// gap, keeping the longest contiguous prefix possible while preserving
// listed order (spec §4.2 "Each container's listed instance ids are ...
// contiguous; any gap is eliminated by removing the out-of-place id").
func enforceContiguous(ordered []int, positions map[int]int) []int {
	if len(ordered) == 0 {
		return ordered
	}
	kept := []int{ordered[0]}
	expect := positions[ordered[0]] + 1
	for _, id := range ordered[1:] {
		if positions[id] == expect {
			kept = append(kept, id)
			expect++
		}
		// Non-contiguous member is evicted from the container (its
		// memberOf entry is cleared by the caller).
	}
	return kept
}

func removeInt(s []int, v int) []int {
	out := s[:0:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

func indexOf(s []int, v int) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

// Containers returns a snapshot list of all containers, sorted by id.
func (g *Graph) Containers() []*Container {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Container, 0, len(g.containers))
	for _, c := range g.containers {
		cp := *c
		cp.Members = append([]int(nil), c.Members...)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Config returns a snapshot of the persisted plugin config, in chain
// order (spec §8 "Chain-order parity").
func (g *Graph) Config() []*PluginConfigEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*PluginConfigEntry, len(g.config))
	copy(out, g.config)
	return out
}

func (g *Graph) insertConfigEntry(at int, e *PluginConfigEntry) {
	if at > len(g.config) {
		at = len(g.config)
	}
	g.config = append(g.config, nil)
	copy(g.config[at+1:], g.config[at:])
	g.config[at] = e
}

func (g *Graph) removeConfigEntry(at int) *PluginConfigEntry {
	e := g.config[at]
	g.config = append(g.config[:at], g.config[at+1:]...)
	return e
}
