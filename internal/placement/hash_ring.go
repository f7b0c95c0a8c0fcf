package placement

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	xx "github.com/cespare/xxhash/v2"
	"github.com/zzenonn/blockmap/internal/domain"
	apperrors "github.com/zzenonn/blockmap/internal/errors"
)

type vnode struct {
	hash uint64
	node domain.Node
}

// Ring is a consistent hash ring of virtual nodes.
type Ring struct {
	vnodes   []vnode
	replicas int
}

// NewRing places every node on the ring replicas times.
func NewRing(nodes []domain.Node, replicas int) *Ring {
	if replicas < 1 {
		replicas = 1
	}
	r := &Ring{replicas: replicas}
	for _, n := range nodes {
		for i := 0; i < replicas; i++ {
			h := xx.Sum64String(n.ID + ":" + strconv.Itoa(i))
			r.vnodes = append(r.vnodes, vnode{hash: h, node: n})
		}
	}
	sort.Slice(r.vnodes, func(i, j int) bool { return r.vnodes[i].hash < r.vnodes[j].hash })
	return r
}

// PickN returns up to n distinct nodes clockwise from key.
func (r *Ring) PickN(key string, n int) []domain.Node {
	if len(r.vnodes) == 0 || n <= 0 {
		return nil
	}
	h := xx.Sum64String(key)
	i := sort.Search(len(r.vnodes), func(i int) bool { return r.vnodes[i].hash >= h })
	res := make([]domain.Node, 0, n)
	seen := map[string]struct{}{}
	for j := 0; len(res) < n && j < len(r.vnodes); j++ {
		vn := r.vnodes[(i+j)%len(r.vnodes)]
		if _, ok := seen[vn.node.ID]; ok {
			continue
		}
		seen[vn.node.ID] = struct{}{}
		res = append(res, vn.node)
	}
	return res
}

// HashRingAllocator places chunk fragments on consecutive distinct nodes of
// a consistent hash ring keyed by chunk id.
type HashRingAllocator struct {
	registry *NodeRegistry
	replicas int
}

// NewHashRingAllocator creates an allocator with replicas virtual nodes per node
func NewHashRingAllocator(registry *NodeRegistry, replicas int) *HashRingAllocator {
	return &HashRingAllocator{registry: registry, replicas: replicas}
}

func (a *HashRingAllocator) ring() (*Ring, int) {
	nodes := a.registry.ListNodes()
	return NewRing(nodes, a.replicas), len(nodes)
}

// AllocateForNewChunk places fragment i on the i-th distinct node of the ring.
// With fewer nodes than fragments, nodes are reused in ring order.
func (a *HashRingAllocator) AllocateForNewChunk(ctx context.Context, chunk domain.DataChunk) ([]domain.DataBlock, error) {
	if err := checkChunk(chunk); err != nil {
		return nil, err
	}

	ring, count := a.ring()
	picked := ring.PickN(chunk.ID, count)
	if len(picked) == 0 {
		return nil, fmt.Errorf("%w: no nodes registered", apperrors.ErrPlacementFailure)
	}

	blocks := make([]domain.DataBlock, 0, chunk.KFrag)
	for i := 0; i < chunk.KFrag; i++ {
		blocks = append(blocks, newBlock(chunk, i, picked[i%len(picked)]))
	}
	return blocks, nil
}

// ReallocateBadBlock picks the first node on the ring after the chunk key
// that is not the failed block's node.
func (a *HashRingAllocator) ReallocateBadBlock(ctx context.Context, chunk domain.DataChunk, failed domain.DataBlock) (domain.DataBlock, error) {
	if err := checkChunk(chunk); err != nil {
		return domain.DataBlock{}, err
	}

	ring, count := a.ring()
	// keyed per fragment so replacements of different fragments spread out
	for _, n := range ring.PickN(chunk.ID+":"+strconv.Itoa(failed.Fragment), count) {
		if n.ID != failed.Node.ID {
			return newBlock(chunk, failed.Fragment, n), nil
		}
	}

	return domain.DataBlock{}, fmt.Errorf("%w: no node other than %s available for chunk %s",
		apperrors.ErrPlacementFailure, failed.Node.ID, chunk.ID)
}
