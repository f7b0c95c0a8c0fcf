package placement

import (
	"context"
	"fmt"
	"sync"

	"github.com/zzenonn/blockmap/internal/domain"
	apperrors "github.com/zzenonn/blockmap/internal/errors"
)

// RoundRobinAllocator implements round-robin block placement
type RoundRobinAllocator struct {
	registry *NodeRegistry

	mu     sync.Mutex
	cursor int
}

// NewRoundRobinAllocator creates a new round-robin allocator over registry
func NewRoundRobinAllocator(registry *NodeRegistry) *RoundRobinAllocator {
	return &RoundRobinAllocator{registry: registry}
}

// AllocateForNewChunk places fragment i on node (cursor+i) % n
func (a *RoundRobinAllocator) AllocateForNewChunk(ctx context.Context, chunk domain.DataChunk) ([]domain.DataBlock, error) {
	if err := checkChunk(chunk); err != nil {
		return nil, err
	}

	nodes := a.registry.ListNodes()
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: no nodes registered", apperrors.ErrPlacementFailure)
	}

	a.mu.Lock()
	base := a.cursor % len(nodes)
	a.cursor = (base + 1) % len(nodes)
	a.mu.Unlock()

	blocks := make([]domain.DataBlock, 0, chunk.KFrag)
	for i := 0; i < chunk.KFrag; i++ {
		blocks = append(blocks, newBlock(chunk, i, nodes[(base+i)%len(nodes)]))
	}
	return blocks, nil
}

// ReallocateBadBlock picks the next registered node after the failed one
func (a *RoundRobinAllocator) ReallocateBadBlock(ctx context.Context, chunk domain.DataChunk, failed domain.DataBlock) (domain.DataBlock, error) {
	if err := checkChunk(chunk); err != nil {
		return domain.DataBlock{}, err
	}

	nodes := a.registry.ListNodes()
	failedIndex := -1
	for i, n := range nodes {
		if n.ID == failed.Node.ID {
			failedIndex = i
			break
		}
	}

	for step := 1; step <= len(nodes); step++ {
		candidate := nodes[(failedIndex+step+len(nodes))%len(nodes)]
		if candidate.ID == failed.Node.ID {
			continue
		}
		return newBlock(chunk, failed.Fragment, candidate), nil
	}

	return domain.DataBlock{}, fmt.Errorf("%w: no node other than %s available for chunk %s",
		apperrors.ErrPlacementFailure, failed.Node.ID, chunk.ID)
}
