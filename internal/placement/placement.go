// Package placement decides which storage nodes hold the blocks of a chunk.
//
// The mapping engine does not pick nodes itself. It consumes a BlockAllocator,
// which is asked for exactly two things:
//
//   - AllocateForNewChunk: one new block per fragment index 0..kfrag-1 of a
//     freshly created chunk, spread across distinct nodes where possible.
//   - ReallocateBadBlock: a single replacement block for a block whose write
//     failed, placed on a node other than the failed block's node.
//
// Two reference policies are provided, both driven by a NodeRegistry:
//
//   - RoundRobinAllocator: fragment i of a chunk goes to node (cursor+i) % n,
//     the cursor advancing once per chunk so consecutive chunks start on
//     different nodes.
//   - HashRingAllocator: nodes are hashed onto a ring of virtual nodes and a
//     chunk's fragments go to the first kfrag distinct nodes clockwise from
//     the chunk id. Placement of a chunk is stable while membership is.
//
// Example:
//
//	registry := NewNodeRegistry()
//	registry.RegisterNode(domain.Node{ID: "n1", IP: "10.0.0.1", Port: 7001})
//	registry.RegisterNode(domain.Node{ID: "n2", IP: "10.0.0.2", Port: 7001})
//
//	allocator := NewRoundRobinAllocator(registry)
//	blocks, _ := allocator.AllocateForNewChunk(ctx, chunk) // one block per fragment
//	repl, _ := allocator.ReallocateBadBlock(ctx, chunk, blocks[0])
//
// Implementations must be safe for concurrent use.
package placement

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/zzenonn/blockmap/internal/domain"
	apperrors "github.com/zzenonn/blockmap/internal/errors"
)

// BlockAllocator places the fragments of a chunk on storage nodes.
type BlockAllocator interface {
	// AllocateForNewChunk returns one new block per fragment index of chunk.
	// The blocks are not persisted.
	AllocateForNewChunk(ctx context.Context, chunk domain.DataChunk) ([]domain.DataBlock, error)

	// ReallocateBadBlock returns one replacement block for failed, on a node
	// other than failed.Node. The block is not persisted.
	ReallocateBadBlock(ctx context.Context, chunk domain.DataChunk, failed domain.DataBlock) (domain.DataBlock, error)
}

func newBlock(chunk domain.DataChunk, fragment int, node domain.Node) domain.DataBlock {
	return domain.DataBlock{
		ID:       uuid.NewString(),
		ChunkID:  chunk.ID,
		Fragment: fragment,
		Node:     node,
	}
}

func checkChunk(chunk domain.DataChunk) error {
	if chunk.ID == "" {
		return fmt.Errorf("%w: chunk has no id", apperrors.ErrPlacementFailure)
	}
	if chunk.KFrag < 1 {
		return fmt.Errorf("%w: chunk %s has kfrag %d", apperrors.ErrPlacementFailure, chunk.ID, chunk.KFrag)
	}
	return nil
}
