package service

import (
	"bytes"
	"context"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"

	"github.com/zzenonn/blockmap/internal/domain"
	"github.com/zzenonn/blockmap/internal/repository/objectstore"
)

// NodeRepositories resolves the object repository holding a node's blocks.
type NodeRepositories interface {
	RepositoryForNode(nodeID string) (objectstore.ObjectRepository, error)
}

// BlockIO moves raw block bytes to and from storage nodes. It knows nothing
// about chunks or coding.
type BlockIO struct {
	nodes NodeRepositories
	quiet bool
}

// NewBlockIO creates a BlockIO over nodes. Progress bars are shown unless
// quiet is set.
func NewBlockIO(nodes NodeRepositories, quiet bool) *BlockIO {
	return &BlockIO{
		nodes: nodes,
		quiet: quiet,
	}
}

// PutBlock writes data as block on its node.
func (b *BlockIO) PutBlock(ctx context.Context, block domain.BlockInfo, data []byte) error {
	repo, err := b.nodes.RepositoryForNode(block.Node.ID)
	if err != nil {
		return err
	}

	log.Debugf("Writing block %s to node %s (%d bytes)", block.BlockID, block.Node.ID, len(data))
	if _, err := repo.Upload(ctx, objectstore.BlockKey(block.BlockID), bytes.NewReader(data), b.quiet); err != nil {
		return fmt.Errorf("write block %s to node %s: %w", block.BlockID, block.Node.ID, err)
	}
	return nil
}

// GetBlock reads a block from its node.
func (b *BlockIO) GetBlock(ctx context.Context, block domain.BlockInfo) ([]byte, error) {
	repo, err := b.nodes.RepositoryForNode(block.Node.ID)
	if err != nil {
		return nil, err
	}

	log.Debugf("Reading block %s from node %s", block.BlockID, block.Node.ID)
	reader, err := repo.Download(ctx, objectstore.BlockKey(block.BlockID), b.quiet)
	if err != nil {
		return nil, fmt.Errorf("read block %s from node %s: %w", block.BlockID, block.Node.ID, err)
	}
	defer reader.Close()

	return io.ReadAll(reader)
}

// DeleteBlock removes a block's bytes from its node.
func (b *BlockIO) DeleteBlock(ctx context.Context, block domain.DataBlock) error {
	repo, err := b.nodes.RepositoryForNode(block.Node.ID)
	if err != nil {
		return err
	}

	log.Debugf("Deleting block %s from node %s", block.ID, block.Node.ID)
	return repo.Delete(ctx, objectstore.BlockKey(block.ID))
}
