package objectstore

import (
	"fmt"
	"sync"

	apperrors "github.com/zzenonn/blockmap/internal/errors"
)

// NodeStores maps storage node ids to the repositories holding their blocks.
type NodeStores struct {
	mu           sync.RWMutex
	repositories map[string]ObjectRepository
}

// NewNodeStores creates an empty node store registry
func NewNodeStores() *NodeStores {
	return &NodeStores{
		repositories: make(map[string]ObjectRepository),
	}
}

// RegisterNode adds the repository of a node
func (s *NodeStores) RegisterNode(nodeID string, repo ObjectRepository) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.repositories[nodeID]; exists {
		return fmt.Errorf("node %s already registered", nodeID)
	}
	s.repositories[nodeID] = repo
	return nil
}

// RepositoryForNode returns the repository of a node
func (s *NodeStores) RepositoryForNode(nodeID string) (ObjectRepository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	repo, exists := s.repositories[nodeID]
	if !exists {
		return nil, apperrors.NotFoundError("repository for node", nodeID)
	}
	return repo, nil
}

// BlockKey is the key of a block inside its node repository.
func BlockKey(blockID string) string {
	return "blocks/" + blockID
}
