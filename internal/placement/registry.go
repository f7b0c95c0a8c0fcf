package placement

import (
	"fmt"
	"sync"

	"github.com/zzenonn/blockmap/internal/domain"
	apperrors "github.com/zzenonn/blockmap/internal/errors"
)

// NodeRegistry holds the storage nodes eligible for placement, in
// registration order.
type NodeRegistry struct {
	mu    sync.RWMutex
	nodes map[string]domain.Node
	ids   []string
}

// NewNodeRegistry creates an empty registry
func NewNodeRegistry() *NodeRegistry {
	return &NodeRegistry{
		nodes: make(map[string]domain.Node),
		ids:   make([]string, 0),
	}
}

// RegisterNode adds a node to the registry
func (r *NodeRegistry) RegisterNode(node domain.Node) error {
	if node.ID == "" {
		return fmt.Errorf("node id: %w", apperrors.ErrMissingRequiredFields)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodes[node.ID]; exists {
		return fmt.Errorf("node %s already registered", node.ID)
	}

	r.nodes[node.ID] = node
	r.ids = append(r.ids, node.ID)
	return nil
}

// GetNode returns a registered node by id
func (r *NodeRegistry) GetNode(id string) (domain.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	node, exists := r.nodes[id]
	if !exists {
		return domain.Node{}, apperrors.NotFoundError("node", id)
	}
	return node, nil
}

// ListNodes returns all registered nodes in registration order
func (r *NodeRegistry) ListNodes() []domain.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	nodes := make([]domain.Node, 0, len(r.ids))
	for _, id := range r.ids {
		nodes = append(nodes, r.nodes[id])
	}
	return nodes
}
