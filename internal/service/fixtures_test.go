package service_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/zzenonn/blockmap/internal/domain"
	apperrors "github.com/zzenonn/blockmap/internal/errors"
	"github.com/zzenonn/blockmap/internal/placement"
	"github.com/zzenonn/blockmap/internal/repository/kv"
	"github.com/zzenonn/blockmap/internal/repository/objectstore"
	"github.com/zzenonn/blockmap/internal/service"
)

// spyStore is an in-memory mapping store that counts calls and can be told
// to fail individual operations.
type spyStore struct {
	*kv.MappingStore

	mu       sync.Mutex
	calls    map[string]int
	failures map[string]error
}

func newSpyStore(t testing.TB) *spyStore {
	t.Helper()
	db, err := kv.Open("")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return &spyStore{
		MappingStore: kv.NewMappingStore(db),
		calls:        make(map[string]int),
		failures:     make(map[string]error),
	}
}

func (s *spyStore) record(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	return s.failures[op]
}

func (s *spyStore) failOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

func (s *spyStore) callCount(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *spyStore) totalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

func (s *spyStore) CreateChunk(ctx context.Context, chunk domain.DataChunk) error {
	if err := s.record("CreateChunk"); err != nil {
		return err
	}
	return s.MappingStore.CreateChunk(ctx, chunk)
}

func (s *spyStore) CreateBlocks(ctx context.Context, blocks []domain.DataBlock) error {
	if err := s.record("CreateBlocks"); err != nil {
		return err
	}
	return s.MappingStore.CreateBlocks(ctx, blocks)
}

func (s *spyStore) CreatePart(ctx context.Context, part domain.ObjectPart) error {
	if err := s.record("CreatePart"); err != nil {
		return err
	}
	return s.MappingStore.CreatePart(ctx, part)
}

func (s *spyStore) GetChunks(ctx context.Context, ids []string) (map[string]domain.DataChunk, error) {
	if err := s.record("GetChunks"); err != nil {
		return nil, err
	}
	return s.MappingStore.GetChunks(ctx, ids)
}

func (s *spyStore) FindPartsInRange(ctx context.Context, objectID string, start, end int64) ([]domain.ObjectPart, error) {
	if err := s.record("FindPartsInRange"); err != nil {
		return nil, err
	}
	return s.MappingStore.FindPartsInRange(ctx, objectID, start, end)
}

func (s *spyStore) FindBlocksByChunks(ctx context.Context, chunkIDs []string, state domain.Lifecycle) ([]domain.DataBlock, error) {
	if err := s.record("FindBlocksByChunks"); err != nil {
		return nil, err
	}
	return s.MappingStore.FindBlocksByChunks(ctx, chunkIDs, state)
}

func (s *spyStore) TombstoneChunks(ctx context.Context, ids []string, at time.Time) error {
	if err := s.record("TombstoneChunks"); err != nil {
		return err
	}
	return s.MappingStore.TombstoneChunks(ctx, ids, at)
}

func (s *spyStore) TombstoneBlocksOfChunks(ctx context.Context, chunkIDs []string, at time.Time) error {
	if err := s.record("TombstoneBlocksOfChunks"); err != nil {
		return err
	}
	return s.MappingStore.TombstoneBlocksOfChunks(ctx, chunkIDs, at)
}

// mockAllocator is a func-field placement policy.
type mockAllocator struct {
	allocateFunc   func(ctx context.Context, chunk domain.DataChunk) ([]domain.DataBlock, error)
	reallocateFunc func(ctx context.Context, chunk domain.DataChunk, failed domain.DataBlock) (domain.DataBlock, error)
}

func (m *mockAllocator) AllocateForNewChunk(ctx context.Context, chunk domain.DataChunk) ([]domain.DataBlock, error) {
	return m.allocateFunc(ctx, chunk)
}

func (m *mockAllocator) ReallocateBadBlock(ctx context.Context, chunk domain.DataChunk, failed domain.DataBlock) (domain.DataBlock, error) {
	return m.reallocateFunc(ctx, chunk, failed)
}

func testNodes(count int) []domain.Node {
	nodes := make([]domain.Node, 0, count)
	for i := 0; i < count; i++ {
		nodes = append(nodes, domain.Node{
			ID:   fmt.Sprintf("node-%d", i),
			IP:   fmt.Sprintf("10.0.0.%d", i+1),
			Port: 9000,
		})
	}
	return nodes
}

func newRoundRobin(t testing.TB, nodes []domain.Node) *placement.RoundRobinAllocator {
	t.Helper()
	registry := placement.NewNodeRegistry()
	for _, n := range nodes {
		if err := registry.RegisterNode(n); err != nil {
			t.Fatalf("register node: %v", err)
		}
	}
	return placement.NewRoundRobinAllocator(registry)
}

func testBucket(kfragBits uint) domain.Bucket {
	return domain.Bucket{
		Name:    "photos",
		System:  "sys",
		Tiering: []domain.Tier{{Name: "standard", KFragBits: kfragBits}},
	}
}

func testObject(size int64) domain.Object {
	return domain.Object{ID: "obj-1", System: "sys", Bucket: "photos", Key: "a.jpg", Size: size}
}

// mockObjectRepository keeps blocks in memory and can refuse writes or
// reads of chosen keys.
type mockObjectRepository struct {
	uploadFunc   func(ctx context.Context, key string, r io.Reader) error
	downloadFunc func(ctx context.Context, key string) error

	mu      sync.Mutex
	storage map[string][]byte
}

func newMockObjectRepository() *mockObjectRepository {
	return &mockObjectRepository{
		storage: make(map[string][]byte),
	}
}

func (m *mockObjectRepository) Upload(ctx context.Context, key string, r io.Reader, quiet bool) (string, error) {
	if m.uploadFunc != nil {
		if err := m.uploadFunc(ctx, key, r); err != nil {
			return "", err
		}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.storage[key] = data
	return "mem://" + key, nil
}

func (m *mockObjectRepository) Download(ctx context.Context, key string, quiet bool) (io.ReadCloser, error) {
	if m.downloadFunc != nil {
		if err := m.downloadFunc(ctx, key); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.storage[key]
	if !ok {
		return nil, apperrors.NotFoundError("block", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *mockObjectRepository) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.storage, key)
	return nil
}

func (m *mockObjectRepository) GetBucketName() string  { return "mem" }
func (m *mockObjectRepository) GetStorageType() string { return "mem" }

func (m *mockObjectRepository) blockCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.storage)
}

var errNodeDown = errors.New("node down")

// newNodeStores registers an in-memory repository for every node.
func newNodeStores(t testing.TB, nodes []domain.Node) (*objectstore.NodeStores, map[string]*mockObjectRepository) {
	t.Helper()
	stores := objectstore.NewNodeStores()
	repos := make(map[string]*mockObjectRepository, len(nodes))
	for _, n := range nodes {
		repo := newMockObjectRepository()
		if err := stores.RegisterNode(n.ID, repo); err != nil {
			t.Fatalf("register node store: %v", err)
		}
		repos[n.ID] = repo
	}
	return stores, repos
}

var _ service.MappingStore = (*spyStore)(nil)
