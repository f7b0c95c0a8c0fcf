package service_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/zzenonn/blockmap/internal/domain"
	apperrors "github.com/zzenonn/blockmap/internal/errors"
	"github.com/zzenonn/blockmap/internal/rangeutil"
	"github.com/zzenonn/blockmap/internal/service"
)

var testCrypt = domain.CryptMeta{HashType: "sha256", HashVal: "abc", CipherType: "aes", CipherVal: "k1"}

func TestObjectMapper_AllocateAndRead(t *testing.T) {
	ctx := context.Background()
	store := newSpyStore(t)
	mapper := service.NewObjectMapper(store, newRoundRobin(t, testNodes(3)))
	obj := testObject(100)

	pm, err := mapper.Allocate(ctx, testBucket(1), obj, 0, 100, 1001, testCrypt)
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}

	if pm.ChunkSize != 1002 {
		t.Errorf("chunk size = %d, want 1002 (aligned to kfrag)", pm.ChunkSize)
	}
	if pm.KFrag != 2 || len(pm.Fragments) != 2 {
		t.Fatalf("kfrag = %d with %d fragments, want 2", pm.KFrag, len(pm.Fragments))
	}
	if pm.Start != 0 || pm.End != 100 || pm.ChunkOffset != 0 {
		t.Errorf("unexpected range %+v", pm)
	}
	if pm.Crypt.HashVal != "abc" || pm.Crypt.CipherVal != "k1" {
		t.Errorf("crypt not echoed: %+v", pm.Crypt)
	}
	if len(pm.Fragments[0]) != 1 || len(pm.Fragments[1]) != 1 {
		t.Fatalf("expected one block per fragment, got %+v", pm.Fragments)
	}
	if pm.Fragments[0][0].Node.ID == pm.Fragments[1][0].Node.ID {
		t.Errorf("fragments placed on the same node %s", pm.Fragments[0][0].Node.ID)
	}

	mappings, err := mapper.ReadMappings(ctx, obj, nil, nil)
	if err != nil {
		t.Fatalf("ReadMappings() error = %v", err)
	}
	if len(mappings) != 1 {
		t.Fatalf("got %d mappings, want 1", len(mappings))
	}
	got := mappings[0]
	for i := range pm.Fragments {
		if got.Fragments[i][0] != pm.Fragments[i][0] {
			t.Errorf("fragment %d = %+v, want %+v", i, got.Fragments[i][0], pm.Fragments[i][0])
		}
	}
}

func TestObjectMapper_ReadMappingsRanges(t *testing.T) {
	ctx := context.Background()
	store := newSpyStore(t)
	mapper := service.NewObjectMapper(store, newRoundRobin(t, testNodes(3)))
	obj := testObject(200)

	// allocated out of order, reads come back ordered by start
	for _, r := range [][2]int64{{100, 200}, {0, 100}} {
		if _, err := mapper.Allocate(ctx, testBucket(0), obj, r[0], r[1], 100, testCrypt); err != nil {
			t.Fatalf("Allocate(%v) error = %v", r, err)
		}
	}

	tests := []struct {
		name       string
		start, end *int64
		want       [][2]int64
	}{
		{"spans both parts", rangeutil.Offset(50), rangeutil.Offset(150), [][2]int64{{0, 100}, {100, 200}}},
		{"second part only", rangeutil.Offset(100), rangeutil.Offset(200), [][2]int64{{100, 200}}},
		{"open start", nil, rangeutil.Offset(10), [][2]int64{{0, 100}}},
		{"end past object", rangeutil.Offset(150), rangeutil.Offset(5000), [][2]int64{{100, 200}}},
		{"negative start", rangeutil.Offset(-20), rangeutil.Offset(1), [][2]int64{{0, 100}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mappings, err := mapper.ReadMappings(ctx, obj, tt.start, tt.end)
			if err != nil {
				t.Fatalf("ReadMappings() error = %v", err)
			}
			if len(mappings) != len(tt.want) {
				t.Fatalf("got %d mappings, want %d", len(mappings), len(tt.want))
			}
			for i, m := range mappings {
				if m.Start != tt.want[i][0] || m.End != tt.want[i][1] {
					t.Errorf("mapping %d = [%d,%d), want %v", i, m.Start, m.End, tt.want[i])
				}
			}
		})
	}
}

func TestObjectMapper_EmptyRangeSkipsStore(t *testing.T) {
	ctx := context.Background()
	store := newSpyStore(t)
	mapper := service.NewObjectMapper(store, newRoundRobin(t, testNodes(1)))
	obj := testObject(100)

	tests := []struct {
		name       string
		start, end *int64
	}{
		{"equal bounds", rangeutil.Offset(10), rangeutil.Offset(10)},
		{"start past object", rangeutil.Offset(100), nil},
		{"reversed", rangeutil.Offset(50), rangeutil.Offset(20)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := store.totalCalls()
			mappings, err := mapper.ReadMappings(ctx, obj, tt.start, tt.end)
			if err != nil {
				t.Fatalf("ReadMappings() error = %v", err)
			}
			if mappings == nil || len(mappings) != 0 {
				t.Errorf("expected empty non-nil result, got %v", mappings)
			}
			if store.totalCalls() != before {
				t.Errorf("store was queried for an empty range")
			}
		})
	}
}

func TestObjectMapper_AllocateUnsupportedTopology(t *testing.T) {
	ctx := context.Background()
	store := newSpyStore(t)
	mapper := service.NewObjectMapper(store, newRoundRobin(t, testNodes(2)))

	buckets := []domain.Bucket{
		{Name: "none", System: "sys"},
		{Name: "two", System: "sys", Tiering: []domain.Tier{{Name: "hot"}, {Name: "cold"}}},
	}
	for _, b := range buckets {
		_, err := mapper.Allocate(ctx, b, testObject(10), 0, 10, 10, testCrypt)
		if !errors.Is(err, apperrors.ErrUnsupportedTopology) {
			t.Errorf("bucket %s: expected ErrUnsupportedTopology, got %v", b.Name, err)
		}
	}
	if store.totalCalls() != 0 {
		t.Errorf("store touched for an unsupported bucket")
	}
}

func TestObjectMapper_AllocateUnalignableChunk(t *testing.T) {
	ctx := context.Background()
	store := newSpyStore(t)
	mapper := service.NewObjectMapper(store, newRoundRobin(t, testNodes(2)))

	tests := []struct {
		name      string
		bucket    domain.Bucket
		chunkSize int64
	}{
		{"chunk size overflows alignment", testBucket(3), math.MaxInt64 - 1},
		{"kfrag bits too wide", testBucket(63), 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pm, err := mapper.Allocate(ctx, tt.bucket, testObject(10), 0, 10, tt.chunkSize, testCrypt)
			if !errors.Is(err, apperrors.ErrInvalidRange) {
				t.Fatalf("expected ErrInvalidRange, got %v (chunk size %d)", err, pm.ChunkSize)
			}
		})
	}
	if n := store.callCount("CreateChunk"); n != 0 {
		t.Errorf("CreateChunk called %d times for an unalignable chunk", n)
	}
}

func TestObjectMapper_AllocatePlacementFailure(t *testing.T) {
	ctx := context.Background()
	store := newSpyStore(t)

	var orphan domain.DataChunk
	tests := []struct {
		name     string
		allocate func(ctx context.Context, chunk domain.DataChunk) ([]domain.DataBlock, error)
	}{
		{
			name: "policy error",
			allocate: func(ctx context.Context, chunk domain.DataChunk) ([]domain.DataBlock, error) {
				orphan = chunk
				return nil, errors.New("cluster full")
			},
		},
		{
			name: "duplicate fragment",
			allocate: func(ctx context.Context, chunk domain.DataChunk) ([]domain.DataBlock, error) {
				orphan = chunk
				node := testNodes(1)[0]
				return []domain.DataBlock{
					{ID: "b1", ChunkID: chunk.ID, Fragment: 0, Node: node},
					{ID: "b2", ChunkID: chunk.ID, Fragment: 0, Node: node},
				}, nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapper := service.NewObjectMapper(store, &mockAllocator{allocateFunc: tt.allocate})
			_, err := mapper.Allocate(ctx, testBucket(1), testObject(10), 0, 10, 10, testCrypt)
			if !errors.Is(err, apperrors.ErrPlacementFailure) {
				t.Fatalf("expected ErrPlacementFailure, got %v", err)
			}

			// the chunk is left behind for an external collector
			chunks, err := store.GetChunks(ctx, []string{orphan.ID})
			if err != nil || len(chunks) != 1 {
				t.Errorf("orphan chunk %s not persisted: %v", orphan.ID, err)
			}
		})
	}

	parts, err := store.FindPartsByObject(ctx, "obj-1")
	if err != nil || len(parts) != 0 {
		t.Errorf("no part may be created on placement failure, got %v (%v)", parts, err)
	}
}

func TestObjectMapper_AllocateStoreFailure(t *testing.T) {
	ctx := context.Background()
	store := newSpyStore(t)
	cause := errors.New("disk full")
	store.failOn("CreateBlocks", cause)
	mapper := service.NewObjectMapper(store, newRoundRobin(t, testNodes(2)))

	_, err := mapper.Allocate(ctx, testBucket(0), testObject(10), 0, 10, 10, testCrypt)
	if !errors.Is(err, apperrors.ErrStoreFailure) || !errors.Is(err, cause) {
		t.Fatalf("expected store failure wrapping the cause, got %v", err)
	}
	if store.callCount("CreatePart") != 0 {
		t.Errorf("part created after block persistence failed")
	}
}

func TestObjectMapper_Tombstone(t *testing.T) {
	ctx := context.Background()
	store := newSpyStore(t)

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	metrics := service.NewMetrics(prometheus.NewRegistry())
	mapper := service.NewObjectMapper(store, newRoundRobin(t, testNodes(3)),
		service.WithClock(clock), service.WithMetrics(metrics))
	obj := testObject(300)

	var chunkIDs []string
	for start := int64(0); start < 300; start += 100 {
		if _, err := mapper.Allocate(ctx, testBucket(1), obj, start, start+100, 100, testCrypt); err != nil {
			t.Fatalf("Allocate() error = %v", err)
		}
	}
	parts, _ := store.FindPartsByObject(ctx, obj.ID)
	for _, p := range parts {
		chunkIDs = append(chunkIDs, p.ChunkID)
	}

	if err := mapper.Tombstone(ctx, obj); err != nil {
		t.Fatalf("Tombstone() error = %v", err)
	}
	first := now
	now = now.Add(time.Hour)
	if err := mapper.Tombstone(ctx, obj); err != nil {
		t.Fatalf("second Tombstone() error = %v", err)
	}

	chunks, err := store.GetChunks(ctx, chunkIDs)
	if err != nil {
		t.Fatalf("GetChunks() error = %v", err)
	}
	for id, c := range chunks {
		if c.DeletedAt == nil || !c.DeletedAt.Equal(first) {
			t.Errorf("chunk %s deleted_at = %v, want %v", id, c.DeletedAt, first)
		}
	}

	live, _ := store.FindBlocksByChunks(ctx, chunkIDs, domain.Live)
	if len(live) != 0 {
		t.Errorf("%d blocks still live after tombstone", len(live))
	}
	dead, _ := store.FindBlocksByChunks(ctx, chunkIDs, domain.Tombstoned)
	if len(dead) != 6 {
		t.Errorf("got %d tombstoned blocks, want 6", len(dead))
	}

	mappings, err := mapper.ReadMappings(ctx, obj, nil, nil)
	if err != nil || len(mappings) != 0 {
		t.Errorf("deleted object still readable: %v (%v)", mappings, err)
	}

	if got := testutil.ToFloat64(metrics.TombstonedChunks); got != 6 {
		t.Errorf("tombstoned chunks metric = %v, want 6", got)
	}
}

func TestObjectMapper_TombstoneAttemptsBothUpdates(t *testing.T) {
	ctx := context.Background()
	store := newSpyStore(t)
	mapper := service.NewObjectMapper(store, newRoundRobin(t, testNodes(2)))
	obj := testObject(10)

	if _, err := mapper.Allocate(ctx, testBucket(0), obj, 0, 10, 10, testCrypt); err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}

	chunkErr := errors.New("chunk table throttled")
	store.failOn("TombstoneChunks", chunkErr)
	err := mapper.Tombstone(ctx, obj)
	if !errors.Is(err, apperrors.ErrStoreFailure) || !errors.Is(err, chunkErr) {
		t.Fatalf("expected ErrStoreFailure wrapping %v, got %v", chunkErr, err)
	}
	if store.callCount("TombstoneBlocksOfChunks") != 1 {
		t.Errorf("blocks were not tombstoned after the chunk update failed")
	}

	// both failures are reported
	blockErr := errors.New("block table throttled")
	store.failOn("TombstoneBlocksOfChunks", blockErr)
	err = mapper.Tombstone(ctx, obj)
	if !errors.Is(err, chunkErr) || !errors.Is(err, blockErr) {
		t.Fatalf("expected both %v and %v, got %v", chunkErr, blockErr, err)
	}

	// nothing to do for an object without parts
	if err := mapper.Tombstone(ctx, domain.Object{ID: "empty"}); err != nil {
		t.Errorf("Tombstone(empty) error = %v", err)
	}
}

func TestObjectMapper_ReadNodeMappings(t *testing.T) {
	ctx := context.Background()
	store := newSpyStore(t)
	nodes := testNodes(3)
	mapper := service.NewObjectMapper(store, newRoundRobin(t, nodes))

	objects := []domain.Object{
		{ID: "o-z", System: "sys", Bucket: "photos", Key: "zebra.jpg", Size: 200},
		{ID: "o-a", System: "sys", Bucket: "photos", Key: "apple.jpg", Size: 100},
	}
	for _, obj := range objects {
		if err := store.PutObject(ctx, obj); err != nil {
			t.Fatalf("PutObject() error = %v", err)
		}
		for start := int64(0); start < obj.Size; start += 100 {
			if _, err := mapper.Allocate(ctx, testBucket(1), obj, start, start+100, 100, testCrypt); err != nil {
				t.Fatalf("Allocate() error = %v", err)
			}
		}
	}

	// every part is reported by each node holding one of its fragments
	seen := map[string]int{}
	for _, n := range nodes {
		result, err := mapper.ReadNodeMappings(ctx, n)
		if err != nil {
			t.Fatalf("ReadNodeMappings(%s) error = %v", n.ID, err)
		}
		for i := 1; i < len(result); i++ {
			if result[i-1].Key > result[i].Key {
				t.Errorf("node %s: results not ordered by key", n.ID)
			}
		}
		for _, om := range result {
			for _, pm := range om.Parts {
				holds := false
				for _, replicas := range pm.Fragments {
					for _, b := range replicas {
						holds = holds || b.Node.ID == n.ID
					}
				}
				if !holds {
					t.Errorf("node %s reported part %s[%d,%d) it does not hold", n.ID, om.ObjectID, pm.Start, pm.End)
				}
				seen[om.Key]++
			}
		}
	}

	// kfrag 2 on distinct nodes: each part is reported twice
	if seen["zebra.jpg"] != 4 || seen["apple.jpg"] != 2 {
		t.Errorf("unexpected part reports %v", seen)
	}

	if err := mapper.Tombstone(ctx, objects[0]); err != nil {
		t.Fatalf("Tombstone() error = %v", err)
	}
	for _, n := range nodes {
		result, err := mapper.ReadNodeMappings(ctx, n)
		if err != nil {
			t.Fatalf("ReadNodeMappings(%s) error = %v", n.ID, err)
		}
		for _, om := range result {
			if om.ObjectID == "o-z" {
				t.Errorf("node %s still reports tombstoned object", n.ID)
			}
		}
	}

	empty, err := mapper.ReadNodeMappings(ctx, domain.Node{ID: "unknown"})
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("unknown node: got %v (%v), want empty", empty, err)
	}
}

func TestObjectMapper_RepairBlockWriteFailure(t *testing.T) {
	ctx := context.Background()
	store := newSpyStore(t)
	metrics := service.NewMetrics(nil)
	mapper := service.NewObjectMapper(store, newRoundRobin(t, testNodes(5)), service.WithMetrics(metrics))
	obj := testObject(400)

	pm, err := mapper.Allocate(ctx, testBucket(2), obj, 0, 400, 400, testCrypt)
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	bad := pm.Fragments[1][0]

	replacement, err := mapper.RepairBlock(ctx, obj, 0, 400, 1, bad.BlockID, true)
	if err != nil {
		t.Fatalf("RepairBlock() error = %v", err)
	}
	if replacement == nil || replacement.Node.ID == bad.Node.ID || replacement.BlockID == bad.BlockID {
		t.Fatalf("replacement %+v does not move block %+v", replacement, bad)
	}

	stored, err := store.GetBlock(ctx, replacement.BlockID)
	if err != nil {
		t.Fatalf("replacement not persisted: %v", err)
	}
	if stored.Fragment != 1 {
		t.Errorf("replacement fragment = %d, want 1", stored.Fragment)
	}

	mappings, err := mapper.ReadMappings(ctx, obj, nil, nil)
	if err != nil {
		t.Fatalf("ReadMappings() error = %v", err)
	}
	if n := len(mappings[0].Fragments[1]); n != 2 {
		t.Errorf("fragment 1 has %d replicas, want 2", n)
	}
	if got := testutil.ToFloat64(metrics.Repairs.WithLabelValues("write_realloc")); got != 1 {
		t.Errorf("write_realloc metric = %v, want 1", got)
	}
}

func TestObjectMapper_RepairBlockInvalidRequests(t *testing.T) {
	ctx := context.Background()
	store := newSpyStore(t)
	mapper := service.NewObjectMapper(store, newRoundRobin(t, testNodes(3)))
	obj := testObject(200)

	first, err := mapper.Allocate(ctx, testBucket(1), obj, 0, 100, 100, testCrypt)
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	second, err := mapper.Allocate(ctx, testBucket(1), obj, 100, 200, 100, testCrypt)
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}

	tests := []struct {
		name       string
		start, end int64
		fragment   int
		blockID    string
	}{
		{"wrong fragment", 0, 100, 1, first.Fragments[0][0].BlockID},
		{"block of another chunk", 0, 100, 0, second.Fragments[0][0].BlockID},
		{"unknown block", 0, 100, 0, "no-such-block"},
		{"unknown part", 0, 150, 0, first.Fragments[0][0].BlockID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, isWrite := range []bool{true, false} {
				_, err := mapper.RepairBlock(ctx, obj, tt.start, tt.end, tt.fragment, tt.blockID, isWrite)
				if !errors.Is(err, apperrors.ErrInvalidRepairRequest) {
					t.Errorf("write=%v: expected ErrInvalidRepairRequest, got %v", isWrite, err)
				}
			}
		})
	}

	if store.callCount("CreateBlocks") != 2 {
		t.Errorf("invalid repairs persisted blocks")
	}
}

func TestObjectMapper_RepairBlockTombstoned(t *testing.T) {
	ctx := context.Background()
	store := newSpyStore(t)
	mapper := service.NewObjectMapper(store, newRoundRobin(t, testNodes(3)))
	obj := testObject(100)

	pm, err := mapper.Allocate(ctx, testBucket(0), obj, 0, 100, 100, testCrypt)
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	if err := mapper.Tombstone(ctx, obj); err != nil {
		t.Fatalf("Tombstone() error = %v", err)
	}

	_, err = mapper.RepairBlock(ctx, obj, 0, 100, 0, pm.Fragments[0][0].BlockID, true)
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestObjectMapper_RepairBlockChunkDeletedDuringPlacement(t *testing.T) {
	ctx := context.Background()
	store := newSpyStore(t)
	rr := newRoundRobin(t, testNodes(3))
	obj := testObject(100)

	var mapper *service.ObjectMapper
	allocator := &mockAllocator{
		allocateFunc: rr.AllocateForNewChunk,
		reallocateFunc: func(ctx context.Context, chunk domain.DataChunk, failed domain.DataBlock) (domain.DataBlock, error) {
			if err := mapper.Tombstone(ctx, obj); err != nil {
				t.Errorf("Tombstone() error = %v", err)
			}
			return rr.ReallocateBadBlock(ctx, chunk, failed)
		},
	}
	mapper = service.NewObjectMapper(store, allocator)

	pm, err := mapper.Allocate(ctx, testBucket(0), obj, 0, 100, 100, testCrypt)
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}

	_, err = mapper.RepairBlock(ctx, obj, 0, 100, 0, pm.Fragments[0][0].BlockID, true)
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if store.callCount("CreateBlocks") != 1 {
		t.Errorf("replacement persisted for a deleted chunk")
	}
}

func TestObjectMapper_RepairBlockReadFailure(t *testing.T) {
	ctx := context.Background()
	store := newSpyStore(t)
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	metrics := service.NewMetrics(nil)
	mapper := service.NewObjectMapper(store, newRoundRobin(t, testNodes(2)),
		service.WithClock(func() time.Time { return at }), service.WithMetrics(metrics))
	obj := testObject(100)

	pm, err := mapper.Allocate(ctx, testBucket(0), obj, 0, 100, 100, testCrypt)
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	bad := pm.Fragments[0][0]

	replacement, err := mapper.RepairBlock(ctx, obj, 0, 100, 0, bad.BlockID, false)
	if err != nil || replacement != nil {
		t.Fatalf("RepairBlock() = %v, %v; want nil, nil", replacement, err)
	}

	observations, err := store.BadBlocks(ctx, bad.BlockID)
	if err != nil {
		t.Fatalf("BadBlocks() error = %v", err)
	}
	if len(observations) != 1 || observations[0].NodeID != bad.Node.ID || !observations[0].ObservedAt.Equal(at) {
		t.Errorf("unexpected observations %+v", observations)
	}
	if store.callCount("CreateBlocks") != 1 {
		t.Errorf("read failure must not reallocate")
	}
	if got := testutil.ToFloat64(metrics.Repairs.WithLabelValues("read_observed")); got != 1 {
		t.Errorf("read_observed metric = %v, want 1", got)
	}
}

func TestObjectMapper_Metrics(t *testing.T) {
	ctx := context.Background()
	store := newSpyStore(t)
	reg := prometheus.NewRegistry()
	metrics := service.NewMetrics(reg)
	mapper := service.NewObjectMapper(store, newRoundRobin(t, testNodes(2)), service.WithMetrics(metrics))

	if _, err := mapper.Allocate(ctx, testBucket(0), testObject(10), 0, 10, 10, testCrypt); err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	if _, err := mapper.Allocate(ctx, domain.Bucket{Name: "none"}, testObject(10), 0, 10, 10, testCrypt); err == nil {
		t.Fatalf("expected error for bucket without tiers")
	}

	if got := testutil.ToFloat64(metrics.Allocations); got != 1 {
		t.Errorf("allocations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.Errors.WithLabelValues("allocate")); got != 1 {
		t.Errorf("allocate errors = %v, want 1", got)
	}
	if n, err := testutil.GatherAndCount(reg); err != nil || n == 0 {
		t.Errorf("metrics not registered: %d, %v", n, err)
	}
}

func TestObjectMapper_ReadNodeMappingsUnindexedObject(t *testing.T) {
	ctx := context.Background()
	store := newSpyStore(t)
	nodes := testNodes(1)
	mapper := service.NewObjectMapper(store, newRoundRobin(t, nodes))

	// parts exist but the object record is not visible yet
	obj := testObject(10)
	if _, err := mapper.Allocate(ctx, testBucket(0), obj, 0, 10, 10, testCrypt); err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}

	result, err := mapper.ReadNodeMappings(ctx, nodes[0])
	if err != nil {
		t.Fatalf("ReadNodeMappings() error = %v", err)
	}
	if len(result) != 1 || result[0].ObjectID != obj.ID || result[0].Key != "" || len(result[0].Parts) != 1 {
		t.Errorf("unexpected result %+v", result)
	}
}
