// Package service provides the core business logic of the block mapping system.
//
// ObjectMapper is the object mapping engine. It turns byte ranges of objects
// into parts, backs every part with one chunk, asks a placement policy where
// the chunk's fragment blocks go, and serves the resulting mappings back to
// readers, rebuild schedulers, deletes and repairs:
//
//   - Allocate: chunk -> blocks -> part, returned as a PartMapping for the writer
//   - ReadMappings: parts intersecting [start, end), ordered by start
//   - ReadNodeMappings: every object with a live block on a node
//   - Tombstone: soft-deletes the chunks and blocks of an object
//   - RepairBlock: replaces a block whose write failed, records failed reads
//
// The engine holds no locks and spawns no background work. Every operation
// is a short sequence of round trips against the shared MappingStore.
// Allocate persists the chunk before its blocks and part and never rolls
// back: a failure midway leaves an orphaned chunk for an external collector.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/zzenonn/blockmap/internal/domain"
	apperrors "github.com/zzenonn/blockmap/internal/errors"
	"github.com/zzenonn/blockmap/internal/placement"
	"github.com/zzenonn/blockmap/internal/rangeutil"
)

// ObjectMapper maps object byte ranges to chunks and blocks.
type ObjectMapper struct {
	store     MappingStore
	allocator placement.BlockAllocator
	metrics   *Metrics
	now       func() time.Time
}

// MapperOption configures an ObjectMapper.
type MapperOption func(*ObjectMapper)

// WithMetrics makes the mapper count its operations in m.
func WithMetrics(m *Metrics) MapperOption {
	return func(o *ObjectMapper) { o.metrics = m }
}

// WithClock overrides the clock used for tombstones and observations.
func WithClock(now func() time.Time) MapperOption {
	return func(o *ObjectMapper) { o.now = now }
}

// NewObjectMapper creates a new ObjectMapper over store and allocator
func NewObjectMapper(store MappingStore, allocator placement.BlockAllocator, opts ...MapperOption) *ObjectMapper {
	m := &ObjectMapper{
		store:     store,
		allocator: allocator,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Allocate creates a chunk for [start, end) of obj, places its fragments and
// records the part. chunkSize is aligned up to the tier's fragment boundary.
func (m *ObjectMapper) Allocate(ctx context.Context, bucket domain.Bucket, obj domain.Object, start, end, chunkSize int64, crypt domain.CryptMeta) (pm domain.PartMapping, err error) {
	defer func() { m.metrics.failed("allocate", err) }()

	if len(bucket.Tiering) != 1 {
		return domain.PartMapping{}, fmt.Errorf("bucket %s has %d tiers: %w",
			bucket.Name, len(bucket.Tiering), apperrors.ErrUnsupportedTopology)
	}
	if obj.ID == "" {
		return domain.PartMapping{}, fmt.Errorf("object id: %w", apperrors.ErrMissingRequiredFields)
	}
	if start < 0 || end <= start {
		return domain.PartMapping{}, fmt.Errorf("part [%d,%d): %w", start, end, apperrors.ErrInvalidRange)
	}
	if chunkSize <= 0 {
		return domain.PartMapping{}, fmt.Errorf("chunk size %d: %w", chunkSize, apperrors.ErrInvalidRange)
	}

	tier := bucket.Tiering[0]
	alignedSize, ok := rangeutil.AlignUp(chunkSize, tier.KFragBits)
	if !ok {
		return domain.PartMapping{}, fmt.Errorf("chunk size %d on tier %s (kfrag bits %d): %w",
			chunkSize, tier.Name, tier.KFragBits, apperrors.ErrInvalidRange)
	}

	chunk := domain.DataChunk{
		ID:     uuid.NewString(),
		System: obj.System,
		Tier:   tier.Name,
		Size:   alignedSize,
		KFrag:  tier.KFrag(),
		Crypt:  crypt,
	}
	part := domain.ObjectPart{
		ID:       uuid.NewString(),
		System:   obj.System,
		ObjectID: obj.ID,
		Start:    start,
		End:      end,
		ChunkID:  chunk.ID,
	}

	log.Debugf("Allocating part [%d,%d) of object %s on tier %s (chunk size %d, kfrag %d)",
		start, end, obj.ID, tier.Name, chunk.Size, chunk.KFrag)

	if err := m.store.CreateChunk(ctx, chunk); err != nil {
		return domain.PartMapping{}, apperrors.StoreError("create chunk", err)
	}

	blocks, err := m.allocator.AllocateForNewChunk(ctx, chunk)
	if err == nil {
		err = checkNewBlocks(chunk, blocks)
	}
	if err != nil {
		log.Warnf("Chunk %s left without blocks: %v", chunk.ID, err)
		return domain.PartMapping{}, apperrors.PlacementError(err)
	}

	if err := m.store.CreateBlocks(ctx, blocks); err != nil {
		return domain.PartMapping{}, apperrors.StoreError("create blocks", err)
	}
	if err := m.store.CreatePart(ctx, part); err != nil {
		return domain.PartMapping{}, apperrors.StoreError("create part", err)
	}

	m.metrics.allocated()
	log.Infof("Allocated part [%d,%d) of object %s: chunk %s with %d blocks", start, end, obj.ID, chunk.ID, len(blocks))
	return partMapping(part, chunk, blocks), nil
}

// checkNewBlocks verifies the placement returned exactly one block per
// fragment index of chunk.
func checkNewBlocks(chunk domain.DataChunk, blocks []domain.DataBlock) error {
	if len(blocks) != chunk.KFrag {
		return fmt.Errorf("got %d blocks for %d fragments", len(blocks), chunk.KFrag)
	}
	covered := make([]bool, chunk.KFrag)
	for _, b := range blocks {
		if b.ChunkID != chunk.ID {
			return fmt.Errorf("block %s belongs to chunk %s", b.ID, b.ChunkID)
		}
		if b.Fragment < 0 || b.Fragment >= chunk.KFrag || covered[b.Fragment] {
			return fmt.Errorf("block %s has unexpected fragment %d", b.ID, b.Fragment)
		}
		covered[b.Fragment] = true
	}
	return nil
}

// ReadMappings returns the mappings of the parts of obj intersecting
// [start, end), ordered by part start. A nil bound means the object edge.
// An empty range yields an empty result without touching the store.
func (m *ObjectMapper) ReadMappings(ctx context.Context, obj domain.Object, start, end *int64) (mappings []domain.PartMapping, err error) {
	defer func() { m.metrics.failed("read", err) }()

	rng, ok := rangeutil.SanitizeRange(obj.Size, start, end)
	if !ok {
		return []domain.PartMapping{}, nil
	}

	log.Debugf("Reading mappings of object %s [%d,%d)", obj.ID, rng.Start, rng.End)

	parts, err := m.store.FindPartsInRange(ctx, obj.ID, rng.Start, rng.End)
	if err != nil {
		return nil, apperrors.StoreError("find parts in range", err)
	}

	owned, err := m.readPartsMappings(ctx, parts)
	if err != nil {
		return nil, err
	}

	mappings = make([]domain.PartMapping, 0, len(owned))
	for _, o := range owned {
		mappings = append(mappings, o.mapping)
	}
	return mappings, nil
}

// readPartsMappings loads the chunks and live blocks of parts and assembles
// their mappings in the order of parts. Parts whose chunk was tombstoned are
// skipped.
func (m *ObjectMapper) readPartsMappings(ctx context.Context, parts []domain.ObjectPart) ([]ownedPartMapping, error) {
	chunkIDs := distinctChunkIDs(parts)
	if len(chunkIDs) == 0 {
		return nil, nil
	}

	var (
		chunks map[string]domain.DataChunk
		blocks []domain.DataBlock
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		chunks, err = m.store.GetChunks(gctx, chunkIDs)
		return apperrors.StoreError("get chunks", err)
	})
	g.Go(func() error {
		var err error
		blocks, err = m.store.FindBlocksByChunks(gctx, chunkIDs, domain.Live)
		return apperrors.StoreError("find blocks by chunks", err)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	blocksByChunk := groupBlocksByChunk(blocks)
	owned := make([]ownedPartMapping, 0, len(parts))
	for _, part := range parts {
		chunk, ok := chunks[part.ChunkID]
		if !ok {
			return nil, fmt.Errorf("part %s of object %s: %w", part.ID, part.ObjectID,
				apperrors.NotFoundError("chunk", part.ChunkID))
		}
		if chunk.State() == domain.Tombstoned {
			log.Debugf("Skipping part %s: chunk %s is tombstoned", part.ID, chunk.ID)
			continue
		}
		owned = append(owned, ownedPartMapping{
			objectID: part.ObjectID,
			mapping:  partMapping(part, chunk, blocksByChunk[chunk.ID]),
		})
	}
	return owned, nil
}

// ReadNodeMappings finds every live block on node and returns, per owning
// object, the mappings of all parts whose chunk has such a block. Results
// are ordered by object key, then object id.
func (m *ObjectMapper) ReadNodeMappings(ctx context.Context, node domain.Node) (result []domain.ObjectMappings, err error) {
	defer func() { m.metrics.failed("read_node", err) }()

	log.Debugf("Reading mappings of node %s", node.ID)

	blocks, err := m.store.FindBlocksByNode(ctx, node.ID, domain.Live)
	if err != nil {
		return nil, apperrors.StoreError("find blocks by node", err)
	}
	if len(blocks) == 0 {
		return []domain.ObjectMappings{}, nil
	}

	seen := make(map[string]struct{}, len(blocks))
	chunkIDs := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if _, ok := seen[b.ChunkID]; ok {
			continue
		}
		seen[b.ChunkID] = struct{}{}
		chunkIDs = append(chunkIDs, b.ChunkID)
	}

	parts, err := m.store.FindPartsByChunks(ctx, chunkIDs)
	if err != nil {
		return nil, apperrors.StoreError("find parts by chunks", err)
	}
	sort.SliceStable(parts, func(i, j int) bool { return parts[i].Start < parts[j].Start })

	owned, err := m.readPartsMappings(ctx, parts)
	if err != nil {
		return nil, err
	}

	partsByObject := make(map[string][]domain.PartMapping)
	for _, o := range owned {
		partsByObject[o.objectID] = append(partsByObject[o.objectID], o.mapping)
	}

	result = make([]domain.ObjectMappings, 0, len(partsByObject))
	for objectID, mappings := range partsByObject {
		grouping := domain.ObjectMappings{ObjectID: objectID, Parts: mappings}
		obj, err := m.store.GetObject(ctx, objectID)
		switch {
		case err == nil:
			grouping.Key = obj.Key
		case errors.Is(err, apperrors.ErrNotFound):
			// also seen right after an upload when the store indexes ids lazily
			log.Warnf("Node %s holds blocks of unknown object %s", node.ID, objectID)
		default:
			return nil, apperrors.StoreError("get object", err)
		}
		result = append(result, grouping)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Key != result[j].Key {
			return result[i].Key < result[j].Key
		}
		return result[i].ObjectID < result[j].ObjectID
	})
	return result, nil
}

// Tombstone soft-deletes every chunk referenced by the parts of obj and all
// blocks of those chunks. Both updates are attempted even if one fails.
// Tombstones are monotonic, so a repeated call is safe.
func (m *ObjectMapper) Tombstone(ctx context.Context, obj domain.Object) (err error) {
	defer func() { m.metrics.failed("tombstone", err) }()

	parts, err := m.store.FindPartsByObject(ctx, obj.ID)
	if err != nil {
		return apperrors.StoreError("find parts by object", err)
	}

	chunkIDs := distinctChunkIDs(parts)
	if len(chunkIDs) == 0 {
		log.Debugf("Object %s has no parts to tombstone", obj.ID)
		return nil
	}

	at := m.now().UTC()
	log.Debugf("Tombstoning %d chunks of object %s", len(chunkIDs), obj.ID)

	var (
		wg                  sync.WaitGroup
		chunksErr, blockErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		chunksErr = apperrors.StoreError("tombstone chunks", m.store.TombstoneChunks(ctx, chunkIDs, at))
	}()
	go func() {
		defer wg.Done()
		blockErr = apperrors.StoreError("tombstone blocks", m.store.TombstoneBlocksOfChunks(ctx, chunkIDs, at))
	}()
	wg.Wait()
	if err := errors.Join(chunksErr, blockErr); err != nil {
		return err
	}

	m.metrics.tombstoned(len(chunkIDs))
	return nil
}

// RepairBlock handles a bad block reported by a reader or writer of the part
// [start, end) of obj. For a write failure it places, persists and returns a
// replacement block for the same fragment on another node. For a read
// failure it only records the observation and returns nil.
func (m *ObjectMapper) RepairBlock(ctx context.Context, obj domain.Object, start, end int64, fragment int, blockID string, isWriteFailure bool) (info *domain.BlockInfo, err error) {
	defer func() { m.metrics.failed("repair", err) }()

	var (
		block domain.DataBlock
		part  domain.ObjectPart
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		block, err = m.store.GetBlock(gctx, blockID)
		return err
	})
	g.Go(func() error {
		var err error
		part, err = m.store.FindPart(gctx, obj.System, obj.ID, start, end)
		return err
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			log.Errorf("Bad block - invalid part/block: object %s [%d,%d) block %s: %v", obj.ID, start, end, blockID, err)
			return nil, apperrors.InvalidRepairError(err.Error())
		}
		return nil, apperrors.StoreError("repair lookup", err)
	}

	if block.Fragment != fragment || block.ChunkID != part.ChunkID {
		log.Errorf("Bad block - invalid block: %+v for part %+v (fragment %d)", block, part, fragment)
		return nil, apperrors.InvalidRepairError(fmt.Sprintf(
			"block %s (chunk %s, fragment %d) does not match part chunk %s fragment %d",
			block.ID, block.ChunkID, block.Fragment, part.ChunkID, fragment))
	}

	chunk, err := m.liveChunk(ctx, part.ChunkID)
	if err != nil {
		return nil, err
	}
	if block.State() == domain.Tombstoned {
		return nil, fmt.Errorf("block %s is tombstoned: %w", block.ID, apperrors.ErrNotFound)
	}

	if !isWriteFailure {
		return nil, m.observeBadRead(ctx, block)
	}

	replacement, err := m.allocator.ReallocateBadBlock(ctx, chunk, block)
	if err == nil && (replacement.ChunkID != chunk.ID || replacement.Fragment != block.Fragment || replacement.Node.ID == block.Node.ID) {
		err = fmt.Errorf("replacement %s (chunk %s, fragment %d, node %s) does not replace block %s",
			replacement.ID, replacement.ChunkID, replacement.Fragment, replacement.Node.ID, block.ID)
	}
	if err != nil {
		return nil, apperrors.PlacementError(err)
	}

	// the object may have been deleted while placement ran
	if _, err := m.liveChunk(ctx, chunk.ID); err != nil {
		return nil, err
	}

	if err := m.store.CreateBlocks(ctx, []domain.DataBlock{replacement}); err != nil {
		return nil, apperrors.StoreError("create replacement block", err)
	}

	m.metrics.repaired("write_realloc")
	log.Infof("Replaced block %s of chunk %s fragment %d: node %s -> %s (block %s)",
		block.ID, chunk.ID, block.Fragment, block.Node.ID, replacement.Node.ID, replacement.ID)

	bi := blockInfo(replacement)
	return &bi, nil
}

// liveChunk loads a chunk and fails with ErrNotFound when it is missing or
// tombstoned.
func (m *ObjectMapper) liveChunk(ctx context.Context, id string) (domain.DataChunk, error) {
	chunks, err := m.store.GetChunks(ctx, []string{id})
	if err != nil {
		return domain.DataChunk{}, apperrors.StoreError("get chunk", err)
	}
	chunk, ok := chunks[id]
	if !ok {
		return domain.DataChunk{}, apperrors.NotFoundError("chunk", id)
	}
	if chunk.State() == domain.Tombstoned {
		return domain.DataChunk{}, fmt.Errorf("chunk %s is tombstoned: %w", id, apperrors.ErrNotFound)
	}
	return chunk, nil
}

// observeBadRead keeps a read failure for the rebuild scheduler. Nothing is
// reallocated for read failures.
func (m *ObjectMapper) observeBadRead(ctx context.Context, block domain.DataBlock) error {
	obs := domain.BlockObservation{
		BlockID:    block.ID,
		ChunkID:    block.ChunkID,
		Fragment:   block.Fragment,
		NodeID:     block.Node.ID,
		ObservedAt: m.now().UTC(),
	}
	log.Warnf("Read failure reported for block %s of chunk %s on node %s", block.ID, block.ChunkID, block.Node.ID)

	if recorder, ok := m.store.(BadBlockRecorder); ok {
		if err := recorder.RecordBadBlock(ctx, obs); err != nil {
			return apperrors.StoreError("record bad block", err)
		}
	}
	m.metrics.repaired("read_observed")
	return nil
}
