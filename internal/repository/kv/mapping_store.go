// Package kv implements the mapping store on an embedded BadgerDB.
//
// It serves single-process deployments and tests. Every operation runs in
// one badger transaction, so a record and its index keys are always written
// together.
package kv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	log "github.com/sirupsen/logrus"

	"github.com/zzenonn/blockmap/internal/domain"
	apperrors "github.com/zzenonn/blockmap/internal/errors"
)

// Concurrent tombstones of overlapping records can conflict.
const maxConflictRetries = 3

// MappingStore implements the mapping store over BadgerDB.
type MappingStore struct {
	db *badger.DB
}

// Open opens a badger database at path. An empty path opens an in-memory
// database.
func Open(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q: %w", path, err)
	}
	return db, nil
}

// NewMappingStore creates a MappingStore over db. The caller owns db.
func NewMappingStore(db *badger.DB) *MappingStore {
	return &MappingStore{db: db}
}

func (s *MappingStore) view(op string, fn func(txn *badger.Txn) error) error {
	return apperrors.StoreError(op, s.db.View(fn))
}

func (s *MappingStore) update(op string, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
		log.Debugf("%s: transaction conflict, retrying", op)
	}
	return apperrors.StoreError(op, err)
}

func getRecord(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return unmarshal(val, v)
	})
}

func setRecord(txn *badger.Txn, key []byte, v any) error {
	data, err := marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return txn.Set(key, data)
}

// insertRecord fails if key already exists.
func insertRecord(txn *badger.Txn, key []byte, v any) error {
	if _, err := txn.Get(key); err == nil {
		return fmt.Errorf("record %s already exists", key)
	} else if !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	return setRecord(txn, key, v)
}

func notFound(err error, resource, id string) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return apperrors.NotFoundError(resource, id)
	}
	return err
}

// indexIDs returns the last key segments under prefix in key order.
func indexIDs(txn *badger.Txn, prefix []byte) []string {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []string
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		ids = append(ids, idFromIndexKey(it.Item().Key(), prefix))
	}
	return ids
}

// PutObject stores obj as the one object at its bucket/key. An object
// previously stored at that key, or an older version of obj at another key,
// is replaced.
func (s *MappingStore) PutObject(ctx context.Context, obj domain.Object) error {
	return s.update("put object", func(txn *badger.Txn) error {
		var previous domain.Object
		err := getRecord(txn, objectKey(obj.ID), &previous)
		switch {
		case err == nil:
			if err := txn.Delete(objectByKeyKey(previous.Bucket, previous.Key)); err != nil {
				return err
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		item, err := txn.Get(objectByKeyKey(obj.Bucket, obj.Key))
		switch {
		case err == nil:
			replaced, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if string(replaced) != obj.ID {
				if err := txn.Delete(objectKey(string(replaced))); err != nil {
					return err
				}
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		if err := setRecord(txn, objectKey(obj.ID), obj); err != nil {
			return err
		}
		return txn.Set(objectByKeyKey(obj.Bucket, obj.Key), []byte(obj.ID))
	})
}

func (s *MappingStore) GetObject(ctx context.Context, id string) (domain.Object, error) {
	var obj domain.Object
	err := s.view("get object", func(txn *badger.Txn) error {
		return notFound(getRecord(txn, objectKey(id), &obj), "object", id)
	})
	return obj, err
}

func (s *MappingStore) GetObjectByKey(ctx context.Context, bucket, key string) (domain.Object, error) {
	var obj domain.Object
	err := s.view("get object by key", func(txn *badger.Txn) error {
		item, err := txn.Get(objectByKeyKey(bucket, key))
		if err != nil {
			return notFound(err, "object", bucket+"/"+key)
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return notFound(getRecord(txn, objectKey(string(id)), &obj), "object", string(id))
	})
	return obj, err
}

func (s *MappingStore) CreateChunk(ctx context.Context, chunk domain.DataChunk) error {
	return s.update("create chunk", func(txn *badger.Txn) error {
		return insertRecord(txn, chunkKey(chunk.ID), chunk)
	})
}

func (s *MappingStore) CreateBlocks(ctx context.Context, blocks []domain.DataBlock) error {
	return s.update("create blocks", func(txn *badger.Txn) error {
		for _, b := range blocks {
			if err := insertRecord(txn, blockKey(b.ID), b); err != nil {
				return err
			}
			if err := txn.Set(append(blockByChunkPrefix(b.ChunkID), b.ID...), nil); err != nil {
				return err
			}
			if err := txn.Set(append(blockByNodePrefix(b.Node.ID), b.ID...), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *MappingStore) CreatePart(ctx context.Context, part domain.ObjectPart) error {
	return s.update("create part", func(txn *badger.Txn) error {
		if err := insertRecord(txn, partKey(part.ID), part); err != nil {
			return err
		}
		if err := txn.Set(partByObjectKey(part.ObjectID, part.Start, part.ID), nil); err != nil {
			return err
		}
		return txn.Set(append(partByChunkPrefix(part.ChunkID), part.ID...), nil)
	})
}

func (s *MappingStore) GetBlock(ctx context.Context, id string) (domain.DataBlock, error) {
	var block domain.DataBlock
	err := s.view("get block", func(txn *badger.Txn) error {
		return notFound(getRecord(txn, blockKey(id), &block), "block", id)
	})
	return block, err
}

func (s *MappingStore) GetChunks(ctx context.Context, ids []string) (map[string]domain.DataChunk, error) {
	chunks := make(map[string]domain.DataChunk, len(ids))
	err := s.view("get chunks", func(txn *badger.Txn) error {
		for _, id := range ids {
			var chunk domain.DataChunk
			err := getRecord(txn, chunkKey(id), &chunk)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			chunks[id] = chunk
		}
		return nil
	})
	return chunks, err
}

func (s *MappingStore) FindPart(ctx context.Context, system, objectID string, start, end int64) (domain.ObjectPart, error) {
	var found *domain.ObjectPart
	err := s.view("find part", func(txn *badger.Txn) error {
		for _, id := range indexIDs(txn, partByObjectStartPrefix(objectID, start)) {
			var part domain.ObjectPart
			if err := getRecord(txn, partKey(id), &part); err != nil {
				return err
			}
			if part.End == end && part.System == system {
				found = &part
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return domain.ObjectPart{}, err
	}
	if found == nil {
		return domain.ObjectPart{}, apperrors.NotFoundError("part", fmt.Sprintf("%s[%d,%d)", objectID, start, end))
	}
	return *found, nil
}

// FindPartsInRange walks the object's parts in start order and stops at the
// first part starting at or after end.
func (s *MappingStore) FindPartsInRange(ctx context.Context, objectID string, start, end int64) ([]domain.ObjectPart, error) {
	var parts []domain.ObjectPart
	err := s.view("find parts in range", func(txn *badger.Txn) error {
		prefix := partByObjectPrefix(objectID)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			rest := idFromIndexKey(it.Item().Key(), prefix)
			if len(rest) < 17 {
				return fmt.Errorf("malformed part index key %q", it.Item().Key())
			}
			partStart, err := strconv.ParseInt(rest[:16], 16, 64)
			if err != nil {
				return fmt.Errorf("malformed part index key %q: %w", it.Item().Key(), err)
			}
			if partStart >= end {
				break
			}

			var part domain.ObjectPart
			if err := getRecord(txn, partKey(rest[17:]), &part); err != nil {
				return err
			}
			if part.Intersects(start, end) {
				parts = append(parts, part)
			}
		}
		return nil
	})
	return parts, err
}

func (s *MappingStore) FindPartsByObject(ctx context.Context, objectID string) ([]domain.ObjectPart, error) {
	var parts []domain.ObjectPart
	err := s.view("find parts by object", func(txn *badger.Txn) error {
		prefix := partByObjectPrefix(objectID)
		for _, rest := range indexIDs(txn, prefix) {
			var part domain.ObjectPart
			if err := getRecord(txn, partKey(rest[17:]), &part); err != nil {
				return err
			}
			parts = append(parts, part)
		}
		return nil
	})
	return parts, err
}

func (s *MappingStore) FindPartsByChunks(ctx context.Context, chunkIDs []string) ([]domain.ObjectPart, error) {
	var parts []domain.ObjectPart
	err := s.view("find parts by chunks", func(txn *badger.Txn) error {
		for _, chunkID := range chunkIDs {
			for _, id := range indexIDs(txn, partByChunkPrefix(chunkID)) {
				var part domain.ObjectPart
				if err := getRecord(txn, partKey(id), &part); err != nil {
					return err
				}
				parts = append(parts, part)
			}
		}
		return nil
	})
	return parts, err
}

func (s *MappingStore) FindBlocksByChunks(ctx context.Context, chunkIDs []string, state domain.Lifecycle) ([]domain.DataBlock, error) {
	var blocks []domain.DataBlock
	err := s.view("find blocks by chunks", func(txn *badger.Txn) error {
		for _, chunkID := range chunkIDs {
			found, err := blocksUnder(txn, blockByChunkPrefix(chunkID), state)
			if err != nil {
				return err
			}
			blocks = append(blocks, found...)
		}
		return nil
	})
	sort.SliceStable(blocks, func(i, j int) bool {
		return blocks[i].Fragment < blocks[j].Fragment
	})
	return blocks, err
}

func (s *MappingStore) FindBlocksByNode(ctx context.Context, nodeID string, state domain.Lifecycle) ([]domain.DataBlock, error) {
	var blocks []domain.DataBlock
	err := s.view("find blocks by node", func(txn *badger.Txn) error {
		var err error
		blocks, err = blocksUnder(txn, blockByNodePrefix(nodeID), state)
		return err
	})
	return blocks, err
}

func blocksUnder(txn *badger.Txn, prefix []byte, state domain.Lifecycle) ([]domain.DataBlock, error) {
	var blocks []domain.DataBlock
	for _, id := range indexIDs(txn, prefix) {
		var block domain.DataBlock
		if err := getRecord(txn, blockKey(id), &block); err != nil {
			return nil, err
		}
		if state.Matches(block.DeletedAt) {
			blocks = append(blocks, block)
		}
	}
	return blocks, nil
}

// TombstoneChunks sets DeletedAt on live chunks. Missing ids are skipped.
func (s *MappingStore) TombstoneChunks(ctx context.Context, ids []string, at time.Time) error {
	return s.update("tombstone chunks", func(txn *badger.Txn) error {
		for _, id := range ids {
			var chunk domain.DataChunk
			err := getRecord(txn, chunkKey(id), &chunk)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if chunk.DeletedAt != nil {
				continue
			}
			chunk.DeletedAt = &at
			if err := setRecord(txn, chunkKey(id), chunk); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *MappingStore) TombstoneBlocksOfChunks(ctx context.Context, chunkIDs []string, at time.Time) error {
	return s.update("tombstone blocks", func(txn *badger.Txn) error {
		for _, chunkID := range chunkIDs {
			blocks, err := blocksUnder(txn, blockByChunkPrefix(chunkID), domain.Live)
			if err != nil {
				return err
			}
			for _, b := range blocks {
				b.DeletedAt = &at
				if err := setRecord(txn, blockKey(b.ID), b); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// RecordBadBlock stores a read failure observation for the rebuild scheduler.
func (s *MappingStore) RecordBadBlock(ctx context.Context, obs domain.BlockObservation) error {
	return s.update("record bad block", func(txn *badger.Txn) error {
		return setRecord(txn, badBlockKey(obs.BlockID, obs.ObservedAt.UnixNano()), obs)
	})
}

// BadBlocks returns the read failure observations recorded for blockID.
func (s *MappingStore) BadBlocks(ctx context.Context, blockID string) ([]domain.BlockObservation, error) {
	var observations []domain.BlockObservation
	err := s.view("bad blocks", func(txn *badger.Txn) error {
		prefix := badBlockPrefix(blockID)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var obs domain.BlockObservation
			if err := it.Item().Value(func(val []byte) error {
				return unmarshal(val, &obs)
			}); err != nil {
				return err
			}
			observations = append(observations, obs)
		}
		return nil
	})
	return observations, err
}
