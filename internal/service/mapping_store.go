package service

import (
	"context"
	"time"

	"github.com/zzenonn/blockmap/internal/domain"
)

// MappingStore is the persistent home of objects, parts, chunks and blocks.
// It is the only shared state between engine instances. Implementations
// return errors wrapping apperrors.ErrNotFound for missing records.
type MappingStore interface {
	PutObject(ctx context.Context, obj domain.Object) error
	GetObject(ctx context.Context, id string) (domain.Object, error)
	GetObjectByKey(ctx context.Context, bucket, key string) (domain.Object, error)

	CreateChunk(ctx context.Context, chunk domain.DataChunk) error
	CreateBlocks(ctx context.Context, blocks []domain.DataBlock) error
	CreatePart(ctx context.Context, part domain.ObjectPart) error

	GetBlock(ctx context.Context, id string) (domain.DataBlock, error)
	// GetChunks returns the chunks found among ids, in any lifecycle state.
	GetChunks(ctx context.Context, ids []string) (map[string]domain.DataChunk, error)

	// FindPart returns the part of obj with exactly the range [start, end).
	FindPart(ctx context.Context, system, objectID string, start, end int64) (domain.ObjectPart, error)
	// FindPartsInRange returns parts with part.Start < end && part.End > start,
	// ordered by Start.
	FindPartsInRange(ctx context.Context, objectID string, start, end int64) ([]domain.ObjectPart, error)
	FindPartsByObject(ctx context.Context, objectID string) ([]domain.ObjectPart, error)
	FindPartsByChunks(ctx context.Context, chunkIDs []string) ([]domain.ObjectPart, error)

	// FindBlocksByChunks returns blocks of the chunks in state, ordered by fragment.
	FindBlocksByChunks(ctx context.Context, chunkIDs []string, state domain.Lifecycle) ([]domain.DataBlock, error)
	FindBlocksByNode(ctx context.Context, nodeID string, state domain.Lifecycle) ([]domain.DataBlock, error)

	// TombstoneChunks sets DeletedAt on the chunks that are still live.
	// Already tombstoned chunks keep their original timestamp.
	TombstoneChunks(ctx context.Context, ids []string, at time.Time) error
	// TombstoneBlocksOfChunks sets DeletedAt on the live blocks of the chunks.
	TombstoneBlocksOfChunks(ctx context.Context, chunkIDs []string, at time.Time) error
}

// BadBlockRecorder is implemented by stores that can keep read failure
// observations for a rebuild scheduler.
type BadBlockRecorder interface {
	RecordBadBlock(ctx context.Context, obs domain.BlockObservation) error
}
