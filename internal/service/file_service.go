package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/zzenonn/blockmap/internal/domain"
	apperrors "github.com/zzenonn/blockmap/internal/errors"
	"github.com/zzenonn/blockmap/internal/rangeutil"
)

// FileService is the client side of the data path: it cuts objects into
// chunk sized parts, asks the mapper where their fragments go and moves the
// fragment bytes to and from the nodes.
type FileService struct {
	mapper    *ObjectMapper
	store     MappingStore
	blocks    *BlockIO
	chunkSize int64
}

// NewFileService creates a new FileService instance
func NewFileService(mapper *ObjectMapper, store MappingStore, blocks *BlockIO, chunkSize int64) *FileService {
	return &FileService{
		mapper:    mapper,
		store:     store,
		blocks:    blocks,
		chunkSize: chunkSize,
	}
}

// Upload stores the contents of r as key in bucket. An object already stored
// at key is replaced and its chunks tombstoned once the new one is complete.
func (s *FileService) Upload(ctx context.Context, bucket domain.Bucket, key string, r io.Reader) (domain.Object, error) {
	previous, err := s.store.GetObjectByKey(ctx, bucket.Name, key)
	hasPrevious := err == nil
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return domain.Object{}, apperrors.StoreError("get object by key", err)
	}

	obj := domain.Object{
		ID:     uuid.NewString(),
		System: bucket.System,
		Bucket: bucket.Name,
		Key:    key,
	}

	buf := make([]byte, s.chunkSize)
	var offset int64
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if err := s.uploadPart(ctx, bucket, obj, offset, buf[:n]); err != nil {
				return domain.Object{}, err
			}
			offset += int64(n)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return domain.Object{}, fmt.Errorf("failed to read %s: %w", key, err)
		}
	}
	if offset == 0 {
		return domain.Object{}, apperrors.ErrEmptyFile
	}

	obj.Size = offset
	if err := s.store.PutObject(ctx, obj); err != nil {
		return domain.Object{}, apperrors.StoreError("put object", err)
	}
	log.Infof("Uploaded %s/%s as object %s (%d bytes)", bucket.Name, key, obj.ID, obj.Size)

	if hasPrevious {
		if err := s.mapper.Tombstone(ctx, previous); err != nil {
			log.Warnf("Failed to tombstone replaced object %s: %v", previous.ID, err)
		}
	}
	return obj, nil
}

// uploadPart allocates the part [start, start+len(data)) and writes every
// fragment block in parallel.
func (s *FileService) uploadPart(ctx context.Context, bucket domain.Bucket, obj domain.Object, start int64, data []byte) error {
	end := start + int64(len(data))
	pm, err := s.mapper.Allocate(ctx, bucket, obj, start, end, s.chunkSize, ChunkCrypt(data))
	if err != nil {
		return err
	}

	fragments, err := SplitFragments(data, pm.KFrag, pm.ChunkSize)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	errorCh := make(chan error, len(pm.Fragments))

	for fragment, replicas := range pm.Fragments {
		for _, block := range replicas {
			wg.Add(1)
			go func(fragment int, block domain.BlockInfo) {
				defer wg.Done()
				if err := s.writeBlock(ctx, obj, pm, fragment, block, fragments[fragment]); err != nil {
					errorCh <- err
				}
			}(fragment, block)
		}
	}

	wg.Wait()
	close(errorCh)

	var errs []error
	for err := range errorCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// writeBlock writes one block. When the node refuses the write the block is
// reported to the mapper and the bytes go to the replacement instead.
func (s *FileService) writeBlock(ctx context.Context, obj domain.Object, pm domain.PartMapping, fragment int, block domain.BlockInfo, data []byte) error {
	err := s.blocks.PutBlock(ctx, block, data)
	if err == nil {
		return nil
	}
	log.Warnf("Write of block %s failed, requesting replacement: %v", block.BlockID, err)

	replacement, repairErr := s.mapper.RepairBlock(ctx, obj, pm.Start, pm.End, fragment, block.BlockID, true)
	if repairErr != nil {
		return errors.Join(err, repairErr)
	}
	return s.blocks.PutBlock(ctx, *replacement, data)
}

// Download writes the bytes [start, end) of key to w. Nil bounds mean the
// object edges.
func (s *FileService) Download(ctx context.Context, bucket, key string, start, end *int64, w io.Writer) error {
	obj, err := s.store.GetObjectByKey(ctx, bucket, key)
	if err != nil {
		return apperrors.StoreError("get object by key", err)
	}

	rng, ok := rangeutil.SanitizeRange(obj.Size, start, end)
	if !ok {
		return nil
	}

	mappings, err := s.mapper.ReadMappings(ctx, obj, start, end)
	if err != nil {
		return err
	}
	if len(mappings) == 0 {
		return apperrors.NotFoundError("object", bucket+"/"+key)
	}

	next := rng.Start
	for _, pm := range mappings {
		if pm.Start > next {
			return fmt.Errorf("object %s has no part for [%d,%d): %w", obj.ID, next, pm.Start, apperrors.ErrInvalidRange)
		}

		data, err := s.readPart(ctx, obj, pm)
		if err != nil {
			return err
		}

		lo := max(rng.Start, pm.Start) - pm.Start
		hi := min(rng.End, pm.End) - pm.Start
		if _, err := w.Write(data[lo:hi]); err != nil {
			return err
		}
		next = max(next, pm.End)
	}
	if next < rng.End {
		return fmt.Errorf("object %s has no part for [%d,%d): %w", obj.ID, next, rng.End, apperrors.ErrInvalidRange)
	}
	return nil
}

// readPart fetches one replica of every fragment, joins the chunk and
// returns the verified bytes of the part.
func (s *FileService) readPart(ctx context.Context, obj domain.Object, pm domain.PartMapping) ([]byte, error) {
	fragments := make([][]byte, pm.KFrag)

	g, gctx := errgroup.WithContext(ctx)
	for fragment := 0; fragment < pm.KFrag && fragment < len(pm.Fragments); fragment++ {
		g.Go(func() error {
			data, err := s.readFragment(gctx, obj, pm, fragment)
			if err != nil {
				return err
			}
			fragments[fragment] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	chunk, err := JoinFragments(fragments, pm.KFrag, pm.ChunkSize)
	if err != nil {
		return nil, fmt.Errorf("part [%d,%d) of object %s: %w", pm.Start, pm.End, obj.ID, err)
	}

	partEnd := pm.ChunkOffset + (pm.End - pm.Start)
	if partEnd > int64(len(chunk)) {
		return nil, fmt.Errorf("part [%d,%d) exceeds its %d byte chunk: %w", pm.Start, pm.End, len(chunk), apperrors.ErrInvalidRange)
	}
	data := chunk[pm.ChunkOffset:partEnd]
	if err := VerifyChunk(data, pm.Crypt); err != nil {
		return nil, fmt.Errorf("part [%d,%d) of object %s: %w", pm.Start, pm.End, obj.ID, err)
	}
	return data, nil
}

// readFragment tries the replicas of a fragment in order. Every failed
// replica is reported to the mapper as a read failure.
func (s *FileService) readFragment(ctx context.Context, obj domain.Object, pm domain.PartMapping, fragment int) ([]byte, error) {
	for _, block := range pm.Fragments[fragment] {
		data, err := s.blocks.GetBlock(ctx, block)
		if err == nil {
			return data, nil
		}

		log.Warnf("Read of block %s failed: %v", block.BlockID, err)
		if _, err := s.mapper.RepairBlock(ctx, obj, pm.Start, pm.End, fragment, block.BlockID, false); err != nil {
			log.Warnf("Failed to report bad block %s: %v", block.BlockID, err)
		}
	}
	return nil, fmt.Errorf("fragment %d of part [%d,%d): %w", fragment, pm.Start, pm.End, apperrors.ErrInsufficientShards)
}

// Delete tombstones the object stored at key. With purge the bytes of its
// tombstoned blocks are removed from the nodes as well.
func (s *FileService) Delete(ctx context.Context, bucket, key string, purge bool) error {
	obj, err := s.store.GetObjectByKey(ctx, bucket, key)
	if err != nil {
		return apperrors.StoreError("get object by key", err)
	}

	if err := s.mapper.Tombstone(ctx, obj); err != nil {
		return err
	}
	log.Infof("Deleted %s/%s (object %s)", bucket, key, obj.ID)

	if !purge {
		return nil
	}

	parts, err := s.store.FindPartsByObject(ctx, obj.ID)
	if err != nil {
		return apperrors.StoreError("find parts by object", err)
	}
	blocks, err := s.store.FindBlocksByChunks(ctx, distinctChunkIDs(parts), domain.Tombstoned)
	if err != nil {
		return apperrors.StoreError("find blocks by chunks", err)
	}

	var errs []error
	for _, b := range blocks {
		if err := s.blocks.DeleteBlock(ctx, b); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
