package service

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/klauspost/reedsolomon"

	"github.com/zzenonn/blockmap/internal/domain"
	apperrors "github.com/zzenonn/blockmap/internal/errors"
)

const hashTypeSHA256 = "sha256"

// SplitFragments pads data to chunkSize and splits it into kfrag equal
// fragments. chunkSize must be a multiple of kfrag.
func SplitFragments(data []byte, kfrag int, chunkSize int64) ([][]byte, error) {
	if len(data) == 0 {
		return nil, apperrors.ErrEmptyFile
	}
	if kfrag < 1 || chunkSize%int64(kfrag) != 0 || int64(len(data)) > chunkSize {
		return nil, fmt.Errorf("cannot split %d bytes into %d fragments of a %d byte chunk", len(data), kfrag, chunkSize)
	}

	enc, err := reedsolomon.New(kfrag, 0)
	if err != nil {
		return nil, err
	}

	padded := make([]byte, chunkSize)
	copy(padded, data)

	shards, err := enc.Split(padded)
	if err != nil {
		return nil, err
	}
	return shards[:kfrag], nil
}

// JoinFragments reassembles a chunk of chunkSize bytes from its fragments.
// Every fragment must be present.
func JoinFragments(fragments [][]byte, kfrag int, chunkSize int64) ([]byte, error) {
	if len(fragments) < kfrag {
		return nil, apperrors.ErrInsufficientShards
	}
	for _, f := range fragments[:kfrag] {
		if f == nil {
			return nil, apperrors.ErrInsufficientShards
		}
	}

	enc, err := reedsolomon.New(kfrag, 0)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := enc.Join(&buf, fragments[:kfrag], int(chunkSize)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ChunkCrypt returns the crypt metadata recorded for a plaintext chunk.
func ChunkCrypt(data []byte) domain.CryptMeta {
	sum := sha256.Sum256(data)
	return domain.CryptMeta{
		HashType: hashTypeSHA256,
		HashVal:  hex.EncodeToString(sum[:]),
	}
}

// VerifyChunk checks data against the hash of a part mapping. Unknown hash
// types are not verified.
func VerifyChunk(data []byte, crypt domain.CryptInfo) error {
	if crypt.HashType != hashTypeSHA256 {
		return nil
	}
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != crypt.HashVal {
		return apperrors.ErrChecksumMismatch
	}
	return nil
}
