package service

import (
	"github.com/zzenonn/blockmap/internal/domain"
)

// ownedPartMapping carries the owning object alongside a part mapping while
// the node reverse index groups parts by object.
type ownedPartMapping struct {
	objectID string
	mapping  domain.PartMapping
}

// partMapping assembles the wire form of part. blocks are the live blocks
// of chunk. Fragments is sized to kfrag and indexed by fragment index; a
// fragment without live blocks is an empty list.
func partMapping(part domain.ObjectPart, chunk domain.DataChunk, blocks []domain.DataBlock) domain.PartMapping {
	size := chunk.KFrag
	for _, b := range blocks {
		if b.Fragment >= size {
			size = b.Fragment + 1
		}
	}

	fragments := make([][]domain.BlockInfo, size)
	for i := range fragments {
		fragments[i] = []domain.BlockInfo{}
	}
	for _, b := range blocks {
		if b.Fragment < 0 {
			continue
		}
		fragments[b.Fragment] = append(fragments[b.Fragment], blockInfo(b))
	}

	return domain.PartMapping{
		Start:       part.Start,
		End:         part.End,
		ChunkOffset: part.ChunkOffset,
		KFrag:       chunk.KFrag,
		ChunkSize:   chunk.Size,
		Crypt: domain.CryptInfo{
			HashType:   chunk.Crypt.HashType,
			HashVal:    chunk.Crypt.HashVal,
			CipherType: chunk.Crypt.CipherType,
			CipherVal:  chunk.Crypt.CipherVal,
		},
		Fragments: fragments,
	}
}

func blockInfo(b domain.DataBlock) domain.BlockInfo {
	return domain.BlockInfo{
		BlockID: b.ID,
		Node: domain.NodeInfo{
			ID:   b.Node.ID,
			IP:   b.Node.IP,
			Port: b.Node.Port,
		},
	}
}

func groupBlocksByChunk(blocks []domain.DataBlock) map[string][]domain.DataBlock {
	byChunk := make(map[string][]domain.DataBlock)
	for _, b := range blocks {
		byChunk[b.ChunkID] = append(byChunk[b.ChunkID], b)
	}
	return byChunk
}

func distinctChunkIDs(parts []domain.ObjectPart) []string {
	seen := make(map[string]struct{}, len(parts))
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		if _, ok := seen[p.ChunkID]; ok {
			continue
		}
		seen[p.ChunkID] = struct{}{}
		ids = append(ids, p.ChunkID)
	}
	return ids
}
