package db

import (
	"time"

	"github.com/zzenonn/blockmap/internal/domain"
)

// Items as stored in DynamoDB. Timestamps are unix nanoseconds so that
// tombstone conditions compare numbers. Node fields are denormalized onto
// blocks so reads need no node lookup.

type objectRecord struct {
	ID     string `dynamodbav:"id"`
	System string `dynamodbav:"system"`
	Bucket string `dynamodbav:"bucket"`
	Key    string `dynamodbav:"key"`
	Size   int64  `dynamodbav:"size"`
}

type partRecord struct {
	ID          string `dynamodbav:"id"`
	System      string `dynamodbav:"system"`
	ObjectID    string `dynamodbav:"object_id"`
	Start       int64  `dynamodbav:"start"`
	End         int64  `dynamodbav:"end"`
	ChunkID     string `dynamodbav:"chunk_id"`
	ChunkOffset int64  `dynamodbav:"chunk_offset"`
}

type cryptRecord struct {
	HashType   string `dynamodbav:"hash_type,omitempty"`
	HashVal    string `dynamodbav:"hash_val,omitempty"`
	CipherType string `dynamodbav:"cipher_type,omitempty"`
	CipherVal  string `dynamodbav:"cipher_val,omitempty"`
}

type chunkRecord struct {
	ID        string      `dynamodbav:"id"`
	System    string      `dynamodbav:"system"`
	Tier      string      `dynamodbav:"tier"`
	Size      int64       `dynamodbav:"size"`
	KFrag     int         `dynamodbav:"kfrag"`
	Crypt     cryptRecord `dynamodbav:"crypt"`
	DeletedAt *int64      `dynamodbav:"deleted_at,omitempty"`
}

type blockRecord struct {
	ID        string `dynamodbav:"id"`
	ChunkID   string `dynamodbav:"chunk_id"`
	Fragment  int    `dynamodbav:"fragment"`
	NodeID    string `dynamodbav:"node_id"`
	NodeIP    string `dynamodbav:"node_ip"`
	NodePort  int    `dynamodbav:"node_port"`
	DeletedAt *int64 `dynamodbav:"deleted_at,omitempty"`
}

type badBlockRecord struct {
	BlockID    string `dynamodbav:"block_id"`
	ObservedAt string `dynamodbav:"observed_at"`
	ChunkID    string `dynamodbav:"chunk_id"`
	Fragment   int    `dynamodbav:"fragment"`
	NodeID     string `dynamodbav:"node_id"`
}

func toNanos(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	n := t.UnixNano()
	return &n
}

func fromNanos(n *int64) *time.Time {
	if n == nil {
		return nil
	}
	t := time.Unix(0, *n).UTC()
	return &t
}

func objectToRecord(o domain.Object) objectRecord {
	return objectRecord{ID: o.ID, System: o.System, Bucket: o.Bucket, Key: o.Key, Size: o.Size}
}

func (r objectRecord) toDomain() domain.Object {
	return domain.Object{ID: r.ID, System: r.System, Bucket: r.Bucket, Key: r.Key, Size: r.Size}
}

func partToRecord(p domain.ObjectPart) partRecord {
	return partRecord{
		ID:          p.ID,
		System:      p.System,
		ObjectID:    p.ObjectID,
		Start:       p.Start,
		End:         p.End,
		ChunkID:     p.ChunkID,
		ChunkOffset: p.ChunkOffset,
	}
}

func (r partRecord) toDomain() domain.ObjectPart {
	return domain.ObjectPart{
		ID:          r.ID,
		System:      r.System,
		ObjectID:    r.ObjectID,
		Start:       r.Start,
		End:         r.End,
		ChunkID:     r.ChunkID,
		ChunkOffset: r.ChunkOffset,
	}
}

func chunkToRecord(c domain.DataChunk) chunkRecord {
	return chunkRecord{
		ID:     c.ID,
		System: c.System,
		Tier:   c.Tier,
		Size:   c.Size,
		KFrag:  c.KFrag,
		Crypt: cryptRecord{
			HashType:   c.Crypt.HashType,
			HashVal:    c.Crypt.HashVal,
			CipherType: c.Crypt.CipherType,
			CipherVal:  c.Crypt.CipherVal,
		},
		DeletedAt: toNanos(c.DeletedAt),
	}
}

func (r chunkRecord) toDomain() domain.DataChunk {
	return domain.DataChunk{
		ID:     r.ID,
		System: r.System,
		Tier:   r.Tier,
		Size:   r.Size,
		KFrag:  r.KFrag,
		Crypt: domain.CryptMeta{
			HashType:   r.Crypt.HashType,
			HashVal:    r.Crypt.HashVal,
			CipherType: r.Crypt.CipherType,
			CipherVal:  r.Crypt.CipherVal,
		},
		DeletedAt: fromNanos(r.DeletedAt),
	}
}

func blockToRecord(b domain.DataBlock) blockRecord {
	return blockRecord{
		ID:        b.ID,
		ChunkID:   b.ChunkID,
		Fragment:  b.Fragment,
		NodeID:    b.Node.ID,
		NodeIP:    b.Node.IP,
		NodePort:  b.Node.Port,
		DeletedAt: toNanos(b.DeletedAt),
	}
}

func (r blockRecord) toDomain() domain.DataBlock {
	return domain.DataBlock{
		ID:        r.ID,
		ChunkID:   r.ChunkID,
		Fragment:  r.Fragment,
		Node:      domain.Node{ID: r.NodeID, IP: r.NodeIP, Port: r.NodePort},
		DeletedAt: fromNanos(r.DeletedAt),
	}
}

func badBlockToRecord(obs domain.BlockObservation) badBlockRecord {
	return badBlockRecord{
		BlockID:    obs.BlockID,
		ObservedAt: obs.ObservedAt.UTC().Format(time.RFC3339Nano),
		ChunkID:    obs.ChunkID,
		Fragment:   obs.Fragment,
		NodeID:     obs.NodeID,
	}
}
