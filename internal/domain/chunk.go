package domain

import "time"

// CryptMeta is opaque cryptographic metadata of a chunk. The engine stores
// and returns it but never interprets it.
type CryptMeta struct {
	HashType   string `json:"hash_type" cbor:"hash_type"`
	HashVal    string `json:"hash_val" cbor:"hash_val"`
	CipherType string `json:"cipher_type" cbor:"cipher_type"`
	CipherVal  string `json:"cipher_val" cbor:"cipher_val"`
}

// DataChunk is the erasure/replication coded unit backing one part.
type DataChunk struct {
	ID        string     `json:"id" cbor:"id"`
	System    string     `json:"system" cbor:"system"`
	Tier      string     `json:"tier" cbor:"tier"`
	Size      int64      `json:"size" cbor:"size"`
	KFrag     int        `json:"kfrag" cbor:"kfrag"`
	Crypt     CryptMeta  `json:"crypt" cbor:"crypt"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" cbor:"deleted_at,omitempty"`
}

// State returns the chunk lifecycle state.
func (c DataChunk) State() Lifecycle { return StateOf(c.DeletedAt) }

// Node is a storage target holding block bytes.
type Node struct {
	ID   string `json:"id" cbor:"id"`
	IP   string `json:"ip" cbor:"ip"`
	Port int    `json:"port" cbor:"port"`
}

// DataBlock is one replica of one fragment of a chunk, located on a node.
type DataBlock struct {
	ID        string     `json:"id" cbor:"id"`
	ChunkID   string     `json:"chunk_id" cbor:"chunk_id"`
	Fragment  int        `json:"fragment" cbor:"fragment"`
	Node      Node       `json:"node" cbor:"node"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" cbor:"deleted_at,omitempty"`
}

// State returns the block lifecycle state.
func (b DataBlock) State() Lifecycle { return StateOf(b.DeletedAt) }

// BlockObservation records a failed read of a block for a later rebuild.
type BlockObservation struct {
	BlockID    string    `json:"block_id" cbor:"block_id"`
	ChunkID    string    `json:"chunk_id" cbor:"chunk_id"`
	Fragment   int       `json:"fragment" cbor:"fragment"`
	NodeID     string    `json:"node_id" cbor:"node_id"`
	ObservedAt time.Time `json:"observed_at" cbor:"observed_at"`
}
