package domain

// NodeInfo is the address of a node as sent to readers and writers.
type NodeInfo struct {
	ID   string `json:"id"`
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// BlockInfo locates one block replica.
type BlockInfo struct {
	BlockID string   `json:"block_id"`
	Node    NodeInfo `json:"node"`
}

// CryptInfo mirrors CryptMeta on the wire.
type CryptInfo struct {
	HashType   string `json:"hash_type"`
	HashVal    string `json:"hash_val"`
	CipherType string `json:"cipher_type"`
	CipherVal  string `json:"cipher_val"`
}

// PartMapping is the wire form of one part: its byte range, chunk geometry
// and the live replicas of every fragment. Fragments[i] holds the blocks of
// fragment index i.
type PartMapping struct {
	Start       int64         `json:"start"`
	End         int64         `json:"end"`
	ChunkOffset int64         `json:"chunk_offset"`
	KFrag       int           `json:"kfrag"`
	ChunkSize   int64         `json:"chunk_size"`
	Crypt       CryptInfo     `json:"crypt"`
	Fragments   [][]BlockInfo `json:"fragments"`
}

// ObjectMappings groups the part mappings of one object, as produced by the
// node reverse index.
type ObjectMappings struct {
	ObjectID string        `json:"object_id"`
	Key      string        `json:"key"`
	Parts    []PartMapping `json:"parts"`
}
