package domain

// Tier is a tiering target of a bucket. KFragBits is log2 of the number of
// fragments a chunk written to this tier is split into.
type Tier struct {
	Name      string `json:"name"`
	KFragBits uint   `json:"kfrag_bits"`
}

// KFrag returns the fragment count of chunks placed on this tier.
func (t Tier) KFrag() int {
	return 1 << t.KFragBits
}

// Bucket groups objects of a system and names the tiers its chunks go to.
type Bucket struct {
	Name    string `json:"name"`
	System  string `json:"system"`
	Tiering []Tier `json:"tiering"`
}

// Object - a named blob inside a bucket
type Object struct {
	ID     string `json:"id" cbor:"id"`
	System string `json:"system" cbor:"system"`
	Bucket string `json:"bucket" cbor:"bucket"`
	Key    string `json:"key" cbor:"key"`
	Size   int64  `json:"size" cbor:"size"`
}

// ObjectPart maps the half-open byte range [Start, End) of an object onto a
// single chunk. ChunkOffset is where the part's bytes begin inside the chunk.
type ObjectPart struct {
	ID          string `json:"id" cbor:"id"`
	System      string `json:"system" cbor:"system"`
	ObjectID    string `json:"object_id" cbor:"object_id"`
	Start       int64  `json:"start" cbor:"start"`
	End         int64  `json:"end" cbor:"end"`
	ChunkID     string `json:"chunk_id" cbor:"chunk_id"`
	ChunkOffset int64  `json:"chunk_offset,omitempty" cbor:"chunk_offset,omitempty"`
}

// Intersects reports whether the part overlaps [start, end).
func (p ObjectPart) Intersects(start, end int64) bool {
	return p.Start < end && p.End > start
}
