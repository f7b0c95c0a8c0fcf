package kv

import "fmt"

// Key layout. Records live under their type prefix and are found through
// empty-valued index keys whose last segment is the record id.
const (
	prefixObject    = "obj/"
	prefixObjectKey = "objkey/"
	prefixChunk     = "chunk/"
	prefixBlock     = "block/"
	prefixPart      = "part/"
	prefixBadBlock  = "badblock/"

	prefixPartByObject = "idx/part-obj/"
	prefixPartByChunk  = "idx/part-chunk/"
	prefixBlockByChunk = "idx/block-chunk/"
	prefixBlockByNode  = "idx/block-node/"
)

func objectKey(id string) []byte { return []byte(prefixObject + id) }

// Bucket and key are separated by NUL, which cannot appear in a bucket name.
func objectByKeyKey(bucket, key string) []byte {
	return []byte(prefixObjectKey + bucket + idSep + key)
}

func chunkKey(id string) []byte { return []byte(prefixChunk + id) }
func blockKey(id string) []byte { return []byte(prefixBlock + id) }
func partKey(id string) []byte  { return []byte(prefixPart + id) }

// Id segments end in NUL so that the scan of one id never matches another
// id it prefixes, e.g. node "rack1" and node "rack1/n2".
const idSep = "\x00"

func badBlockPrefix(blockID string) []byte {
	return []byte(prefixBadBlock + blockID + idSep)
}

func badBlockKey(blockID string, observedAt int64) []byte {
	return []byte(fmt.Sprintf("%s%016x", badBlockPrefix(blockID), observedAt))
}

// Starts are fixed width hex so that iteration order is start order.
func partByObjectPrefix(objectID string) []byte {
	return []byte(prefixPartByObject + objectID + idSep)
}

func partByObjectStartPrefix(objectID string, start int64) []byte {
	return []byte(fmt.Sprintf("%s%016x/", partByObjectPrefix(objectID), start))
}

func partByObjectKey(objectID string, start int64, partID string) []byte {
	return append(partByObjectStartPrefix(objectID, start), partID...)
}

func partByChunkPrefix(chunkID string) []byte {
	return []byte(prefixPartByChunk + chunkID + idSep)
}

func blockByChunkPrefix(chunkID string) []byte {
	return []byte(prefixBlockByChunk + chunkID + idSep)
}

func blockByNodePrefix(nodeID string) []byte {
	return []byte(prefixBlockByNode + nodeID + idSep)
}

// idFromIndexKey returns the segment after prefix.
func idFromIndexKey(key, prefix []byte) string {
	return string(key[len(prefix):])
}
