package core

import (
	"encoding/binary"

	gocid "github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// Cid is the content identifier used as the sole key into the DAG store.
// It wraps github.com/ipfs/go-cid the same way core/storage.go's Pin does,
// rather than inventing a parallel hash type.
type Cid = gocid.Cid

// CodecRaw is the multicodec tag used for opaque byte payloads (receipts,
// job manifests, scalar execution outputs).
const CodecRaw = gocid.Raw

// CodecDagCbor tags structured DAG blocks with linked children.
const CodecDagCbor = 0x71

// computeCid derives a Cid over the canonical encoding of a block's fields,
// following the "(codec, data, links, timestamp, author_did, signature?,
// scope?)" Merkle hash from spec.md §3, grounded on
// icn-dag/tests/file_sharding.rs's compute_merkle_cid.
func computeCid(codec uint64, data []byte, links []DagLink, timestamp int64, author Did, signature []byte, scope string) (Cid, error) {
	enc := canonicalBlockBytes(data, links, timestamp, author, signature, scope)
	sum, err := mh.Sum(enc, mh.SHA2_256, -1)
	if err != nil {
		return Cid{}, WrapError(KindInternal, "compute multihash", err)
	}
	return gocid.NewCidV1(codec, sum), nil
}

// canonicalBlockBytes produces the deterministic byte encoding a CID is
// derived from. Field order is fixed; every field is length-prefixed so no
// two distinct field tuples can collide on their concatenation.
func canonicalBlockBytes(data []byte, links []DagLink, timestamp int64, author Did, signature []byte, scope string) []byte {
	var buf []byte
	buf = appendLP(buf, data)
	for _, l := range links {
		buf = appendLP(buf, []byte(l.Cid.String()))
		buf = appendLP(buf, []byte(l.Name))
		buf = appendU64(buf, l.Size)
	}
	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], uint64(timestamp))
	buf = append(buf, ts[:]...)
	buf = appendLP(buf, []byte(author))
	buf = appendLP(buf, signature)
	buf = appendLP(buf, []byte(scope))
	return buf
}

func appendLP(buf, field []byte) []byte {
	buf = appendU64(buf, uint64(len(field)))
	return append(buf, field...)
}

func appendU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

// rawCid derives a Cid over a bare byte payload with no links/author, used
// for execution results (spec.md §4.6: "result_cid = CID(codec=raw,
// bytes=little_endian(return_value))").
func rawCid(payload []byte) (Cid, error) {
	sum, err := mh.Sum(payload, mh.SHA2_256, -1)
	if err != nil {
		return Cid{}, WrapError(KindInternal, "compute multihash", err)
	}
	return gocid.NewCidV1(CodecRaw, sum), nil
}

// le64 little-endian encodes v, used to build result_cid inputs for scalar
// (i64) execution outputs.
func le64(v int64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return b[:]
}

// parseCid decodes a CID previously produced by Cid.String().
func parseCid(s string) (Cid, error) {
	c, err := gocid.Decode(s)
	if err != nil {
		return Cid{}, WrapError(KindDeserializationError, "decode cid", err)
	}
	return c, nil
}
