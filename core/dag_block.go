package core

import "time"

// DagLink references a child block from a parent, carrying enough metadata
// to walk the DAG without fetching the child (spec.md §3).
type DagLink struct {
	Cid  Cid
	Name string
	Size uint64
}

// DagBlock is a content-addressed unit of storage. Its Cid must always equal
// the recomputed hash of its other fields (spec.md §3 invariant, §8
// "∀ stored DAG block b: CID(b.fields) = b.cid").
type DagBlock struct {
	Cid       Cid
	Data      []byte
	Links     []DagLink
	Timestamp int64
	AuthorDid Did
	Signature []byte
	Scope     string
}

// NewDagBlock builds a DagBlock and computes its Cid from its fields. The
// codec is CodecDagCbor when the block carries links, CodecRaw otherwise,
// matching how the donor's storage.go tags leaf blobs vs. structured data.
func NewDagBlock(data []byte, links []DagLink, author Did, signature []byte, scope string, now time.Time) (DagBlock, error) {
	codec := CodecRaw
	if len(links) > 0 {
		codec = CodecDagCbor
	}
	ts := now.UnixMilli()
	cid, err := computeCid(uint64(codec), data, links, ts, author, signature, scope)
	if err != nil {
		return DagBlock{}, err
	}
	return DagBlock{
		Cid:       cid,
		Data:      data,
		Links:     links,
		Timestamp: ts,
		AuthorDid: author,
		Signature: signature,
		Scope:     scope,
	}, nil
}

// VerifyIntegrity recomputes b's Cid from its fields and checks it matches
// the stored Cid, enforcing the invariant of spec.md §3/§4.1.
func (b DagBlock) VerifyIntegrity() error {
	want, err := computeCid(uint64(b.Cid.Type()), b.Data, b.Links, b.Timestamp, b.AuthorDid, b.Signature, b.Scope)
	if err != nil {
		return err
	}
	if !want.Equals(b.Cid) {
		return NewError(KindInvalidInput, "dag block cid mismatch")
	}
	return nil
}

// BlockMetadata is the side-table entry describing a stored block's
// pin/TTL/creation state (spec.md §4.1 get_metadata, §6.4).
type BlockMetadata struct {
	Pinned    bool
	TTL       *time.Duration
	CreatedAt time.Time
}

// Expired reports whether the block's TTL has elapsed as of now, per
// spec.md §4.1 prune_expired: "removes every block whose ttl is set and
// created_at + ttl ≤ now, unless pinned".
func (m BlockMetadata) Expired(now time.Time) bool {
	if m.Pinned || m.TTL == nil {
		return false
	}
	return !now.Before(m.CreatedAt.Add(*m.TTL))
}
