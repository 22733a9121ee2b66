package core

import "bytes"

// ZkVerifier is the abstract verification hook of spec.md §1/§4.6: the
// core specifies only a verification contract, never a proving backend.
type ZkVerifier interface {
	Verify(proof []byte) bool
	Generate(request []byte) []byte
}

// StubZkVerifier is the only ZkVerifier this repository ships: it accepts
// well-formed proof envelopes and rejects malformed ones, never running a
// real circuit, per SPEC_FULL.md §C.5 ("ZK verification hook kept
// abstract, generation hook stubbed").
type StubZkVerifier struct{}

var zkMagic = []byte("ICNZK1")

// Verify reports true only for envelopes produced by Generate (or manually
// constructed with the same magic prefix), never performing real proof
// verification.
func (StubZkVerifier) Verify(proof []byte) bool {
	return bytes.HasPrefix(proof, zkMagic) && len(proof) > len(zkMagic)
}

// Generate wraps request in a stub proof envelope. This is not a real
// zero-knowledge proof; it exists only so Host ABI index 26 has a
// deterministic, non-empty response to marshal back to the guest.
func (StubZkVerifier) Generate(request []byte) []byte {
	return append(append([]byte{}, zkMagic...), request...)
}
