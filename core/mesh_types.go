package core

import (
	"encoding/binary"
	"encoding/json"

	"github.com/google/uuid"
)

// PayloadKind tags the variant carried by a ProtocolMessage, per spec.md
// §4.3 ("payload ∈ {Gossip{...}, MeshJobAnnouncement, ...}").
type PayloadKind int

const (
	PayloadGossip PayloadKind = iota
	PayloadMeshJobAnnouncement
	PayloadMeshBidSubmission
	PayloadMeshReceiptSubmission
	PayloadGovernanceProposalAnnouncement
	PayloadGovernanceVoteAnnouncement
	PayloadFederationSyncRequest
)

// Payload is the wire-level content of a ProtocolMessage. Bytes is the
// canonical encoding of the variant-specific struct (job announcement, bid,
// receipt, proposal, vote, ...); callers decode it once they know Kind.
type Payload struct {
	Kind  PayloadKind
	Topic string // meaningful for PayloadGossip
	Bytes []byte
	TTL   int
}

// ProtocolMessage is the signed envelope every mesh message travels in, per
// spec.md §6.2: "signature is Ed25519 over the canonical encoding of
// (payload, sender_did, nonce)". Duplicate nonces per (sender_did, topic)
// are rejected.
type ProtocolMessage struct {
	Payload   Payload
	SenderDid Did
	Nonce     uint64
	Signature []byte
}

// SignableBytes returns the canonical encoding ProtocolMessage signatures
// are computed over: a one-byte version tag (spec.md §6.2 "Versioning is
// via a leading one-byte tag"), the payload kind, payload bytes, payload
// topic, sender DID, and the nonce.
func (m ProtocolMessage) SignableBytes() []byte {
	const version = byte(1)
	buf := []byte{version, byte(m.Payload.Kind)}
	buf = appendLP(buf, m.Payload.Bytes)
	buf = appendLP(buf, []byte(m.Payload.TopicOrEmpty()))
	buf = appendLP(buf, []byte(m.SenderDid))
	var nonce [8]byte
	binary.LittleEndian.PutUint64(nonce[:], m.Nonce)
	return append(buf, nonce[:]...)
}

// TopicOrEmpty returns Topic, defined as a method so SignableBytes reads
// cleanly regardless of payload kind.
func (p Payload) TopicOrEmpty() string { return p.Topic }

// Sign signs m in place using kp, setting m.SenderDid and m.Signature. A
// zero m.Nonce is first replaced with a random one, so successive messages
// from the same sender are not rejected as duplicates.
func (m *ProtocolMessage) Sign(kp *KeyPair) {
	m.SenderDid = kp.Did
	if m.Nonce == 0 {
		id := uuid.New()
		m.Nonce = binary.LittleEndian.Uint64(id[:8])
	}
	m.Signature = kp.Sign(m.SignableBytes())
}

// VerifySignature checks m's signature resolves to m.SenderDid's public key.
func (m ProtocolMessage) VerifySignature(resolver Resolver) error {
	return Verify(resolver, m.SenderDid, m.SignableBytes(), m.Signature)
}

// NetworkStats reports the mesh network's observable counters, per spec.md
// §4.3 "get_network_stats() → {peer_count, bytes_sent, bytes_received, …}".
type NetworkStats struct {
	PeerCount     int
	BytesSent     uint64
	BytesReceived uint64
	MessagesSent  uint64
	MessagesRecv  uint64
}

// PeerID identifies a mesh peer. The libp2p backend uses the underlying
// libp2p peer.ID's string form; the in-memory backend uses an opaque name.
type PeerID string

// wireMessage is the JSON-on-the-wire shape of a ProtocolMessage.
type wireMessage struct {
	Kind      PayloadKind `json:"kind"`
	Topic     string      `json:"topic,omitempty"`
	Bytes     []byte      `json:"bytes"`
	TTL       int         `json:"ttl,omitempty"`
	SenderDid string      `json:"sender_did"`
	Nonce     uint64      `json:"nonce"`
	Signature []byte      `json:"signature,omitempty"`
}

func encodeProtocolMessage(m ProtocolMessage) []byte {
	w := wireMessage{
		Kind:      m.Payload.Kind,
		Topic:     m.Payload.Topic,
		Bytes:     m.Payload.Bytes,
		TTL:       m.Payload.TTL,
		SenderDid: string(m.SenderDid),
		Nonce:     m.Nonce,
		Signature: m.Signature,
	}
	raw, _ := json.Marshal(w)
	return raw
}

// decodeJSON is a thin json.Unmarshal wrapper shared by gossip dispatch
// code that needs to decode a Payload.Bytes body into a typed value.
func decodeJSON(raw []byte, v interface{}) error {
	return json.Unmarshal(raw, v)
}

// encodeJSON is a thin json.Marshal wrapper, the encode-side counterpart
// of decodeJSON.
func encodeJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func decodeProtocolMessage(raw []byte) (ProtocolMessage, error) {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return ProtocolMessage{}, WrapError(KindDeserializationError, "decode protocol message", err)
	}
	return ProtocolMessage{
		Payload: Payload{
			Kind:  w.Kind,
			Topic: w.Topic,
			Bytes: w.Bytes,
			TTL:   w.TTL,
		},
		SenderDid: Did(w.SenderDid),
		Nonce:     w.Nonce,
		Signature: w.Signature,
	}, nil
}
