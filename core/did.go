package core

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

// Did is a decentralized identifier of the form "did:method:specific-id".
type Did string

// Method returns the method segment of the DID ("key", "icn", ...).
func (d Did) Method() string {
	parts := strings.SplitN(string(d), ":", 3)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// SpecificID returns the method-specific identifier segment.
func (d Did) SpecificID() string {
	parts := strings.SplitN(string(d), ":", 3)
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}

// Valid reports whether d has the minimal "did:method:specific-id" shape.
func (d Did) Valid() bool {
	parts := strings.SplitN(string(d), ":", 3)
	return len(parts) == 3 && parts[0] == "did" && parts[1] != "" && parts[2] != ""
}

// KeyPair holds an Ed25519 identity: its DID and the key material behind it.
type KeyPair struct {
	Did        Did
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// NewKeyPair generates a fresh Ed25519 identity under the "did:key" method,
// following the donor's Ed25519 branch in security.go but generalized to
// produce a DID rather than a bare key.
func NewKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, WrapError(KindInternal, "generate ed25519 keypair", err)
	}
	did := Did(fmt.Sprintf("did:key:%s", base64.RawURLEncoding.EncodeToString(pub)))
	return &KeyPair{Did: did, PublicKey: pub, PrivateKey: priv}, nil
}

// Sign produces an Ed25519 signature over msg.
func (kp *KeyPair) Sign(msg []byte) []byte {
	return ed25519.Sign(kp.PrivateKey, msg)
}

// Resolver maps a DID to its public key. Production nodes resolve through a
// DID document registry (out of scope here per spec.md §1); this interface
// is the abstract contract the rest of the core depends on.
type Resolver interface {
	Resolve(did Did) (ed25519.PublicKey, error)
}

// StaticResolver resolves DIDs from an explicit in-memory table. This is the
// only Resolver implementation the core ships; production deployments
// supply their own (DID document fetch, on-chain registry, etc.) behind the
// same interface.
type StaticResolver struct {
	keys map[Did]ed25519.PublicKey
}

// NewStaticResolver builds a StaticResolver with no registered keys.
func NewStaticResolver() *StaticResolver {
	return &StaticResolver{keys: make(map[Did]ed25519.PublicKey)}
}

// Register associates did with pub, overwriting any prior registration.
func (r *StaticResolver) Register(did Did, pub ed25519.PublicKey) {
	r.keys[did] = pub
}

// Resolve implements Resolver.
func (r *StaticResolver) Resolve(did Did) (ed25519.PublicKey, error) {
	pub, ok := r.keys[did]
	if ok {
		return pub, nil
	}
	// did:key encodes its own public key; resolve without a registration.
	if did.Method() == "key" {
		raw, err := base64.RawURLEncoding.DecodeString(did.SpecificID())
		if err != nil || len(raw) != ed25519.PublicKeySize {
			return nil, NewError(KindResourceNotFound, "unresolvable did:key")
		}
		return ed25519.PublicKey(raw), nil
	}
	return nil, NewError(KindResourceNotFound, fmt.Sprintf("no key registered for %s", did))
}

// Verify checks sig against msg using the public key did resolves to.
func Verify(resolver Resolver, did Did, msg, sig []byte) error {
	pub, err := resolver.Resolve(did)
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, msg, sig) {
		return NewError(KindSignatureError, "signature verification failed")
	}
	return nil
}
