package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	mdns "github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"
)

// MeshNetworkService is the capability set the core consumes from the
// transport layer, per spec.md §4.3. Any implementation satisfying this
// interface is acceptable; the core specifies only the contract (spec.md
// §1: "Concrete network transport ... the core specifies only the abstract
// mesh-network contract").
type MeshNetworkService interface {
	DiscoverPeers(ctx context.Context, topic string) ([]PeerID, error)
	SendMessage(ctx context.Context, peer PeerID, msg ProtocolMessage) error
	BroadcastMessage(ctx context.Context, msg ProtocolMessage) error
	Subscribe(ctx context.Context) (<-chan ProtocolMessage, error)
	StoreRecord(ctx context.Context, key string, value []byte) error
	GetRecord(ctx context.Context, key string) ([]byte, error)
	GetNetworkStats(ctx context.Context) (NetworkStats, error)
}

// dedupWindow is the per-(sender,topic) nonce tracker shared by both mesh
// network implementations, enforcing spec.md §4.3's "rejects ... duplicate-
// id messages (Common(DuplicateMessage))".
type dedupWindow struct {
	mu   sync.Mutex
	seen map[string]map[uint64]bool
}

func newDedupWindow() *dedupWindow {
	return &dedupWindow{seen: make(map[string]map[uint64]bool)}
}

func (d *dedupWindow) check(senderDid Did, topic string, nonce uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := fmt.Sprintf("%s|%s", senderDid, topic)
	nonces, ok := d.seen[key]
	if !ok {
		nonces = make(map[uint64]bool)
		d.seen[key] = nonces
	}
	if nonces[nonce] {
		return NewError(KindDuplicateMessage, "duplicate nonce")
	}
	nonces[nonce] = true
	return nil
}

// InMemoryMeshNetwork is an in-process MeshNetworkService used by tests and
// single-node deployments, generalized from core/messages.go's
// MessageQueue. cmd/icn-node/main.go falls back to it when the libp2p host
// cannot be created; nothing rejects it in a production build.
type InMemoryMeshNetwork struct {
	mu        sync.Mutex
	resolver  Resolver
	peers     map[PeerID]chan ProtocolMessage
	records   map[string][]byte
	subs      []chan ProtocolMessage
	dedup     *dedupWindow
	stats     NetworkStats
}

// NewInMemoryMeshNetwork builds an InMemoryMeshNetwork that verifies
// incoming signed messages against resolver.
func NewInMemoryMeshNetwork(resolver Resolver) *InMemoryMeshNetwork {
	return &InMemoryMeshNetwork{
		resolver: resolver,
		peers:    make(map[PeerID]chan ProtocolMessage),
		records:  make(map[string][]byte),
		dedup:    newDedupWindow(),
	}
}

// RegisterPeer gives peer a delivery channel so SendMessage can reach it.
func (n *InMemoryMeshNetwork) RegisterPeer(id PeerID) <-chan ProtocolMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch := make(chan ProtocolMessage, 64)
	n.peers[id] = ch
	return ch
}

func (n *InMemoryMeshNetwork) DiscoverPeers(_ context.Context, _ string) ([]PeerID, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]PeerID, 0, len(n.peers))
	for id := range n.peers {
		out = append(out, id)
	}
	return out, nil
}

func (n *InMemoryMeshNetwork) validate(msg ProtocolMessage) error {
	if msg.Payload.Kind != PayloadGossip {
		if err := msg.VerifySignature(n.resolver); err != nil {
			return err
		}
	}
	return n.dedup.check(msg.SenderDid, msg.Payload.Topic, msg.Nonce)
}

func (n *InMemoryMeshNetwork) SendMessage(_ context.Context, peer PeerID, msg ProtocolMessage) error {
	if err := n.validate(msg); err != nil {
		return err
	}
	n.mu.Lock()
	ch, ok := n.peers[peer]
	n.stats.MessagesSent++
	n.stats.BytesSent += uint64(len(msg.Payload.Bytes))
	n.mu.Unlock()
	if !ok {
		return NewError(KindNetworkError, "unknown peer")
	}
	select {
	case ch <- msg:
		return nil
	default:
		return NewError(KindNetworkError, "peer channel full")
	}
}

func (n *InMemoryMeshNetwork) BroadcastMessage(_ context.Context, msg ProtocolMessage) error {
	if err := n.validate(msg); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stats.MessagesSent++
	n.stats.BytesSent += uint64(len(msg.Payload.Bytes))
	for _, ch := range n.peers {
		select {
		case ch <- msg:
		default:
		}
	}
	for _, ch := range n.subs {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

func (n *InMemoryMeshNetwork) Subscribe(_ context.Context) (<-chan ProtocolMessage, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch := make(chan ProtocolMessage, 256)
	n.subs = append(n.subs, ch)
	return ch, nil
}

func (n *InMemoryMeshNetwork) StoreRecord(_ context.Context, key string, value []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.records[key] = value
	return nil
}

func (n *InMemoryMeshNetwork) GetRecord(_ context.Context, key string) ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	v, ok := n.records[key]
	if !ok {
		return nil, nil
	}
	return v, nil
}

func (n *InMemoryMeshNetwork) GetNetworkStats(_ context.Context) (NetworkStats, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	stats := n.stats
	stats.PeerCount = len(n.peers)
	return stats, nil
}

// Libp2pMeshNetwork is the production MeshNetworkService, grounded on
// core/network.go's NewNode: a libp2p host with gossipsub and mdns local
// discovery. gossipTopic is the single pubsub topic this node's mesh
// traffic rides on; federations that need isolation use distinct topic
// names.
type Libp2pMeshNetwork struct {
	host     host.Host
	pubsub   *pubsub.PubSub
	topic    *pubsub.Topic
	sub      *pubsub.Subscription
	resolver Resolver
	dedup    *dedupWindow
	mu       sync.Mutex
	stats    NetworkStats
	records  map[string][]byte
	log      *logrus.Entry
}

// NewLibp2pMeshNetwork constructs a libp2p host listening on listenAddr,
// joins gossipTopic, and starts mdns peer discovery, following
// core/network.go's NewNode.
func NewLibp2pMeshNetwork(ctx context.Context, listenAddr, gossipTopic string, resolver Resolver) (*Libp2pMeshNetwork, error) {
	h, err := libp2p.New(libp2p.ListenAddrStrings(listenAddr))
	if err != nil {
		return nil, WrapError(KindNetworkError, "create libp2p host", err)
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, WrapError(KindNetworkError, "create gossipsub", err)
	}
	topic, err := ps.Join(gossipTopic)
	if err != nil {
		return nil, WrapError(KindNetworkError, "join gossip topic", err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		return nil, WrapError(KindNetworkError, "subscribe gossip topic", err)
	}

	n := &Libp2pMeshNetwork{
		host:     h,
		pubsub:   ps,
		topic:    topic,
		sub:      sub,
		resolver: resolver,
		dedup:    newDedupWindow(),
		records:  make(map[string][]byte),
		log:      logrus.WithField("component", "mesh_network"),
	}

	mdnsSvc := mdns.NewMdnsService(h, gossipTopic, n)
	if err := mdnsSvc.Start(); err != nil {
		n.log.WithError(err).Warn("mdns discovery failed to start")
	}
	return n, nil
}

// HandlePeerFound implements mdns.Notifee, mirroring core/network.go's
// HandlePeerFound: dial peers discovered on the local network.
func (n *Libp2pMeshNetwork) HandlePeerFound(pi peer.AddrInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultDialTimeout)
	defer cancel()
	if err := n.host.Connect(ctx, pi); err != nil {
		n.log.WithError(err).WithField("peer", pi.ID.String()).Debug("mdns dial failed")
	}
}

func (n *Libp2pMeshNetwork) DiscoverPeers(_ context.Context, _ string) ([]PeerID, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	peers := n.host.Network().Peers()
	out := make([]PeerID, 0, len(peers))
	for _, p := range peers {
		out = append(out, PeerID(p.String()))
	}
	return out, nil
}

func (n *Libp2pMeshNetwork) SendMessage(ctx context.Context, peerID PeerID, msg ProtocolMessage) error {
	if err := n.validate(msg); err != nil {
		return err
	}
	pid, err := peer.Decode(string(peerID))
	if err != nil {
		return WrapError(KindInvalidInput, "decode peer id", err)
	}
	s, err := n.host.NewStream(ctx, pid, meshProtocolID)
	if err != nil {
		return WrapError(KindNetworkError, "open stream", err)
	}
	defer s.Close()
	encoded := encodeProtocolMessage(msg)
	if _, err := s.Write(encoded); err != nil {
		return WrapError(KindNetworkError, "write stream", err)
	}
	n.mu.Lock()
	n.stats.MessagesSent++
	n.stats.BytesSent += uint64(len(encoded))
	n.mu.Unlock()
	return nil
}

func (n *Libp2pMeshNetwork) BroadcastMessage(ctx context.Context, msg ProtocolMessage) error {
	if err := n.validate(msg); err != nil {
		return err
	}
	encoded := encodeProtocolMessage(msg)
	if err := Retry(ctx, DefaultBackoffPolicy, func() error {
		return n.topic.Publish(ctx, encoded)
	}); err != nil {
		return WrapError(KindNetworkError, "publish gossip", err)
	}
	n.mu.Lock()
	n.stats.MessagesSent++
	n.stats.BytesSent += uint64(len(encoded))
	n.mu.Unlock()
	return nil
}

func (n *Libp2pMeshNetwork) validate(msg ProtocolMessage) error {
	if msg.Payload.Kind != PayloadGossip {
		if err := msg.VerifySignature(n.resolver); err != nil {
			return err
		}
	}
	return n.dedup.check(msg.SenderDid, msg.Payload.Topic, msg.Nonce)
}

func (n *Libp2pMeshNetwork) Subscribe(ctx context.Context) (<-chan ProtocolMessage, error) {
	out := make(chan ProtocolMessage, 256)
	go func() {
		defer close(out)
		for {
			m, err := n.sub.Next(ctx)
			if err != nil {
				return
			}
			msg, err := decodeProtocolMessage(m.Data)
			if err != nil {
				n.log.WithError(err).Debug("dropping undecodable gossip message")
				continue
			}
			n.mu.Lock()
			n.stats.MessagesRecv++
			n.stats.BytesReceived += uint64(len(m.Data))
			n.mu.Unlock()
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (n *Libp2pMeshNetwork) StoreRecord(_ context.Context, key string, value []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.records[key] = value
	return nil
}

func (n *Libp2pMeshNetwork) GetRecord(_ context.Context, key string) ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	v, ok := n.records[key]
	if !ok {
		return nil, nil
	}
	return v, nil
}

func (n *Libp2pMeshNetwork) GetNetworkStats(_ context.Context) (NetworkStats, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	stats := n.stats
	stats.PeerCount = len(n.host.Network().Peers())
	return stats, nil
}

// Close shuts down the libp2p host.
func (n *Libp2pMeshNetwork) Close() error {
	return n.host.Close()
}

const defaultDialTimeout = 10 * time.Second

const meshProtocolID = protocol.ID("/icn/mesh/1.0.0")
