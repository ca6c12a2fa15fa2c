package p2p

import (
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/rubin-dev/hlcnode/blockstore"
	"github.com/rubin-dev/hlcnode/chain"
	"github.com/rubin-dev/hlcnode/crypto"
)

// MessageHandler is called for each received request-type message.
type MessageHandler func(peer *Peer, msg Message)

// TopicHandler is called for each publish received on a subscribed topic.
type TopicHandler func(peer *Peer, payload json.RawMessage)

// DefaultMaxPeers is the default limit on simultaneous peer connections.
const DefaultMaxPeers = 50

// DefaultRequestTimeout bounds how long a correlated request waits for its
// response before giving up.
const DefaultRequestTimeout = 5 * time.Second

// NetworkMapFunc returns the node's current view of cluster membership.
type NetworkMapFunc func() NetworkMapResponse

// Node listens for incoming peers, manages outgoing connections, and
// answers the spec's RPC set directly from the local chain state.
type Node struct {
	nodeID     string
	priv       crypto.PrivateKey
	listenAddr string
	tlsConfig  *tls.Config // nil -> plain TCP
	maxPeers   int

	store      *blockstore.Store
	networkMap NetworkMapFunc

	mu       sync.RWMutex
	peers    map[string]*Peer
	handlers map[MsgType]MessageHandler
	topics   map[string][]TopicHandler
	pending  map[string]chan Message

	listener net.Listener
	stopCh   chan struct{}
}

// NewNode creates a Node identified by priv's public key that will listen
// on listenAddr. store answers get_latest_block/get_block; networkMap
// answers get_network_map. Either may be nil to decline those RPCs.
func NewNode(priv crypto.PrivateKey, listenAddr string, tlsCfg *tls.Config, store *blockstore.Store, networkMap NetworkMapFunc) *Node {
	n := &Node{
		nodeID:     priv.Public().Hex(),
		priv:       priv,
		listenAddr: listenAddr,
		tlsConfig:  tlsCfg,
		maxPeers:   DefaultMaxPeers,
		store:      store,
		networkMap: networkMap,
		peers:      make(map[string]*Peer),
		handlers:   make(map[MsgType]MessageHandler),
		topics:     make(map[string][]TopicHandler),
		pending:    make(map[string]chan Message),
		stopCh:     make(chan struct{}),
	}
	n.Handle(MsgPing, n.handlePing)
	n.Handle(MsgHello, n.handleHello)
	n.Handle(MsgGetLatest, n.handleGetLatest)
	n.Handle(MsgGetBlock, n.handleGetBlock)
	n.Handle(MsgGetNetworkMap, n.handleGetNetworkMap)
	n.Handle(MsgPublish, n.handlePublish)
	return n
}

// ID returns this node's public key, hex-encoded.
func (n *Node) ID() string { return n.nodeID }

// Addr returns the address the node is actually listening on, useful when
// listenAddr was ":0" and the OS picked a port. Call only after Start.
func (n *Node) Addr() string {
	if n.listener == nil {
		return n.listenAddr
	}
	return n.listener.Addr().String()
}

// Handle registers a handler for a request-type message.
func (n *Node) Handle(typ MsgType, h MessageHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[typ] = h
}

// Subscribe registers h to run whenever a publish on topic arrives.
func (n *Node) Subscribe(topic string, h TopicHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.topics[topic] = append(n.topics[topic], h)
}

// Start begins accepting connections.
func (n *Node) Start() error {
	var ln net.Listener
	var err error
	if n.tlsConfig != nil {
		ln, err = tls.Listen("tcp", n.listenAddr, n.tlsConfig)
	} else {
		ln, err = net.Listen("tcp", n.listenAddr)
	}
	if err != nil {
		return fmt.Errorf("p2p: listen %s: %w", n.listenAddr, err)
	}
	n.listener = ln
	go n.acceptLoop()
	return nil
}

// Stop shuts down the node and closes every connection.
func (n *Node) Stop() {
	close(n.stopCh)
	if n.listener != nil {
		n.listener.Close()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, p := range n.peers {
		p.Close()
	}
}

// AddPeer dials addr, registers the peer, and performs the hello
// challenge-response handshake.
func (n *Node) AddPeer(id, addr string) (*HelloResponse, error) {
	peer, err := Connect(id, addr, n.tlsConfig)
	if err != nil {
		return nil, err
	}
	n.mu.Lock()
	n.peers[id] = peer
	n.mu.Unlock()
	go n.readLoop(peer)

	resp, err := n.doHello(peer)
	if err != nil {
		log.Printf("[p2p] hello to %s: %v", id, err)
	}
	n.Publish(TopicNewPeerConnection, map[string]string{"id": id, "addr": addr})
	return resp, nil
}

// AdoptPeer registers an already-dialed/accepted connection, starting its
// read loop. Used by callers (tests, custom listeners) that establish the
// net.Conn themselves.
func (n *Node) AdoptPeer(p *Peer) {
	n.mu.Lock()
	n.peers[p.ID] = p
	n.mu.Unlock()
	go n.readLoop(p)
}

// Peer returns the connected peer with the given id, or nil if not found.
func (n *Node) Peer(id string) *Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.peers[id]
}

// Peers returns a snapshot of every currently connected peer.
func (n *Node) Peers() []*Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		out = append(out, p)
	}
	return out
}

// Broadcast sends msg to all connected peers, logging per-peer failures.
func (n *Node) Broadcast(msg Message) {
	for _, p := range n.Peers() {
		if err := p.Send(msg); err != nil {
			log.Printf("[p2p] broadcast to %s: %v", p.ID, err)
		}
	}
}

// Publish broadcasts payload on topic to every connected peer.
func (n *Node) Publish(topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[p2p] marshal publish %s: %v", topic, err)
		return
	}
	n.Broadcast(Message{Type: MsgPublish, Topic: topic, Payload: data})
}

// BroadcastTxMessage publishes a newly admitted TxMessage on the work
// topic, for every other node to process speculatively.
func (n *Node) BroadcastTxMessage(tm chain.TxMessage) {
	n.Publish(TopicWork, tm)
}

// BroadcastProcessingResult publishes this node's signed ProcessingResult
// on the contenders topic for validation-queue gossip.
func (n *Node) BroadcastProcessingResult(pr chain.ProcessingResult) {
	n.Publish(TopicContenders, pr)
}

func (n *Node) acceptLoop() {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.stopCh:
				return
			default:
				log.Printf("[p2p] accept error: %v", err)
				time.Sleep(100 * time.Millisecond)
				continue
			}
		}
		n.mu.RLock()
		peerCount := len(n.peers)
		n.mu.RUnlock()
		if peerCount >= n.maxPeers {
			log.Printf("[p2p] max peers (%d) reached, rejecting %s", n.maxPeers, conn.RemoteAddr())
			conn.Close()
			continue
		}
		peer := NewPeer(conn.RemoteAddr().String(), conn.RemoteAddr().String(), conn)
		n.mu.Lock()
		n.peers[peer.ID] = peer
		n.mu.Unlock()
		go n.readLoop(peer)
	}
}

func (n *Node) readLoop(peer *Peer) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[p2p] readLoop panic from %s: %v", peer.ID, r)
		}
		peer.Close()
		n.mu.Lock()
		delete(n.peers, peer.ID)
		n.mu.Unlock()
	}()
	for {
		msg, err := peer.Receive()
		if err != nil {
			return
		}
		if msg.ID != "" {
			n.mu.RLock()
			ch, ok := n.pending[msg.ID]
			n.mu.RUnlock()
			if ok {
				ch <- msg
				continue
			}
		}
		n.mu.RLock()
		h, ok := n.handlers[msg.Type]
		n.mu.RUnlock()
		if ok {
			h(peer, msg)
		}
	}
}

func (n *Node) handlePublish(peer *Peer, msg Message) {
	n.mu.RLock()
	hs := append([]TopicHandler(nil), n.topics[msg.Topic]...)
	n.mu.RUnlock()
	for _, h := range hs {
		h(peer, msg.Payload)
	}
}

func (n *Node) handlePing(peer *Peer, msg Message) {
	_ = peer.Send(Message{Type: MsgPong, ID: msg.ID})
}

// request sends a message of typ to peer and waits for a correlated
// response, up to timeout.
func (n *Node) request(peer *Peer, typ MsgType, payload any, timeout time.Duration) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	id, err := randomID()
	if err != nil {
		return Message{}, err
	}
	ch := make(chan Message, 1)
	n.mu.Lock()
	n.pending[id] = ch
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		delete(n.pending, id)
		n.mu.Unlock()
	}()

	if err := peer.Send(Message{Type: typ, ID: id, Payload: data}); err != nil {
		return Message{}, err
	}
	select {
	case resp := <-ch:
		return resp, nil
	case <-time.After(timeout):
		return Message{}, fmt.Errorf("p2p: request %s to %s timed out", typ, peer.ID)
	}
}

func randomID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
