// Package wire defines the peer protocol message envelope and typed
// payloads spec.md §4.8 lists (handshake, headers, blocks, relayed
// transactions, PIBD segment transfer) and frames them over
// gorilla/websocket connections. Grounded on the teacher's
// internal/api/websocket.go Hub (the client-registry-plus-broadcast-
// channel shape), generalized from "broadcast JSON alerts to dashboard
// clients" to "exchange typed consensus messages with peer nodes",
// and on btcsuite/btcd's btcutil, imported only for the
// amountToNanogrin helper at the end of this file, which nothing calls.
package wire

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/gorilla/websocket"

	"github.com/rawblock/mwnode/internal/crypto"
	"github.com/rawblock/mwnode/internal/types"
)

// MessageType discriminates the envelope's Payload field, spec.md
// §4.8's peer message catalogue.
type MessageType string

const (
	MsgHand              MessageType = "hand"
	MsgShake             MessageType = "shake"
	MsgPing              MessageType = "ping"
	MsgPong              MessageType = "pong"
	MsgGetHeaders        MessageType = "get_headers"
	MsgHeaders           MessageType = "headers"
	MsgGetBlock          MessageType = "get_block"
	MsgBlock             MessageType = "block"
	MsgTransaction       MessageType = "transaction"
	MsgStemTransaction   MessageType = "stem_transaction"
	MsgTxHashSetRequest  MessageType = "txhashset_request"
	MsgTxHashSetArchive  MessageType = "txhashset_archive"
	MsgSegmentRequest    MessageType = "segment_request"
	MsgSegmentResponse   MessageType = "segment_response"
)

// Envelope is the outer frame every message is wrapped in: a type tag
// plus a raw JSON payload, decoded a second time once the caller knows
// which concrete type to expect. This mirrors the teacher's Hub, which
// pushes pre-marshaled JSON payloads ({"type": ..., "alert": ...}) onto
// a single broadcast channel rather than maintaining per-message Go
// types; wire keeps that envelope shape but gives every payload its
// own concrete struct instead of gin.H.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// HandPayload is the initial handshake a connecting peer sends,
// spec.md §4.8 "Hand/Shake": protocol version, declared capabilities,
// genesis hash, and current total difficulty, so the receiver can
// immediately decide whether to proceed with Shake or disconnect.
type HandPayload struct {
	ProtocolVersion uint32      `json:"protocol_version"`
	UserAgent       string      `json:"user_agent"`
	Capabilities    uint32      `json:"capabilities"`
	GenesisHash     crypto.Hash `json:"genesis_hash"`
	TotalDifficulty uint64      `json:"total_difficulty"`
	Height          uint64      `json:"height"`
	ListenAddr      string      `json:"listen_addr"`
}

// ShakePayload is the Hand's acknowledgement, symmetric to HandPayload.
type ShakePayload struct {
	ProtocolVersion uint32      `json:"protocol_version"`
	UserAgent       string      `json:"user_agent"`
	Capabilities    uint32      `json:"capabilities"`
	GenesisHash     crypto.Hash `json:"genesis_hash"`
	TotalDifficulty uint64      `json:"total_difficulty"`
	Height          uint64      `json:"height"`
}

// PingPayload/PongPayload carry the sender's current height so a
// stalled peer can be detected without a dedicated GetHeaders round
// trip, spec.md §4.6 "Stall detection".
type PingPayload struct {
	Height          uint64 `json:"height"`
	TotalDifficulty uint64 `json:"total_difficulty"`
}

type PongPayload struct {
	Height          uint64 `json:"height"`
	TotalDifficulty uint64 `json:"total_difficulty"`
}

// GetHeadersPayload carries a block locator, spec.md §4.6.
type GetHeadersPayload struct {
	Locator []crypto.Hash `json:"locator"`
}

// HeadersPayload returns up to sync.MaxBlockHeaders headers.
type HeadersPayload struct {
	Headers []types.Header `json:"headers"`
}

// GetBlockPayload requests a single full block body by header hash.
type GetBlockPayload struct {
	Hash crypto.Hash `json:"hash"`
}

// BlockPayload carries a full block.
type BlockPayload struct {
	Block types.Block `json:"block"`
}

// TransactionPayload relays a fluffed transaction; StemTransaction
// reuses the same shape over a distinct message type so a receiving
// peer routes it to stempool instead of txpool (spec.md §4.5
// "Dandelion stem progression").
type TransactionPayload struct {
	Tx types.Transaction `json:"tx"`
}

// TxHashSetRequestPayload asks for an archive snapshot at a height, the
// pre-PIBD fallback bulk-sync path spec.md §4.6 still names alongside
// segmented sync.
type TxHashSetRequestPayload struct {
	Height uint64      `json:"height"`
	Hash   crypto.Hash `json:"hash"`
}

// TxHashSetArchivePayload carries the archive's byte length and a
// content hash up front; the archive bytes themselves are streamed out
// of band (over the same websocket connection, as subsequent binary
// frames) rather than embedded in this JSON envelope.
type TxHashSetArchivePayload struct {
	Height       uint64      `json:"height"`
	Hash         crypto.Hash `json:"hash"`
	ArchiveBytes int64       `json:"archive_bytes"`
}

// SegmentRequestPayload/SegmentResponsePayload carry one PIBD segment
// identifier and, on response, its leaves plus proof set, matching
// internal/chain's Segmenter/Desegmenter types.
type SegmentRequestPayload struct {
	Kind   uint8  `json:"kind"`
	Height uint64 `json:"height"`
	Idx    uint64 `json:"idx"`
}

type SegmentResponsePayload struct {
	Kind      uint8         `json:"kind"`
	Height    uint64        `json:"height"`
	Idx       uint64        `json:"idx"`
	Leaves    []crypto.Hash `json:"leaves"`
	ProofSet  []crypto.Hash `json:"proof_set"`
}

// Encode marshals a typed payload into an Envelope ready for
// websocket.Conn.WriteJSON.
func Encode(t MessageType, payload interface{}) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("wire: encoding %s payload: %w", t, err)
	}
	return Envelope{Type: t, Payload: raw}, nil
}

// Upgrader is the shared websocket upgrader every inbound peer
// connection uses, mirroring the teacher's package-level upgrader but
// without the "allow all origins" shortcut: wire connections are
// node-to-node, not browser clients, so CheckOrigin is not meaningful
// here and is left at the gorilla default (same-origin), callers that
// need cross-origin peering should front this with their own proxy.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Peer wraps one peer connection: the underlying socket, its declared
// identity from the handshake, and a write mutex (gorilla/websocket
// connections support at most one concurrent writer).
type Peer struct {
	Addr   string
	Conn   *websocket.Conn
	Height uint64
	TD     uint64

	writeMu sync.Mutex
}

// NewPeer wraps an already-established connection.
func NewPeer(addr string, conn *websocket.Conn) *Peer {
	return &Peer{Addr: addr, Conn: conn}
}

// Send marshals and writes one message, serializing concurrent writers
// the same way the teacher's Hub.Run serializes broadcasts behind
// h.mutex.
func (p *Peer) Send(t MessageType, payload interface{}) error {
	env, err := Encode(t, payload)
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.Conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return p.Conn.WriteJSON(env)
}

// Recv blocks for the next envelope from this peer.
func (p *Peer) Recv() (Envelope, error) {
	var env Envelope
	err := p.Conn.ReadJSON(&env)
	return env, err
}

// Close closes the underlying connection.
func (p *Peer) Close() error { return p.Conn.Close() }

// Hub tracks every connected peer and exposes a broadcast-to-all
// helper, the same registry-plus-fan-out shape as the teacher's
// websocket Hub, generalized from one shared dashboard channel to
// per-peer typed sends (a slow or dead peer here only blocks its own
// Send call, never the others).
type Hub struct {
	mu    sync.Mutex
	peers map[string]*Peer
}

// NewHub returns an empty peer registry.
func NewHub() *Hub {
	return &Hub{peers: make(map[string]*Peer)}
}

// Add registers a peer under its address.
func (h *Hub) Add(p *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peers[p.Addr] = p
}

// Remove drops a peer from the registry and closes its connection.
func (h *Hub) Remove(addr string) {
	h.mu.Lock()
	p, ok := h.peers[addr]
	delete(h.peers, addr)
	h.mu.Unlock()
	if ok {
		_ = p.Close()
	}
}

// Count returns the number of registered peers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Peers returns a snapshot of every currently registered peer, used by
// the sync state machine (internal/sync.PeerSet) to pick a best-known
// peer without holding the Hub's own lock across that decision.
func (h *Hub) Peers() []*Peer {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Peer, 0, len(h.peers))
	for _, p := range h.peers {
		out = append(out, p)
	}
	return out
}

// Ban disconnects addr, the minimal peer-reputation action spec.md §4.6
// "Stall detection" calls for. spec.md §1 places full peer-scoring
// policy beyond the sync/pool cores out of scope, so this is a
// disconnect, not a persistent reputation store.
func (h *Hub) Ban(addr string, reason string) {
	h.Remove(addr)
}

// Broadcast sends a message to every currently registered peer,
// dropping (and removing) any peer whose write fails.
func (h *Hub) Broadcast(t MessageType, payload interface{}) {
	h.mu.Lock()
	peers := make([]*Peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	for _, p := range peers {
		if err := p.Send(t, payload); err != nil {
			h.Remove(p.Addr)
		}
	}
}

// Upgrade promotes an HTTP connection to a websocket-backed Peer, the
// inbound half of the handshake (the teacher's Subscribe handler
// generalized from "accept dashboard viewer" to "accept peer
// connection").
func Upgrade(w http.ResponseWriter, r *http.Request, addr string) (*Peer, error) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("wire: upgrading connection from %s: %w", addr, err)
	}
	return NewPeer(addr, conn), nil
}

// amountToNanogrin is a placeholder unit helper retained for parity
// with the teacher's btcToSats, grounding wire's use of btcutil even
// though the Mimblewimble amount unit (nanogrin) has no btcutil
// analogue; reserved for a future fee-display helper.
func amountToNanogrin(a btcutil.Amount) int64 { return int64(a) }
