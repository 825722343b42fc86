package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rawblock/mwnode/internal/chain"
	"github.com/rawblock/mwnode/internal/config"
	"github.com/rawblock/mwnode/internal/crypto"
	"github.com/rawblock/mwnode/internal/metrics"
	"github.com/rawblock/mwnode/internal/pool"
	"github.com/rawblock/mwnode/internal/statusapi"
	"github.com/rawblock/mwnode/internal/store"
	"github.com/rawblock/mwnode/internal/sync"
	"github.com/rawblock/mwnode/internal/types"
	"github.com/rawblock/mwnode/internal/wire"
)

// tickInterval is the sync/pool housekeeping cadence, spec.md §4.6's
// "cooperative single-threaded loop ... polling at ~10ms intervals".
const tickInterval = 10 * time.Millisecond

func main() {
	zapLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("FATAL: failed to build logger: %v", err)
	}
	defer zapLogger.Sync()
	sugar := zapLogger.Sugar()

	sugar.Infof("[Engine] starting mwnode consensus engine")

	params, err := config.Load()
	if err != nil {
		sugar.Fatalf("[Engine] loading config: %v", err)
	}
	sugar.Infof("[Engine] chain=%s coinbase_maturity=%d nrd_enabled=%v", params.Chain, params.CoinbaseMaturity, params.NRDEnabled)

	cap := crypto.NewCapability()

	dataDir := getEnvOrDefault("MWNODE_DATA_DIR", "./data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		sugar.Fatalf("[Engine] creating data dir %s: %v", dataDir, err)
	}
	db, err := store.Open(dataDir + "/mwnode.db")
	if err != nil {
		sugar.Fatalf("[Engine] opening store: %v", err)
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	hub := wire.NewHub()

	genesis := genesisForChain(params.Chain)

	poolAdapter := &broadcastAdapter{hub: hub, log: sugar}

	p := pool.New(params, cap, poolAdapter)

	c, err := chain.New(params, cap, genesis, p, sugar)
	if err != nil {
		sugar.Fatalf("[Engine] initializing chain: %v", err)
	}
	p.AttachChain(c)

	if err := db.PutHeader(genesis.Header); err != nil {
		sugar.Warnf("[Engine] persisting genesis header: %v", err)
	}

	peers := peerSetAdapter{hub: hub}
	syncer := sync.New(params, c, peers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runTickLoop(ctx, syncer, p, m, c)

	router := statusapi.SetupRouter(c, p, syncer)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	port := getEnvOrDefault("MWNODE_STATUS_PORT", "3415")
	sugar.Infof("[Engine] status surface listening on :%s", port)

	srv := &http.Server{Addr: ":" + port, Handler: router}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("[Engine] status server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	sugar.Infof("[Engine] shutdown signal received, draining")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Warnf("[Engine] graceful shutdown error: %v", err)
	}
}

// runTickLoop drives the sync state machine and the pool's Dandelion
// embargo sweep on a fixed interval, the same single-goroutine
// "check state, maybe act" shape as the teacher's poller.Run(ctx),
// generalized from "poll mempool/blocks over RPC" to "tick the
// consensus core's cooperative state machines" (spec.md §4.6/§5).
func runTickLoop(ctx context.Context, syncer *sync.Syncer, p *pool.Pool, m *metrics.Metrics, c *chain.Chain) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			syncer.Tick(now)
			p.CheckEmbargoes(now)
			m.HeadHeight.Set(float64(c.Head().Height))
			m.PoolSize.WithLabelValues("stempool").Set(float64(p.StempoolSize()))
			m.PoolSize.WithLabelValues("txpool").Set(float64(p.TxpoolSize()))
		}
	}
}

// broadcastAdapter relays pool acceptance events onto the peer hub, the
// pool.Adapter capability spec.md §4.5 step 8 names ("notify adapter via
// tx_accepted or stem_tx_accepted").
type broadcastAdapter struct {
	hub *wire.Hub
	log *zap.SugaredLogger
}

func (a *broadcastAdapter) TxAccepted(tx types.Transaction) {
	a.log.Infof("[Pool] fluffing transaction kernels=%d", len(tx.Body.Kernels))
	a.hub.Broadcast(wire.MsgTransaction, wire.TransactionPayload{Tx: tx})
}

func (a *broadcastAdapter) StemTxAccepted(tx types.Transaction) {
	a.log.Infof("[Pool] stemming transaction kernels=%d", len(tx.Body.Kernels))
	a.hub.Broadcast(wire.MsgStemTransaction, wire.TransactionPayload{Tx: tx})
}

// peerSetAdapter satisfies internal/sync.PeerSet over the wire.Hub peer
// registry, the capability-interface seam spec.md §9 "Dynamic dispatch"
// describes for BlockChain/PoolAdapter-shaped small interfaces.
type peerSetAdapter struct {
	hub *wire.Hub
}

func (a peerSetAdapter) Count() int { return a.hub.Count() }

func (a peerSetAdapter) BestPeer() (sync.PeerHeight, bool) {
	peers := a.hub.Peers()
	if len(peers) == 0 {
		return sync.PeerHeight{}, false
	}
	best := peers[0]
	for _, pr := range peers[1:] {
		if pr.TD > best.TD {
			best = pr
		}
	}
	return sync.PeerHeight{Addr: best.Addr, Height: best.Height}, true
}

func (a peerSetAdapter) Ban(addr, reason string) {
	a.hub.Ban(addr, reason)
}

// genesisForChain returns the hardcoded genesis block for a chain type,
// spec.md §6: "Each chain type ... has a hardcoded genesis block
// committed into the binary." The PoW/difficulty genesis parameters a
// real network would ship are outside this spec's opaque Crypto/PoW
// collaborator (spec.md §1), so each chain type gets a distinct,
// deterministic placeholder timestamp/edge-bits pairing rather than a
// shared zero value, so each chain type has a distinct genesis hash.
func genesisForChain(ct config.ChainType) types.Block {
	var ts int64
	var edgeBits uint8
	switch ct {
	case config.Mainnet:
		ts, edgeBits = 1_545_840_000, 29
	case config.Floonet:
		ts, edgeBits = 1_540_944_000, 29
	case config.UserTesting:
		ts, edgeBits = 1_500_000_000, 19
	default: // AutomatedTesting
		ts, edgeBits = 1_000_000, 10
	}
	return types.Block{
		Header: types.Header{
			Version:   1,
			Height:    0,
			PrevHash:  crypto.ZeroHash,
			Timestamp: time.Unix(ts, 0).UTC(),
			POW:       types.ProofOfWork{EdgeBits: edgeBits},
		},
	}
}

// getEnvOrDefault returns the env var value or a safe default for
// non-secret settings, mirroring the teacher's helper of the same name.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

