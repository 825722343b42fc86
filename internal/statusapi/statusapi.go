// Package statusapi exposes a minimal, read-only gin HTTP surface over
// the chain's head and header_head pointers and a handful of pool/sync
// gauges, spec.md §4.7: "debug/introspection endpoints only — no
// wallet, no RPC command surface." Grounded on the teacher's
// internal/api/routes.go (SetupRouter's CORS middleware, route
// grouping, gin.H JSON responses) with every wallet/RPC/investigation
// handler dropped since nothing in SPEC_FULL.md calls for them.
package statusapi

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/mwnode/internal/chain"
	"github.com/rawblock/mwnode/internal/pool"
	"github.com/rawblock/mwnode/internal/sync"
	"github.com/rawblock/mwnode/internal/types"
)

// Handler bundles the read-only accessors the status surface reports
// on. Each dependency is optional; a nil pool/syncer simply omits that
// section of the response, letting the same binary run the surface
// before pool/sync are wired up during startup.
type Handler struct {
	chain *chain.Chain
	pool  *pool.Pool
	sync  *sync.Syncer
}

// SetupRouter builds the gin engine exposing /v1/status, /v1/head, and
// /v1/header_head, mirroring the teacher's CORS-then-route-groups
// SetupRouter shape but with a single public, unauthenticated group
// since nothing here is sensitive beyond local operational metadata.
func SetupRouter(c *chain.Chain, p *pool.Pool, s *sync.Syncer) *gin.Engine {
	r := gin.Default()

	allowedOrigins := os.Getenv("MWNODE_STATUS_ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	h := &Handler{chain: c, pool: p, sync: s}

	v1 := r.Group("/v1")
	{
		v1.GET("/status", h.handleStatus)
		v1.GET("/head", h.handleHead)
		v1.GET("/header_head", h.handleHeaderHead)
	}
	return r
}

// handleStatus reports a single combined snapshot: chain head/header
// head heights and hashes, pool queue sizes, and the current sync
// state, the engine's equivalent of the teacher's handleHealth.
func (h *Handler) handleStatus(c *gin.Context) {
	resp := gin.H{
		"head":        headerJSON(h.chain.Head()),
		"header_head": headerJSON(h.chain.HeaderHead()),
	}
	if h.pool != nil {
		resp["pool"] = gin.H{
			"stempool": h.pool.StempoolSize(),
			"txpool":   h.pool.TxpoolSize(),
		}
	}
	if h.sync != nil {
		resp["sync_state"] = h.sync.State().String()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) handleHead(c *gin.Context) {
	c.JSON(http.StatusOK, headerJSON(h.chain.Head()))
}

func (h *Handler) handleHeaderHead(c *gin.Context) {
	c.JSON(http.StatusOK, headerJSON(h.chain.HeaderHead()))
}

func headerJSON(hdr types.Header) gin.H {
	hash := hdr.Hash()
	return gin.H{
		"height":           hdr.Height,
		"hash":             hexEncode(hash[:]),
		"total_difficulty": hdr.TotalDifficulty,
	}
}

func hexEncode(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = digits[v>>4]
		out[i*2+1] = digits[v&0x0f]
	}
	return string(out)
}
