package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/intellirouter/intellirouter/internal/apierr"
	"github.com/intellirouter/intellirouter/internal/wire"
)

// handleCreateChain implements POST /v1/chains (spec §6).
func handleCreateChain(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var chainDef wire.Chain
		if err := c.ShouldBindJSON(&chainDef); err != nil {
			writeError(c, apierr.Validation("", "malformed chain body: "+err.Error()))
			return
		}
		if verr := deps.ChainStore.Create(&chainDef); verr != nil {
			writeError(c, verr)
			return
		}
		c.JSON(http.StatusCreated, chainDef)
	}
}

// handleListChains implements GET /v1/chains.
func handleListChains(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"chains": deps.ChainStore.List()})
	}
}

// handleGetChain implements GET /v1/chains/{id}.
func handleGetChain(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		chainDef, verr := deps.ChainStore.Get(c.Param("id"))
		if verr != nil {
			writeError(c, verr)
			return
		}
		c.JSON(http.StatusOK, chainDef)
	}
}

// handleDeleteChain implements DELETE /v1/chains/{id}.
func handleDeleteChain(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		deps.ChainStore.Delete(c.Param("id"))
		c.Status(http.StatusNoContent)
	}
}

// handleExecuteChain implements POST /v1/chains/execute: non-streaming
// returns a ChainExecutionResponse, streaming returns an SSE stream of
// ChainEvent frames (spec §6, §4.4).
func handleExecuteChain(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req wire.ChainExecutionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, apierr.Validation("", "malformed execution request: "+err.Error()))
			return
		}

		chainDef := req.Chain
		if chainDef == nil {
			resolved, verr := deps.ChainStore.Get(req.ChainID)
			if verr != nil {
				writeError(c, verr)
				return
			}
			chainDef = resolved
		}
		if verr := wire.ValidateChain(chainDef); verr != nil {
			writeError(c, verr)
			return
		}

		if !req.Stream {
			resp, verr := deps.Chain.Execute(c.Request.Context(), chainDef, req.Inputs)
			if verr != nil {
				writeError(c, verr)
				return
			}
			c.JSON(http.StatusOK, resp)
			return
		}

		events, verr := deps.Chain.ExecuteStream(c.Request.Context(), chainDef, req.Inputs)
		if verr != nil {
			writeError(c, verr)
			return
		}
		streamChainEvents(c, events)
	}
}

func streamChainEvents(c *gin.Context, events <-chan wire.ChainEvent) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	flusher, canFlush := c.Writer.(http.Flusher)

	for ev := range events {
		writeSSEFrame(c, ev)
		if canFlush {
			flusher.Flush()
		}
	}
}
