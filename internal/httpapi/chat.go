package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/intellirouter/intellirouter/internal/apierr"
	"github.com/intellirouter/intellirouter/internal/router"
	"github.com/intellirouter/intellirouter/internal/wire"
)

// handleChatCompletions implements POST /v1/chat/completions (spec §6):
// a non-streaming JSON ChatResponse, or an SSE stream of ChatChunk
// frames terminated by `data: [DONE]` when stream=true.
func handleChatCompletions(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req wire.ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, apierr.Validation("", "malformed request body: "+err.Error()))
			return
		}
		if verr := wire.Validate(&req); verr != nil {
			writeError(c, verr)
			return
		}

		if !req.Stream {
			resp, rerr := deps.Router.Route(c.Request.Context(), &req, deps.ProviderFor)
			if rerr != nil {
				writeError(c, rerr)
				return
			}
			c.JSON(http.StatusOK, resp)
			return
		}

		events, rerr := deps.Router.RouteStream(c.Request.Context(), &req, deps.ProviderFor)
		if rerr != nil {
			writeError(c, rerr)
			return
		}
		streamChatEvents(c, events)
	}
}

// streamChatEvents writes the SSE framing the client-side
// providers.Base.DoStream scanner expects symmetrically on the other
// side of a provider call: `data: <json>\n\n` per chunk, `data:
// [DONE]\n\n` on completion. A mid-stream error is surfaced as one error
// frame, still followed by the [DONE] sentinel, rather than a trailing
// HTTP status change, since headers are already committed.
func streamChatEvents(c *gin.Context, events <-chan router.ChunkEvent) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	flusher, canFlush := c.Writer.(http.Flusher)

	for ev := range events {
		if ev.Err != nil {
			writeSSEFrame(c, ev.Err.ToBody())
			break
		}
		if ev.Done {
			break
		}
		writeSSEFrame(c, ev.Chunk)
		if canFlush {
			flusher.Flush()
		}
	}

	fmt.Fprint(c.Writer, "data: [DONE]\n\n")
	if canFlush {
		flusher.Flush()
	}
}

func writeSSEFrame(c *gin.Context, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "data: %s\n\n", data)
}
