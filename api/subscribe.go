package api

import (
	"context"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"

	"github.com/conductor-dev/conductor/log"
	"github.com/conductor-dev/conductor/notifications"
)

const wsWriteTimeout = 10 * time.Second

// Subscribe handles GET /api/sessions/:id/subscribe and GET
// /api/subscribe. It upgrades to a websocket and streams push events
// for one session, or for all sessions when no id is present.
func (h *Handlers) Subscribe(c *gin.Context) {
	sessionID := c.Param("id")
	if sessionID != "" && !h.orch.Store().Exists(sessionID) {
		RespondNotFound(c, "session not found")
		return
	}

	log.MarkHijacked(c)
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	events, unsubscribe := h.hub.Subscribe(sessionID)
	defer unsubscribe()

	// CloseRead discards inbound frames and cancels the context when
	// the peer goes away
	ctx := conn.CloseRead(c.Request.Context())

	// Initial snapshot so the client does not have to race the first
	// mutation
	if sessionID != "" {
		if sess, ok := h.orch.Store().Get(sessionID); ok {
			snapshot := notifications.Event{
				Type:      notifications.EventSessionState,
				SessionID: sessionID,
				Timestamp: time.Now().UnixMilli(),
				Data:      sess,
			}
			if err := writeEvent(ctx, conn, snapshot); err != nil {
				return
			}
		}
	}

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			pctx, cancel := timeoutCtx(ctx)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev notifications.Event) error {
	wctx, cancel := timeoutCtx(ctx)
	defer cancel()
	return wsjson.Write(wctx, conn, ev)
}

func timeoutCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, wsWriteTimeout)
}
