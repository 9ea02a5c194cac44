package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/MiracleAig/IoT-WebUI/internal/events"
	"github.com/MiracleAig/IoT-WebUI/internal/logger"
	"github.com/MiracleAig/IoT-WebUI/internal/models"
)

const wsWriteWait = 10 * time.Second

// nextEvent waits for the next event. With a keepalive interval set it gives
// up after that long and reports idle=true so the caller can ping the peer.
func (s *Server) nextEvent(ctx context.Context, sub *events.Subscription) (ev models.ScanEvent, idle bool, err error) {
	if s.keepalive <= 0 {
		ev, err = sub.Next(ctx)
		return ev, false, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.keepalive)
	defer cancel()
	ev, err = sub.Next(waitCtx)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return ev, true, nil
	}
	return ev, false, err
}

// handleStream serves scan events as server-sent events until the client
// goes away or the broadcaster shuts down.
func (s *Server) handleStream(c *gin.Context) {
	log := logger.FromGin(c)
	sub := s.broadcaster.Subscribe()
	defer sub.Close()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	log.Info("Stream client connected", zap.String("subscriber_id", sub.ID()))
	ctx := c.Request.Context()

	for {
		ev, idle, err := s.nextEvent(ctx, sub)
		if err != nil {
			log.Info("Stream client disconnected",
				zap.String("subscriber_id", sub.ID()),
				zap.String("reason", err.Error()))
			return
		}

		if idle {
			_, err = fmt.Fprint(c.Writer, ": keepalive\n\n")
		} else {
			err = writeSSE(c, ev)
		}
		if err != nil {
			log.Debug("Stream write failed", zap.Error(err))
			return
		}
		c.Writer.Flush()
	}
}

func writeSSE(c *gin.Context, ev models.ScanEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.Writer, "data: %s\n\n", data)
	return err
}

type wsMessage struct {
	Type string           `json:"type"`
	Data models.ScanEvent `json:"data"`
}

// handleWebSocket pushes {"type":"scan","data":{...}} for every scan event.
// Messages from the client are read and discarded; a read error ends the feed.
func (s *Server) handleWebSocket(c *gin.Context) {
	log := logger.FromGin(c)
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sub := s.broadcaster.Subscribe()
	defer sub.Close()
	log.Info("WebSocket client connected", zap.String("subscriber_id", sub.ID()))

	go func() {
		defer sub.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx := context.Background()
	for {
		ev, idle, err := s.nextEvent(ctx, sub)
		if err != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(wsWriteWait))
			log.Info("WebSocket client disconnected", zap.String("subscriber_id", sub.ID()))
			return
		}

		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if idle {
			err = conn.WriteMessage(websocket.PingMessage, nil)
		} else {
			err = conn.WriteJSON(wsMessage{Type: "scan", Data: ev})
		}
		if err != nil {
			log.Debug("WebSocket write failed", zap.Error(err))
			return
		}
	}
}
