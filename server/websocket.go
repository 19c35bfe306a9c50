package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/hupe1980/devmesh/core"
	"github.com/hupe1980/devmesh/runner"
)

// WebSocket message types.
const (
	MessageAck      = "ack"
	MessageProgress = "progress"
	MessageResult   = "result"
	MessageError    = "error"

	RequestOrchestrate = "orchestrate"
	RequestExecuteCode = "execute_code"
)

const wsWriteTimeout = 10 * time.Second

// WSRequest is a client message. Type defaults to orchestrate and RequestID
// to "unknown".
type WSRequest struct {
	Type      string         `json:"type"`
	RequestID string         `json:"request_id"`
	Payload   map[string]any `json:"payload"`
}

// WSMessage is a server message. Every request is answered with an ack, zero
// or more progress messages and exactly one result or error.
type WSMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Status    string `json:"status,omitempty"`
	Message   string `json:"message,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// wsConn serializes writes to one connection.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) send(msg WSMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return w.conn.WriteJSON(msg)
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("ws.upgrade.failed", "error", err)
		return
	}
	s.opts.Metrics.WSConnected(1)
	s.logger.Info("ws.connected", "client", c.ClientIP())

	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		_ = conn.Close()
		s.opts.Metrics.WSConnected(-1)
		s.logger.Info("ws.disconnected", "client", c.ClientIP())
	}()

	w := &wsConn{conn: conn}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("ws.read.failed", "error", err)
			}
			return
		}

		var req WSRequest
		if err := json.Unmarshal(data, &req); err != nil {
			if err := w.send(WSMessage{Type: MessageError, Message: "Invalid JSON"}); err != nil {
				return
			}
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveWS(ctx, w, req)
		}()
	}
}

// serveWS answers one request. Send errors end the exchange; the read loop
// notices the broken connection.
func (s *Server) serveWS(ctx context.Context, w *wsConn, req WSRequest) {
	if req.Type == "" {
		req.Type = RequestOrchestrate
	}
	if req.RequestID == "" {
		req.RequestID = "unknown"
	}
	id := req.RequestID

	if err := w.send(WSMessage{Type: MessageAck, RequestID: id, Status: "processing"}); err != nil {
		return
	}

	var agent, startMsg, doneMsg string
	switch req.Type {
	case RequestOrchestrate:
		agent, startMsg, doneMsg = s.opts.Orchestrator, "Routing to Human Interaction Agent...", "Processing complete"
	case RequestExecuteCode:
		agent, startMsg = s.opts.Executor, "Executing code..."
	default:
		_ = w.send(WSMessage{Type: MessageError, RequestID: id, Message: "Unknown request type: " + req.Type})
		return
	}

	_, progress, err := s.opts.Runner.Start(ctx, agent, core.Request(req.Payload))
	if err != nil {
		_ = w.send(WSMessage{Type: MessageError, RequestID: id, Message: err.Error()})
		return
	}

	for p := range progress {
		switch p.Stage {
		case runner.StageStarted:
			if err := w.send(WSMessage{Type: MessageProgress, RequestID: id, Message: startMsg}); err != nil {
				return
			}
		case runner.StageCancelled:
			_ = w.send(WSMessage{Type: MessageError, RequestID: id, Message: "request cancelled"})
		default:
			if doneMsg != "" {
				if err := w.send(WSMessage{Type: MessageProgress, RequestID: id, Message: doneMsg}); err != nil {
					return
				}
			}
			_ = w.send(WSMessage{Type: MessageResult, RequestID: id, Status: core.StatusSuccess, Data: p.Result})
		}
	}
}
