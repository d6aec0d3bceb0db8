package web

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"cmdbridge/internal/core"
	"cmdbridge/internal/transports/common"
)

const ipcWriteTimeout = 10 * time.Second

// ipcRequest — кадр вызова: {"id", "cmd", "args"}.
type ipcRequest struct {
	ID   json.RawMessage `json:"id,omitempty"`
	Cmd  string          `json:"cmd"`
	Args json.RawMessage `json:"args,omitempty"`
}

// ipcResponse — кадр ответа; id повторяет id запроса.
type ipcResponse struct {
	ID json.RawMessage `json:"id,omitempty"`
	core.Response
}

// handleIPC обслуживает WebSocket-канал вызовов. Кадры одного соединения
// исполняются по очереди, ответ на кадр уходит до чтения следующего.
func (a *Adapter) handleIPC(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("ipc upgrade failed", "request_id", common.RequestIDFromContext(r.Context()), "err", err)
		return
	}
	a.track(conn)
	defer a.untrack(conn)

	ctx := r.Context()
	subjectID := subjectIDFromContext(ctx)

	conn.SetReadLimit(a.cfg.MaxRequestBody)
	a.logger.Info("ipc connected", "subject", subjectID, "remote", r.RemoteAddr)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, net.ErrClosed) {
				a.logger.Debug("ipc read finished", "subject", subjectID, "err", err)
			}
			return
		}
		out := a.serveFrame(ctx, subjectID, data)
		_ = conn.SetWriteDeadline(time.Now().Add(ipcWriteTimeout))
		if err := conn.WriteJSON(out); err != nil {
			a.logger.Debug("ipc write failed", "subject", subjectID, "err", err)
			return
		}
	}
}

func (a *Adapter) serveFrame(ctx context.Context, subjectID string, data []byte) ipcResponse {
	var req ipcRequest
	if err := json.Unmarshal(data, &req); err != nil || req.Cmd == "" {
		return ipcResponse{ID: req.ID, Response: core.Fail(common.CodeBadCommand, "frame must be {\"id\",\"cmd\",\"args\"}")}
	}
	callCtx := common.WithRequestID(ctx, common.NewRequestID())
	resp, _ := a.ipc.Execute(callCtx, subjectID, req.Cmd, req.Args)
	return ipcResponse{ID: req.ID, Response: resp}
}

func (a *Adapter) track(conn *websocket.Conn) {
	a.mu.Lock()
	a.conns[conn] = struct{}{}
	a.mu.Unlock()
}

func (a *Adapter) untrack(conn *websocket.Conn) {
	a.mu.Lock()
	delete(a.conns, conn)
	a.mu.Unlock()
	_ = conn.Close()
}
