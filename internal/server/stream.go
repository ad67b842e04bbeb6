package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/config2flow/app"
	"github.com/BaSui01/config2flow/workflow"
)

// =============================================================================
// 📡 运行事件流（WebSocket）
// =============================================================================
// 协议:
//   client -> {"config": "<yaml>", "inputs": {...}} 或 {"app": "<name>", "inputs": {...}}
//   server -> {"type": "event", "event": {...}} ...
//   server -> {"type": "result", "result": {...}} 或 {"type": "error", "error": {...}}
// 之后服务端以正常状态关闭连接。
// =============================================================================

// StreamMessage 服务端下发的一条消息
type StreamMessage struct {
	Type   string          `json:"type"`
	Event  *workflow.Event `json:"event,omitempty"`
	Result *app.RunResult  `json:"result,omitempty"`
	Error  *ErrorInfo      `json:"error,omitempty"`
}

const (
	streamTypeEvent  = "event"
	streamTypeResult = "result"
	streamTypeError  = "error"

	streamReadTimeout  = 30 * time.Second
	streamWriteTimeout = 5 * time.Second
)

// streamWriter 串行化写入。同一层节点并发运行，事件会并发到达。
type streamWriter struct {
	conn   *websocket.Conn
	logger *zap.Logger
	mu     sync.Mutex
	failed bool
}

func (sw *streamWriter) send(ctx context.Context, msg StreamMessage) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.failed {
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	if err := wsjson.Write(writeCtx, sw.conn, msg); err != nil {
		// 客户端离开后不再尝试写入，运行由 ctx 取消
		sw.failed = true
		sw.logger.Debug("stream write failed", zap.Error(err))
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(s.cfg.MaxUploadBytes)

	var req runRequest
	readCtx, cancel := context.WithTimeout(r.Context(), streamReadTimeout)
	err = wsjson.Read(readCtx, conn, &req)
	cancel()
	if err != nil {
		s.logger.Debug("invalid stream request", zap.Error(err))
		conn.Close(websocket.StatusUnsupportedData, "expected a JSON run request")
		return
	}

	// 之后不再读取；客户端断开时 ctx 被取消，运行随之停止
	ctx := conn.CloseRead(r.Context())
	sw := &streamWriter{conn: conn, logger: s.logger}

	a, err := s.appFor(ctx, &req)
	if err != nil {
		info, _ := errorInfo(err)
		sw.send(ctx, StreamMessage{Type: streamTypeError, Error: &info})
		conn.Close(websocket.StatusNormalClosure, "")
		return
	}

	runCtx := workflow.WithEventEmitter(ctx, func(ev workflow.Event) {
		sw.send(ctx, StreamMessage{Type: streamTypeEvent, Event: &ev})
	})
	res, err := a.Run(runCtx, req.Inputs)
	if err != nil {
		info, _ := errorInfo(err)
		if res != nil {
			info.RunID = res.RunID
		}
		sw.send(ctx, StreamMessage{Type: streamTypeError, Error: &info})
	} else {
		sw.send(ctx, StreamMessage{Type: streamTypeResult, Result: res})
	}
	conn.Close(websocket.StatusNormalClosure, "")
}
