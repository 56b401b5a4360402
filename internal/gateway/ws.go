// ABOUTME: Websocket transport for the workflow protocol using coder/websocket
// ABOUTME: One reader feeding protocol.Handle and one writer draining the session queue

package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/2389/stampdesk/internal/auth"
	"github.com/2389/stampdesk/internal/protocol"
)

const (
	// wsReadLimit fits base64 uploads of large drawing sets.
	wsReadLimit  = 64 << 20
	writeTimeout = 5 * time.Second
)

func (g *Gateway) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(g.config.Server.AllowedOrigins) > 0 {
		opts.OriginPatterns = g.config.Server.AllowedOrigins
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		g.logger.Debug("websocket accept failed", "error", err)
		return
	}
	conn.SetReadLimit(wsReadLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := g.protocol.Connect(ctx)
	defer g.protocol.Disconnect(sess)
	g.logger.Debug("dashboard connected", "session", sess.ID, "operator", auth.OperatorFromContext(r.Context()), "remote", r.RemoteAddr)

	readErr := make(chan error, 1)
	go func() {
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				readErr <- err
				return
			}
			if typ != websocket.MessageText {
				continue
			}
			g.protocol.Handle(ctx, sess, data)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case <-readErr:
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case msg := <-sess.Outbound():
			if err := g.write(ctx, conn, msg); err != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
				return
			}
		case <-sess.Done():
			// Frames queued before the session ended still go out.
			g.flush(ctx, conn, sess)
			if errors.Is(sess.Err(), protocol.ErrSlowConsumer) {
				_ = conn.Close(websocket.StatusPolicyViolation, "slow consumer, reconnect")
				return
			}
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		}
	}
}

func (g *Gateway) write(ctx context.Context, conn *websocket.Conn, msg any) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, msg)
}

func (g *Gateway) flush(ctx context.Context, conn *websocket.Conn, sess *protocol.Session) {
	for {
		select {
		case msg := <-sess.Outbound():
			if err := g.write(ctx, conn, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}
