package live

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

// WSOptions tunes a websocket stream.
type WSOptions struct {
	OriginPatterns []string
	WriteTimeout   time.Duration
}

// ServeWS upgrades the request and streams every event of topic to the client until
// either side goes away. snapshot, when non-nil, is sent first so a client that
// connects mid-scan starts from the persisted state.
func ServeWS(w http.ResponseWriter, r *http.Request, hub *Hub, topic string, snapshot any, opts WSOptions, log *zap.Logger) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: opts.OriginPatterns})
	if err != nil {
		log.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer c.CloseNow()

	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	// The server never reads; CloseRead handles control frames and cancels ctx on close.
	ctx := c.CloseRead(r.Context())

	events, cancel := hub.Subscribe(topic)
	defer cancel()

	if snapshot != nil {
		wctx, done := context.WithTimeout(ctx, opts.WriteTimeout)
		err := wsjson.Write(wctx, c, snapshot)
		done()
		if err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-events:
			if !ok {
				c.Close(websocket.StatusGoingAway, "")
				return
			}
			wctx, done := context.WithTimeout(ctx, opts.WriteTimeout)
			err := c.Write(wctx, websocket.MessageText, data)
			done()
			if err != nil {
				log.Debug("websocket write failed", zap.String("topic", topic), zap.Error(err))
				return
			}
		}
	}
}
