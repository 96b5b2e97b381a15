package sync

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	commonlog "knowledge_server/server/common/log"
	"knowledge_server/server/notes/domain"
)

const reconnectDelay = 3 * time.Second

// Streamer keeps a websocket subscription to the owner's change feed and
// folds every event into the store. It reconnects until the context ends;
// after a reconnect the caller should Load a fresh snapshot to cover any
// gap.
type Streamer struct {
	wsURL string
	token string
	store *Store

	// OnReconnect, when set, runs after each successful dial past the
	// first. Used to trigger a snapshot reload.
	OnReconnect func(ctx context.Context)
}

func NewStreamer(baseURL, token string, store *Store) *Streamer {
	ws := strings.Replace(strings.TrimRight(baseURL, "/"), "http", "ws", 1)
	return &Streamer{
		wsURL: ws + "/api/v1/notes/stream?token=" + url.QueryEscape(token),
		token: token,
		store: store,
	}
}

// Run blocks until the context is canceled.
func (s *Streamer) Run(ctx context.Context) error {
	dials := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.wsURL, nil)
		if err != nil {
			commonlog.Warnf("event=sync action=dial status=failed error=%v", err)
			if !sleepCtx(ctx, reconnectDelay) {
				return ctx.Err()
			}
			continue
		}

		dials++
		if dials > 1 && s.OnReconnect != nil {
			s.OnReconnect(ctx)
		}

		s.readLoop(ctx, conn)
		conn.Close()
	}
}

func (s *Streamer) readLoop(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				commonlog.Warnf("event=sync action=read status=failed error=%v", err)
			}
			return
		}
		var event domain.ChangeEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			commonlog.Warnf("event=sync action=decode_event status=failed error=%v", err)
			continue
		}
		s.store.ApplyEvent(event)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
