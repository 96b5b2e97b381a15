package service

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	commonlog "knowledge_server/server/common/log"
	"knowledge_server/server/common/middleware"
)

// StreamService pushes an owner's ChangeEvents to every websocket client
// that owner has open. One redis subscriber runs per owner while at least
// one connection is registered; delivery to clients is at-least-once and
// unordered across producers.
type StreamService struct {
	redis  *redis.Client
	mu     sync.RWMutex
	owners map[string]*ownerStreams
}

type ownerStreams struct {
	conns  map[*websocket.Conn]struct{}
	cancel context.CancelFunc
}

func NewStreamService(redisClient *redis.Client) *StreamService {
	return &StreamService{redis: redisClient, owners: map[string]*ownerStreams{}}
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func (s *StreamService) HandleWS(c *gin.Context) {
	ownerID, ok := middleware.OwnerFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.join(ownerID, conn)
	defer s.leave(ownerID, conn)

	// The read loop only watches for the client going away; the stream
	// is server-to-client.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *StreamService) join(ownerID string, conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.owners[ownerID]
	if !ok {
		subCtx, cancel := context.WithCancel(context.Background())
		state = &ownerStreams{conns: map[*websocket.Conn]struct{}{}, cancel: cancel}
		s.owners[ownerID] = state
		go s.consumeOwnerEvents(subCtx, ownerID)
	}
	state.conns[conn] = struct{}{}
	commonlog.Debugf("event=note_stream action=join owner_id=%s conns=%d", ownerID, len(state.conns))
}

func (s *StreamService) leave(ownerID string, conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.owners[ownerID]; ok {
		delete(state.conns, conn)
		if len(state.conns) == 0 {
			state.cancel()
			delete(s.owners, ownerID)
		}
	}
	_ = conn.Close()
}

func (s *StreamService) consumeOwnerEvents(ctx context.Context, ownerID string) {
	pubsub := s.redis.Subscribe(ctx, OwnerEventsChannel(ownerID))
	defer pubsub.Close()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			return
		}
		s.mu.RLock()
		state := s.owners[ownerID]
		if state == nil {
			s.mu.RUnlock()
			continue
		}
		fanout := 0
		for conn := range state.conns {
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err == nil {
				fanout++
			}
		}
		s.mu.RUnlock()
		commonlog.Debugf("event=note_stream action=fanout owner_id=%s fanout_count=%d", ownerID, fanout)
	}
}
