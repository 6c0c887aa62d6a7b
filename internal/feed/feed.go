// Package feed fans the engine's log stream out to websocket subscribers.
package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"sleipnir/internal/matching"
)

const (
	writeTimeout = 5 * time.Second
	// sendChanSize bounds how far a slow client may fall behind before it
	// is dropped.
	sendChanSize = 256
)

type subscriber struct {
	conn      *websocket.Conn
	productID string
	send      chan []byte
}

// Server upgrades HTTP connections and forwards every log record for the
// subscribed product, in sequence order, as its JSON wire form.
type Server struct {
	addr     string
	upgrader websocket.Upgrader

	mu          sync.Mutex
	subscribers map[*subscriber]struct{}

	httpServer *http.Server
}

func NewServer(addr string) *Server {
	return &Server{
		addr: addr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		subscribers: make(map[*subscriber]struct{}),
	}
}

// HandleLogs implements engine.LogHandler. It never blocks the caller: a
// subscriber whose buffer is full is disconnected rather than applying
// backpressure to the matching path.
func (s *Server) HandleLogs(productID string, logs []matching.Log) {
	payloads := make([][]byte, 0, len(logs))
	for _, l := range logs {
		raw, err := json.Marshal(l)
		if err != nil {
			log.Error().Err(err).Uint64("sequence", l.GetSeq()).Msg("unable to marshal log")
			continue
		}
		payloads = append(payloads, raw)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subscribers {
		if sub.productID != productID {
			continue
		}
		for _, payload := range payloads {
			select {
			case sub.send <- payload:
				continue
			default:
			}
			log.Warn().
				Str("address", sub.conn.RemoteAddr().String()).
				Msg("dropping slow feed subscriber")
			close(sub.send)
			delete(s.subscribers, sub)
			break
		}
	}
}

func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleSubscribe)
	s.httpServer = &http.Server{Addr: s.addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().Str("address", s.addr).Msg("feed server running")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	productID := r.URL.Query().Get("product_id")
	if productID == "" {
		http.Error(w, "product_id is required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	sub := &subscriber{
		conn:      conn,
		productID: productID,
		send:      make(chan []byte, sendChanSize),
	}
	s.mu.Lock()
	s.subscribers[sub] = struct{}{}
	s.mu.Unlock()

	log.Info().
		Str("address", conn.RemoteAddr().String()).
		Str("product", productID).
		Msg("feed subscriber connected")

	go s.writeLoop(sub)
	go s.readLoop(sub)
}

func (s *Server) writeLoop(sub *subscriber) {
	defer sub.conn.Close()
	for payload := range sub.send {
		_ = sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := sub.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			s.drop(sub)
			return
		}
	}
}

// readLoop discards inbound frames; its job is to notice the peer going
// away so the subscriber can be reaped.
func (s *Server) readLoop(sub *subscriber) {
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			s.drop(sub)
			return
		}
	}
}

func (s *Server) drop(sub *subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscribers[sub]; ok {
		close(sub.send)
		delete(s.subscribers, sub)
	}
}
