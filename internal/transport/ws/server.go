// Package ws exposes the boundary protocol over websocket: remote callers
// send request envelopes and receive correlated responses plus the event
// stream, and peers exchange document deltas.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gametable.ai/internal/engine/fault"
	"gametable.ai/internal/host"
	"gametable.ai/internal/protocol"
)

type Server struct {
	client *host.Client
	log    *log.Logger

	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[chan []byte]struct{}
}

func NewServer(client *host.Client, logger *log.Logger) *Server {
	s := &Server{
		client: client,
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		conns: map[chan []byte]struct{}{},
	}
	go s.broadcastEvents()
	return s
}

func (s *Server) broadcastEvents() {
	for m := range s.client.Events() {
		b, err := json.Marshal(m)
		if err != nil {
			continue
		}
		s.mu.Lock()
		for out := range s.conns {
			select {
			case out <- b:
			default:
			}
		}
		s.mu.Unlock()
	}
}

func (s *Server) register(out chan []byte) {
	s.mu.Lock()
	s.conns[out] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) unregister(out chan []byte) {
	s.mu.Lock()
	delete(s.conns, out)
	s.mu.Unlock()
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		out := make(chan []byte, 64)
		s.register(out)
		defer s.unregister(out)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				return
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				continue
			}
			if !protocol.IsRequest(base.Type) {
				continue
			}
			// Requests from one connection run concurrently; the boundary
			// serializes them, and req_id keeps the answers apart.
			go s.serve(ctx, base, out)
		}
	}
}

func (s *Server) serve(ctx context.Context, req protocol.Msg, out chan []byte) {
	resp, err := s.client.Call(ctx, req.Type, req.Payload, 0)
	if err != nil {
		resp = protocol.Msg{
			Type:  protocol.TypeError,
			Error: &protocol.ErrorInfo{Code: fault.CodeOf(err), Message: err.Error()},
		}
	}
	// Answer with the remote caller's correlation id, not the internal one.
	resp.ReqID = req.ID
	b, err := json.Marshal(resp)
	if err != nil {
		return
	}
	select {
	case out <- b:
	case <-ctx.Done():
	}
}
