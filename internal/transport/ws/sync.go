package ws

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"gametable.ai/internal/host"
	"gametable.ai/internal/protocol"
)

// Syncer pulls document deltas from peer boundaries on an interval and
// merges them locally. Pull-only anti-entropy: every side pulls, so two
// peers converge without either pushing.
type Syncer struct {
	client   *host.Client
	peers    []string
	interval time.Duration
	log      *log.Logger
}

func NewSyncer(client *host.Client, peers []string, interval time.Duration, logger *log.Logger) *Syncer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Syncer{client: client, peers: peers, interval: interval, log: logger}
}

func (s *Syncer) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, peer := range s.peers {
				if err := s.pull(ctx, peer); err != nil {
					s.log.Printf("sync %s: %v", peer, err)
				}
			}
		}
	}
}

// pull asks one peer for everything above our version vector and merges
// the answer. A dead peer costs one dial timeout per cycle.
func (s *Syncer) pull(ctx context.Context, peer string) error {
	view, err := s.client.GetState(ctx)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.DialContext(ctx, peer, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	req, err := protocol.NewRequest(protocol.TypeGetDelta, protocol.DeltaRequest{
		Since: view.Doc.VersionVector,
	})
	if err != nil {
		return err
	}
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return err
	}

	// Skip event frames until the correlated response shows up.
	deadline := time.Now().Add(10 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		resp, err := protocol.DecodeBase(msg)
		if err != nil || protocol.IsEvent(resp.Type) || resp.ReqID != req.ID {
			continue
		}
		if resp.Error != nil {
			return errorFrom(resp.Error)
		}
		var p protocol.DeltaPayload
		if err := json.Unmarshal(resp.Payload, &p); err != nil {
			return err
		}
		if len(p.Delta) == 0 {
			return nil
		}
		_, err = s.client.MergeState(ctx, p.Delta)
		return err
	}
}

type peerError struct{ info protocol.ErrorInfo }

func (e peerError) Error() string { return e.info.Code + ": " + e.info.Message }

func errorFrom(info *protocol.ErrorInfo) error { return peerError{info: *info} }
