package alpaca

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/schema"
	"main/pkg/backoff"
)

// StreamFills implements broker.Broker. The connection authenticates,
// subscribes to trade updates and reconnects with backoff until the
// context is cancelled.
func (a *Adapter) StreamFills(ctx context.Context) (<-chan schema.Fill, error) {
	out := make(chan schema.Fill, 256)
	seq := newSeqTracker()

	go func() {
		defer close(out)
		bo := backoff.Default()
		attempt := 0
		for {
			if ctx.Err() != nil {
				return
			}
			if err := a.streamOnce(ctx, out, seq); err != nil {
				attempt++
				wait := bo.Next(attempt)
				logs.Warnf("%s trade update stream dropped, attempt %d, reconnecting in %s",
					a.Name(), attempt, wait)
				select {
				case <-ctx.Done():
					return
				case <-time.After(wait):
				}
				continue
			}
			attempt = 0
		}
	}()

	return out, nil
}

func (a *Adapter) streamOnce(ctx context.Context, out chan<- schema.Fill, seq *seqTracker) error {
	creds, err := a.secrets.Resolve(ctx, a.credRef)
	if err != nil {
		return errors.Wrap(err, "resolve stream credentials")
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.wsURL, nil)
	if err != nil {
		return errors.Wrap(err, "dial trade update stream")
	}
	defer conn.Close()

	auth := map[string]any{
		"action": "authenticate",
		"data": map[string]string{
			"key_id":     creds.Key,
			"secret_key": creds.Secret,
		},
	}
	if err := conn.WriteJSON(auth); err != nil {
		return errors.Wrap(err, "write auth payload")
	}
	listen := map[string]any{
		"action": "listen",
		"data":   map[string][]string{"streams": {"trade_updates"}},
	}
	if err := conn.WriteJSON(listen); err != nil {
		return errors.Wrap(err, "write listen payload")
	}

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "read trade update")
		}
		fill, ok := parseFill(raw, seq.next)
		if !ok {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case out <- fill:
		}
	}
}

// seqTracker assigns a monotonic per-order fill sequence; the stream does
// not carry one natively.
type seqTracker struct {
	mu   sync.Mutex
	seqs map[string]uint64
}

func newSeqTracker() *seqTracker {
	return &seqTracker{seqs: make(map[string]uint64)}
}

func (t *seqTracker) next(orderID string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seqs[orderID]++
	return t.seqs[orderID]
}
