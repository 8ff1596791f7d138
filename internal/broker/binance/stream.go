package binance

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/schema"
	"main/pkg/backoff"
	"main/pkg/exception"
)

const (
	_binanceStreamUrl        = "wss://stream.binance.com:9443/ws"
	_binanceStreamUrlTestnet = "wss://testnet.binance.vision/ws"

	listenKeyKeepalive = 30 * time.Minute
)

type listenKeyResponse struct {
	ListenKey string `json:"listenKey"`
}

// executionReport is the user-data-stream order update payload.
type executionReport struct {
	EventType     string `json:"e"`
	Symbol        string `json:"s"`
	Side          string `json:"S"`
	ExecutionType string `json:"x"`
	OrderID       int64  `json:"i"`
	LastQty       string `json:"l"`
	LastPrice     string `json:"L"`
	Commission    string `json:"n"`
	TradeID       int64  `json:"t"`
	TradeTime     int64  `json:"T"`
}

// fillSeq assigns per-order fill sequence numbers. The stream's trade ids
// are exchange-global, not a per-order sequence, so they only serve to drop
// replays after a reconnect. Owned by the single stream goroutine.
type fillSeq struct {
	seqs       map[string]uint64
	lastTrades map[string]int64
}

func newFillSeq() *fillSeq {
	return &fillSeq{
		seqs:       make(map[string]uint64),
		lastTrades: make(map[string]int64),
	}
}

func (s *fillSeq) next(ref string, tradeID int64) (uint64, bool) {
	if last, ok := s.lastTrades[ref]; ok && tradeID <= last {
		return 0, false
	}
	s.lastTrades[ref] = tradeID
	s.seqs[ref]++
	return s.seqs[ref], true
}

// StreamFills implements broker.Broker via the user data stream. A listen
// key is created over REST, kept alive periodically and the websocket
// reconnects with backoff until the context is cancelled.
func (a *Adapter) StreamFills(ctx context.Context) (<-chan schema.Fill, error) {
	out := make(chan schema.Fill, 256)
	seq := newFillSeq()

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
				logs.Warnf("%s user data stream dropped, attempt %d, reconnecting in %s",
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

func (a *Adapter) streamOnce(ctx context.Context, out chan<- schema.Fill, seq *fillSeq) error {
	listenKey, err := a.createListenKey(ctx)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.wsURL+"/"+listenKey, nil)
	if err != nil {
		return errors.Wrap(err, "dial user data stream")
	}
	defer conn.Close()

	keepalive := time.NewTicker(listenKeyKeepalive)
	defer keepalive.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-keepalive.C:
				if err := a.keepAliveListenKey(ctx, listenKey); err != nil {
					logs.Warnf("%s listen key keepalive failed, err: %+v", a.Name(), err)
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "read user data stream")
		}

		var report executionReport
		if err := sonic.ConfigFastest.Unmarshal(raw, &report); err != nil {
			continue
		}
		if report.EventType != "executionReport" || report.ExecutionType != "TRADE" {
			continue
		}
		qty := parseDecimal(report.LastQty)
		if !qty.IsPositive() {
			continue
		}

		ref := orderRefID(report.Symbol, report.OrderID)
		seqNo, fresh := seq.next(ref, report.TradeID)
		if !fresh {
			continue
		}

		fill := schema.Fill{
			Broker:        a.Name(),
			BrokerOrderID: ref,
			Symbol:        report.Symbol,
			Side:          schema.OrderSide(lower(report.Side)),
			Quantity:      qty,
			Price:         parseDecimal(report.LastPrice),
			Commission:    parseDecimal(report.Commission),
			Seq:           seqNo,
			ExecutedAt:    time.UnixMilli(report.TradeTime).UTC(),
		}
		select {
		case <-ctx.Done():
			return nil
		case out <- fill:
		}
	}
}

func (a *Adapter) createListenKey(ctx context.Context) (string, error) {
	creds, err := a.secrets.Resolve(ctx, a.credRef)
	if err != nil {
		return "", errors.Wrap(exception.ErrBrokerMissingCredstore, err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/v3/userDataStream", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-MBX-APIKEY", creds.Key)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", errors.Wrap(exception.ErrBrokerUnavailable, err.Error())
	}
	defer resp.Body.Close()

	var data listenKeyResponse
	if err := sonic.ConfigFastest.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", errors.Wrap(err, "decode listen key")
	}
	if data.ListenKey == "" {
		return "", exception.ErrBrokerUnavailable
	}
	return data.ListenKey, nil
}

func (a *Adapter) keepAliveListenKey(ctx context.Context, listenKey string) error {
	creds, err := a.secrets.Resolve(ctx, a.credRef)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	params := url.Values{}
	params.Set("listenKey", listenKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		a.baseURL+"/api/v3/userDataStream?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-MBX-APIKEY", creds.Key)

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

func lower(side string) string {
	if side == "SELL" {
		return "sell"
	}
	return "buy"
}
