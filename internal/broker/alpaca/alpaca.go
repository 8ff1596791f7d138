package alpaca

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"main/internal/broker"
	"main/internal/schema"
	"main/pkg/exception"
)

const (
	_alpacaBaseUrl      = "https://api.alpaca.markets"
	_alpacaBaseUrlPaper = "https://paper-api.alpaca.markets"

	_alpacaStreamUrl      = "wss://api.alpaca.markets/stream"
	_alpacaStreamUrlPaper = "wss://paper-api.alpaca.markets/stream"

	requestTimeout = 15 * time.Second
)

// Adapter submits orders to Alpaca and streams trade updates back.
type Adapter struct {
	client  *http.Client
	secrets broker.SecretsProvider
	credRef string
	baseURL string
	wsURL   string
}

// New creates an Alpaca adapter. Credentials are resolved through the
// secrets provider at call time and never stored on the adapter.
func New(client *http.Client, secrets broker.SecretsProvider, credRef string, paper bool) *Adapter {
	baseURL, wsURL := _alpacaBaseUrl, _alpacaStreamUrl
	if paper {
		baseURL, wsURL = _alpacaBaseUrlPaper, _alpacaStreamUrlPaper
	}
	return &Adapter{
		client:  client,
		secrets: secrets,
		credRef: credRef,
		baseURL: baseURL,
		wsURL:   wsURL,
	}
}

// Name implements broker.Broker.
func (a *Adapter) Name() string { return "alpaca" }

type orderRequest struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	LimitPrice    string `json:"limit_price,omitempty"`
	ExtendedHours bool   `json:"extended_hours,omitempty"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

type orderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func alpacaTimeInForce(tif schema.TimeInForce) string {
	switch tif {
	case schema.TimeInForceGTC:
		return "gtc"
	case schema.TimeInForceIOC:
		return "ioc"
	case schema.TimeInForceFOK:
		return "fok"
	case schema.TimeInForceDay:
		return "day"
	default:
		return "day"
	}
}

func alpacaOrderType(t schema.OrderType) (string, error) {
	switch t {
	case schema.OrderTypeMarket:
		return "market", nil
	case schema.OrderTypeLimit:
		return "limit", nil
	case schema.OrderTypeStop:
		return "stop", nil
	case schema.OrderTypeStopLimit:
		return "stop_limit", nil
	default:
		return "", exception.ErrBrokerUnsupportedType
	}
}

// Submit implements broker.Broker.
func (a *Adapter) Submit(ctx context.Context, child schema.ChildOrder) (broker.OrderRef, error) {
	orderType, err := alpacaOrderType(child.Type)
	if err != nil {
		return broker.OrderRef{}, err
	}

	body := orderRequest{
		Symbol:        child.Symbol,
		Qty:           child.Quantity.String(),
		Side:          string(child.Side),
		Type:          orderType,
		TimeInForce:   alpacaTimeInForce(child.TimeInForce),
		ExtendedHours: child.ExtendedHours,
		ClientOrderID: child.ClientOrderID,
	}
	if child.LimitPrice.IsPositive() {
		body.LimitPrice = child.LimitPrice.String()
	}

	payload, err := sonic.ConfigFastest.Marshal(body)
	if err != nil {
		return broker.OrderRef{}, err
	}

	resp, err := a.do(ctx, http.MethodPost, "/v2/orders", payload)
	if err != nil {
		return broker.OrderRef{}, err
	}
	defer resp.Body.Close()

	if err := mapStatus(resp.StatusCode); err != nil {
		return broker.OrderRef{}, err
	}

	var data orderResponse
	if err := sonic.ConfigFastest.NewDecoder(resp.Body).Decode(&data); err != nil {
		return broker.OrderRef{}, errors.Wrap(err, "decode order response")
	}
	if data.ID == "" {
		return broker.OrderRef{}, exception.ErrBrokerRejected
	}
	return broker.OrderRef{Broker: a.Name(), BrokerOrderID: data.ID}, nil
}

// Cancel implements broker.Broker.
func (a *Adapter) Cancel(ctx context.Context, ref broker.OrderRef) error {
	resp, err := a.do(ctx, http.MethodDelete, "/v2/orders/"+ref.BrokerOrderID, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return exception.ErrBrokerUnknownOrder
	}
	return mapStatus(resp.StatusCode)
}

// OpenOrders implements broker.Broker.
func (a *Adapter) OpenOrders(ctx context.Context) ([]string, error) {
	resp, err := a.do(ctx, http.MethodGet, "/v2/orders?status=open&limit=500", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := mapStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	var data []orderResponse
	if err := sonic.ConfigFastest.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, errors.Wrap(err, "decode open orders")
	}
	ids := make([]string, 0, len(data))
	for _, o := range data {
		ids = append(ids, o.ID)
	}
	return ids, nil
}

func (a *Adapter) do(ctx context.Context, method, path string, payload []byte) (*http.Response, error) {
	creds, err := a.secrets.Resolve(ctx, a.credRef)
	if err != nil {
		return nil, errors.Wrap(exception.ErrBrokerMissingCredstore, err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var body *bytes.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("APCA-API-KEY-ID", creds.Key)
	req.Header.Set("APCA-API-SECRET-KEY", creds.Secret)

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, exception.ErrBrokerTimeout
		}
		return nil, errors.Wrap(exception.ErrBrokerUnavailable, err.Error())
	}
	return resp, nil
}

func mapStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return exception.ErrBrokerRateLimited
	case code >= 500:
		return exception.ErrBrokerUnavailable
	default:
		return errors.Wrap(exception.ErrBrokerRejected, "http status "+strconv.Itoa(code))
	}
}

type tradeUpdate struct {
	Stream string `json:"stream"`
	Data   struct {
		Event string `json:"event"`
		Qty   string `json:"qty"`
		Price string `json:"price"`
		Order struct {
			ID        string `json:"id"`
			Symbol    string `json:"symbol"`
			Side      string `json:"side"`
			FilledQty string `json:"filled_qty"`
		} `json:"order"`
	} `json:"data"`
}

func parseFill(raw []byte, seq func(orderID string) uint64) (schema.Fill, bool) {
	var update tradeUpdate
	if err := sonic.ConfigFastest.Unmarshal(raw, &update); err != nil {
		return schema.Fill{}, false
	}
	if update.Stream != "trade_updates" {
		return schema.Fill{}, false
	}
	if update.Data.Event != "fill" && update.Data.Event != "partial_fill" {
		return schema.Fill{}, false
	}

	qty, err := decimal.NewFromString(update.Data.Qty)
	if err != nil || !qty.IsPositive() {
		return schema.Fill{}, false
	}
	price, err := decimal.NewFromString(update.Data.Price)
	if err != nil {
		return schema.Fill{}, false
	}

	return schema.Fill{
		Broker:        "alpaca",
		BrokerOrderID: update.Data.Order.ID,
		Symbol:        update.Data.Order.Symbol,
		Side:          schema.OrderSide(update.Data.Order.Side),
		Quantity:      qty,
		Price:         price,
		Seq:           seq(update.Data.Order.ID),
		ExecutedAt:    time.Now().UTC(),
	}, true
}
