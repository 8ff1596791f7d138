package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
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
	_binanceBaseUrl        = "https://api.binance.com"
	_binanceBaseUrlTestnet = "https://testnet.binance.vision"

	requestTimeout = 15 * time.Second
)

// Adapter submits orders to Binance spot via signed REST requests.
type Adapter struct {
	client  *http.Client
	secrets broker.SecretsProvider
	credRef string
	baseURL string
	wsURL   string
}

// New creates a Binance adapter.
func New(client *http.Client, secrets broker.SecretsProvider, credRef string, testnet bool) *Adapter {
	baseURL := _binanceBaseUrl
	wsURL := _binanceStreamUrl
	if testnet {
		baseURL = _binanceBaseUrlTestnet
		wsURL = _binanceStreamUrlTestnet
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
func (a *Adapter) Name() string { return "binance" }

func binanceTimeInForce(tif schema.TimeInForce) string {
	switch tif {
	case schema.TimeInForceIOC:
		return "IOC"
	case schema.TimeInForceFOK:
		return "FOK"
	default:
		// Binance has no day orders; GTC is the closest mapping and the
		// engine's expiry worker enforces the day boundary.
		return "GTC"
	}
}

type placeResponse struct {
	Symbol  string `json:"symbol"`
	OrderID int64  `json:"orderId"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Msg     string `json:"msg"`
}

// Submit implements broker.Broker.
func (a *Adapter) Submit(ctx context.Context, child schema.ChildOrder) (broker.OrderRef, error) {
	params := url.Values{}
	params.Set("symbol", child.Symbol)
	params.Set("side", sideUpper(child.Side))
	params.Set("quantity", child.Quantity.String())
	params.Set("newClientOrderId", child.ClientOrderID)

	switch child.Type {
	case schema.OrderTypeMarket:
		params.Set("type", "MARKET")
	case schema.OrderTypeLimit:
		params.Set("type", "LIMIT")
		params.Set("price", child.LimitPrice.String())
		params.Set("timeInForce", binanceTimeInForce(child.TimeInForce))
	default:
		return broker.OrderRef{}, exception.ErrBrokerUnsupportedType
	}

	var data placeResponse
	if err := a.signedCall(ctx, http.MethodPost, "/api/v3/order", params, &data); err != nil {
		return broker.OrderRef{}, err
	}
	if data.OrderID == 0 {
		return broker.OrderRef{}, errors.Wrap(exception.ErrBrokerRejected, data.Msg)
	}
	return broker.OrderRef{
		Broker:        a.Name(),
		BrokerOrderID: orderRefID(child.Symbol, data.OrderID),
	}, nil
}

// Cancel implements broker.Broker. The cancel endpoint requires the symbol,
// so every broker order id this adapter hands out carries it as
// "<symbol>:<id>".
func (a *Adapter) Cancel(ctx context.Context, ref broker.OrderRef) error {
	symbol, id := splitOrderRef(ref.BrokerOrderID)
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", id)

	var data placeResponse
	if err := a.signedCall(ctx, http.MethodDelete, "/api/v3/order", params, &data); err != nil {
		return err
	}
	if data.Code != 0 {
		return errors.Wrap(exception.ErrBrokerUnknownOrder, data.Msg)
	}
	return nil
}

// OpenOrders implements broker.Broker.
func (a *Adapter) OpenOrders(ctx context.Context) ([]string, error) {
	var data []placeResponse
	if err := a.signedCall(ctx, http.MethodGet, "/api/v3/openOrders", url.Values{}, &data); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(data))
	for _, o := range data {
		ids = append(ids, orderRefID(o.Symbol, o.OrderID))
	}
	return ids, nil
}

func (a *Adapter) signedCall(ctx context.Context, method, path string, params url.Values, out any) error {
	creds, err := a.secrets.Resolve(ctx, a.credRef)
	if err != nil {
		return errors.Wrap(exception.ErrBrokerMissingCredstore, err.Error())
	}

	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	query := params.Encode()
	mac := hmac.New(sha256.New, []byte(creds.Secret))
	mac.Write([]byte(query))
	query += "&signature=" + hex.EncodeToString(mac.Sum(nil))

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path+"?"+query, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-MBX-APIKEY", creds.Key)

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return exception.ErrBrokerTimeout
		}
		return errors.Wrap(exception.ErrBrokerUnavailable, err.Error())
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusTeapot:
		return exception.ErrBrokerRateLimited
	case resp.StatusCode >= 500:
		return exception.ErrBrokerUnavailable
	case resp.StatusCode >= 400:
		return errors.Wrap(exception.ErrBrokerRejected, "http status "+strconv.Itoa(resp.StatusCode))
	}

	if err := sonic.ConfigFastest.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response body")
	}
	return nil
}

func sideUpper(side schema.OrderSide) string {
	if side == schema.OrderSideSell {
		return "SELL"
	}
	return "BUY"
}

func orderRefID(symbol string, id int64) string {
	return symbol + ":" + strconv.FormatInt(id, 10)
}

func splitOrderRef(ref string) (symbol, id string) {
	for i := 0; i < len(ref); i++ {
		if ref[i] == ':' {
			return ref[:i], ref[i+1:]
		}
	}
	return "", ref
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
