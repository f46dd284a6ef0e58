package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ox-market-maker/internal/ox/auth"

	"go.uber.org/zap"
)

const (
	pathPlaceOrder    = "/v3/orders/place"
	pathWorkingOrders = "/v3/orders/working"
	pathCancelAll     = "/v3/orders/cancel-all"
	pathPositions     = "/v3/positions"
)

type Client struct {
	baseURL       string
	host          string
	http          *http.Client
	signer        *auth.Signer
	recvWindow    int
	lastNonce     atomic.Uint64
	lastPersisted atomic.Uint64
	nonceStore    NonceStore
	nonceKey      string
	log           *zap.Logger
	persistMu     sync.Mutex
	persistWarned atomic.Bool
	now           func() time.Time
}

type NonceStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

type NonceState struct {
	Key       string
	Last      uint64
	Persisted uint64
}

func NewClient(baseURL string, timeout time.Duration, signer *auth.Signer, recvWindow int) (*Client, error) {
	if signer == nil {
		return nil, errors.New("signer is required")
	}
	if baseURL == "" {
		baseURL = "https://api.ox.fun"
	}
	baseURL = strings.TrimRight(baseURL, "/")
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url %q has no host", baseURL)
	}
	if recvWindow <= 0 {
		recvWindow = 20000
	}
	return &Client{
		baseURL: baseURL,
		host:    parsed.Host,
		http: &http.Client{
			Timeout: timeout,
		},
		signer:     signer,
		recvWindow: recvWindow,
		log:        zap.NewNop(),
		now:        time.Now,
	}, nil
}

func (c *Client) SetLogger(log *zap.Logger) {
	if log != nil {
		c.log = log
	}
}

// PlaceOrder submits one limit order. The client order id is drawn from the
// same monotonic sequence as request nonces so it never repeats across restarts.
func (c *Client) PlaceOrder(ctx context.Context, order OrderRequest) (PlacedOrder, error) {
	if strings.TrimSpace(order.Instrument) == "" {
		return PlacedOrder{}, errors.New("instrument is required")
	}
	if order.Side != SideBuy && order.Side != SideSell {
		return PlacedOrder{}, fmt.Errorf("invalid side %q", order.Side)
	}
	if !order.Quantity.IsPositive() || !order.Price.IsPositive() {
		return PlacedOrder{}, fmt.Errorf("order %s %s requires positive price and quantity", order.Side, order.Instrument)
	}
	tif := order.TimeInForce
	if tif == "" {
		tif = TifGTC
	}
	clientOrderID := c.nextNonce()
	req := placeOrdersRequest{
		RecvWindow:   c.recvWindow,
		ResponseType: "FULL",
		Timestamp:    c.now().UnixMilli(),
		Orders: []orderWire{{
			ClientOrderID: clientOrderID,
			MarketCode:    order.Instrument,
			Side:          order.Side,
			Quantity:      order.Quantity.String(),
			TimeInForce:   tif,
			OrderType:     OrderTypeLimit,
			Price:         order.Price.String(),
		}},
	}
	resp, err := c.do(ctx, http.MethodPost, pathPlaceOrder, "", req)
	if err != nil {
		return PlacedOrder{}, err
	}
	orderID, err := placeResult(resp)
	if err != nil {
		return PlacedOrder{}, err
	}
	return PlacedOrder{ClientOrderID: clientOrderID, OrderID: orderID}, nil
}

func (c *Client) CancelAll(ctx context.Context, instrument string) error {
	if strings.TrimSpace(instrument) == "" {
		return errors.New("instrument is required")
	}
	_, err := c.do(ctx, http.MethodDelete, pathCancelAll, "", cancelAllRequest{MarketCode: instrument})
	return err
}

func (c *Client) WorkingOrders(ctx context.Context, instrument string) ([]WorkingOrder, error) {
	query := ""
	if instrument != "" {
		query = url.Values{"marketCode": []string{instrument}}.Encode()
	}
	resp, err := c.do(ctx, http.MethodGet, pathWorkingOrders, query, nil)
	if err != nil {
		return nil, err
	}
	orders := parseWorkingOrders(resp)
	if instrument == "" {
		return orders, nil
	}
	filtered := orders[:0]
	for _, order := range orders {
		if order.Instrument == instrument {
			filtered = append(filtered, order)
		}
	}
	return filtered, nil
}

// Positions returns open positions; an empty instrument lists every market.
// A market absent from a successful response is flat.
func (c *Client) Positions(ctx context.Context, instrument string) ([]Position, error) {
	query := ""
	if instrument != "" {
		query = url.Values{"marketCode": []string{instrument}}.Encode()
	}
	resp, err := c.do(ctx, http.MethodGet, pathPositions, query, nil)
	if err != nil {
		return nil, err
	}
	positions := parsePositions(resp)
	if instrument == "" {
		return positions, nil
	}
	filtered := positions[:0]
	for _, pos := range positions {
		if pos.Instrument == instrument {
			filtered = append(filtered, pos)
		}
	}
	return filtered, nil
}

func (c *Client) InitNonceStore(ctx context.Context, store NonceStore) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	key := nonceStoreKey(c.baseURL, c.signer)
	seed := uint64(time.Now().UnixMilli())
	if raw, ok, err := store.Get(ctx, key); err != nil {
		return err
	} else if ok {
		parsed, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid stored nonce %q: %w", raw, err)
		}
		if parsed > seed {
			seed = parsed
		}
	}
	if current := c.lastNonce.Load(); current > seed {
		seed = current
	}
	c.nonceStore = store
	c.nonceKey = key
	c.lastNonce.Store(seed)
	c.lastPersisted.Store(seed)
	return nil
}

func (c *Client) NonceState() (NonceState, bool) {
	if c.nonceStore == nil || c.nonceKey == "" {
		return NonceState{}, false
	}
	return NonceState{
		Key:       c.nonceKey,
		Last:      c.lastNonce.Load(),
		Persisted: c.lastPersisted.Load(),
	}, true
}

func (c *Client) nextNonce() uint64 {
	now := uint64(time.Now().UnixMilli())
	for {
		prev := c.lastNonce.Load()
		next := now
		if prev >= next {
			next = prev + 1
		}
		if c.lastNonce.CompareAndSwap(prev, next) {
			c.persistNonce(next)
			return next
		}
	}
}

func (c *Client) persistNonce(nonce uint64) {
	if c.nonceStore == nil || c.nonceKey == "" {
		return
	}
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	if nonce <= c.lastPersisted.Load() {
		return
	}
	if err := c.nonceStore.Set(context.Background(), c.nonceKey, strconv.FormatUint(nonce, 10)); err != nil {
		c.logPersistError(err)
		return
	}
	c.lastPersisted.Store(nonce)
	c.persistWarned.Store(false)
}

func (c *Client) logPersistError(err error) {
	if c.log == nil {
		return
	}
	if c.persistWarned.CompareAndSwap(false, true) {
		c.log.Warn("nonce persistence failed", zap.String("nonce_key", c.nonceKey), zap.Error(err))
	}
}

func nonceStoreKey(baseURL string, signer *auth.Signer) string {
	key := "unknown"
	if signer != nil {
		key = signer.APIKey()
		if len(key) > 8 {
			key = key[:8]
		}
	}
	return fmt.Sprintf("exchange:nonce:%s:%s", strings.ToLower(strings.TrimSpace(baseURL)), key)
}

// do signs and sends one request. payload is the JSON body for writes; reads
// sign the raw query string instead.
func (c *Client) do(ctx context.Context, method, path, query string, body any) (map[string]any, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}
	signed := string(payload)
	target := c.baseURL + path
	if query != "" {
		target += "?" + query
		if body == nil {
			signed = query
		}
	}
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	headers := c.signer.SignRequest(c.now(), c.nextNonce(), method, c.host, path, signed)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("AccessKey", headers.AccessKey)
	httpReq.Header.Set("Timestamp", headers.Timestamp)
	httpReq.Header.Set("Signature", headers.Signature)
	httpReq.Header.Set("Nonce", headers.Nonce)
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("%s %s: http %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var data map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	if err := checkSuccess(data); err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return data, nil
}
