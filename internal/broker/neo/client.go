package neo

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
	"time"

	"go.uber.org/zap"

	"order-relay/internal/broker"
	"order-relay/internal/config"
)

const (
	pathPlaceOrder  = "/quick/order/rule/ms/place"
	pathPositions   = "/quick/user/positions"
	pathOrderReport = "/quick/user/orders"
	pathLimits      = "/quick/user/limits"
	pathQuotes      = "/script-details/1.0/quotes/neosymbol/"
	pathMasterFiles = "/script-details/1.0/masterscrip/file-paths"

	maxErrorBody = 512
	ackRawKey    = "raw"
)

// Client 为已认证的 Neo 交易会话，实现 broker.Gateway。
// 只读接口对瞬时故障做指数退避重试，下单接口只提交一次。
type Client struct {
	consumerKey string
	finKey      string
	token       string
	sid         string
	baseURL     string
	quoteSeg    string

	retry      config.RetryConfig
	httpClient *http.Client
	logger     *zap.Logger
	observer   CallObserver
}

var _ broker.Gateway = (*Client)(nil)

// PlaceOrder 提交单笔委托并原样返回券商回执。
func (c *Client) PlaceOrder(ctx context.Context, params broker.OrderParams) (broker.Ack, error) {
	payload := map[string]string{
		"am": "NO",
		"dq": "0",
		"es": params.ExchangeSegment,
		"mp": "0",
		"pc": params.Product,
		"pf": "N",
		"pr": params.Price,
		"pt": params.OrderType,
		"qt": params.Quantity,
		"rt": params.Validity,
		"tp": "0",
		"ts": params.TradingSymbol,
		"tt": params.TransactionType,
	}

	var body []byte
	if err := c.doForm(ctx, "place_order", http.MethodPost, c.baseURL+pathPlaceOrder, payload, &body); err != nil {
		return nil, err
	}
	return decodeAck(body), nil
}

// decodeAck 不对 2xx 回执做格式要求：对象原样返回，其余内容放在 raw 字段下。
func decodeAck(body []byte) broker.Ack {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return broker.Ack{}
	}
	var ack broker.Ack
	if err := json.Unmarshal(body, &ack); err == nil && ack != nil {
		return ack
	}
	var v any
	if err := json.Unmarshal(body, &v); err == nil {
		return broker.Ack{ackRawKey: v}
	}
	return broker.Ack{ackRawKey: string(body)}
}

// Positions 返回当日持仓。
func (c *Client) Positions(ctx context.Context) ([]broker.Position, error) {
	var resp struct {
		Data []broker.Position `json:"data"`
	}
	err := c.callWithRetry(ctx, "positions", func() error {
		return c.doForm(ctx, "positions", http.MethodGet, c.baseURL+pathPositions, nil, &resp)
	})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// OrderReport 返回委托簿原始数据。
func (c *Client) OrderReport(ctx context.Context) (any, error) {
	var raw any
	err := c.callWithRetry(ctx, "order_report", func() error {
		return c.doForm(ctx, "order_report", http.MethodGet, c.baseURL+pathOrderReport, nil, &raw)
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// Limits 返回资金限额原始数据，结构随账户类型变化。
func (c *Client) Limits(ctx context.Context) (any, error) {
	payload := map[string]string{"seg": "ALL", "exch": "ALL", "prod": "ALL"}
	var raw any
	err := c.callWithRetry(ctx, "limits", func() error {
		return c.doForm(ctx, "limits", http.MethodPost, c.baseURL+pathLimits, payload, &raw)
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// Quotes 批量获取报价。
func (c *Client) Quotes(ctx context.Context, tokens []broker.QuoteToken, quoteType string) ([]broker.Quote, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	if quoteType == "" {
		quoteType = broker.QuoteTypeLTP
	}

	parts := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		seg := tok.ExchangeSegment
		if seg == "" {
			seg = c.quoteSeg
		}
		parts = append(parts, seg+"|"+tok.InstrumentToken)
	}
	endpoint := c.baseURL + pathQuotes + url.PathEscape(strings.Join(parts, ",")) + "/" + url.PathEscape(quoteType)

	var raw json.RawMessage
	err := c.callWithRetry(ctx, "quotes", func() error {
		return c.doJSON(ctx, "quotes", http.MethodGet, endpoint, map[string]string{"Authorization": c.consumerKey}, nil, &raw)
	})
	if err != nil {
		return nil, err
	}
	return decodeQuotes(raw)
}

// ScripMasterPaths 返回各交易段合约主数据 CSV 的下载地址。
func (c *Client) ScripMasterPaths(ctx context.Context) ([]string, error) {
	var resp struct {
		Data struct {
			FilesPaths []string `json:"filesPaths"`
		} `json:"data"`
		FilesPaths []string `json:"filesPaths"`
	}
	err := c.callWithRetry(ctx, "scrip_master", func() error {
		return c.doJSON(ctx, "scrip_master", http.MethodGet, c.baseURL+pathMasterFiles, map[string]string{"Authorization": c.consumerKey}, nil, &resp)
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data.FilesPaths) > 0 {
		return resp.Data.FilesPaths, nil
	}
	return resp.FilesPaths, nil
}

// decodeQuotes 兼容裸数组与 {data:[...]} 两种响应，字段名也存在新旧两套。
func decodeQuotes(raw json.RawMessage) ([]broker.Quote, error) {
	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err != nil {
		var wrapped struct {
			Data []map[string]any `json:"data"`
		}
		if err2 := json.Unmarshal(raw, &wrapped); err2 != nil {
			return nil, fmt.Errorf("neo: 解析报价失败: %w", err)
		}
		items = wrapped.Data
	}

	quotes := make([]broker.Quote, 0, len(items))
	for _, item := range items {
		token := firstString(item, "instrument_token", "exchange_token")
		if token == "" {
			continue
		}
		price, ok := firstFloat(item, "last_price", "ltp")
		if !ok {
			continue
		}
		quotes = append(quotes, broker.Quote{InstrumentToken: token, LastPrice: price})
	}
	return quotes, nil
}

func firstString(item map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := item[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func firstFloat(item map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		switch v := item[k].(type) {
		case float64:
			return v, true
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func (c *Client) tradeHeaders() map[string]string {
	return map[string]string{"Auth": c.token, "Sid": c.sid}
}

// doForm 以 jData 表单方式调用交易接口。
func (c *Client) doForm(ctx context.Context, operation, method, endpoint string, payload map[string]string, out any) error {
	var body io.Reader
	headers := c.tradeHeaders()
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("neo: 序列化 %s 请求失败: %w", operation, err)
		}
		body = strings.NewReader(url.Values{"jData": {string(encoded)}}.Encode())
		headers["Content-Type"] = "application/x-www-form-urlencoded"
	}
	return c.do(ctx, operation, method, endpoint, headers, body, out)
}

// doJSON 以 JSON 请求体调用登录与行情接口。
func (c *Client) doJSON(ctx context.Context, operation, method, endpoint string, headers map[string]string, payload any, out any) error {
	var body io.Reader
	if headers == nil {
		headers = map[string]string{}
	}
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("neo: 序列化 %s 请求失败: %w", operation, err)
		}
		body = bytes.NewReader(encoded)
		headers["Content-Type"] = "application/json"
	}
	return c.do(ctx, operation, method, endpoint, headers, body, out)
}

func (c *Client) do(ctx context.Context, operation, method, endpoint string, headers map[string]string, body io.Reader, out any) (err error) {
	start := time.Now()
	defer func() {
		if c.observer != nil {
			c.observer(operation, time.Since(start), err)
		}
	}()

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("neo: 构造 %s 请求失败: %w", operation, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.finKey != "" {
		req.Header.Set("neo-fin-key", c.finKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("neo: %s 请求失败: %w", operation, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("neo: 读取 %s 响应失败: %w", operation, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg := strings.TrimSpace(string(data))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return &broker.APIError{Operation: operation, StatusCode: resp.StatusCode, Message: msg}
	}

	if raw, ok := out.(*[]byte); ok {
		*raw = data
		return nil
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("neo: 解析 %s 响应失败: %w", operation, err)
	}
	return nil
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	maxAttempts := c.retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	delay := c.retry.MinDelay
	if delay <= 0 {
		delay = 250 * time.Millisecond
	}
	maxDelay := c.retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}

	attempt := 0
	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		err := fn()
		if err == nil {
			if attempt > 1 {
				c.logger.Info("券商调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
				)
			}
			return nil
		}

		if !broker.IsRetryable(err) || attempt >= maxAttempts {
			if errors.Is(err, broker.ErrSessionExpired) {
				c.logger.Warn("券商会话已失效", zap.String("operation", operation), zap.Error(err))
			}
			return err
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}
		c.logger.Warn("券商调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
