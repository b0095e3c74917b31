package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"order-relay/internal/broker"
	"order-relay/internal/execution"
	"order-relay/internal/funds"
	"order-relay/internal/instrument"
	"order-relay/internal/session"
)

const loginFirst = "Login first"

type loginBody struct {
	ConsumerKey  string `mapstructure:"consumer_key"`
	MobileNumber string `mapstructure:"mobile_number"`
	ClientCode   string `mapstructure:"client_code"`
	TOTP         string `mapstructure:"totp"`
	MPIN         string `mapstructure:"mpin"`
}

type placeOrderBody struct {
	Symbol    string `mapstructure:"symbol"`
	Side      string `mapstructure:"side"`
	Qty       int64  `mapstructure:"qty"`
	SliceSize int64  `mapstructure:"slice_size"`
	Price     string `mapstructure:"price"`
	IsMarket  bool   `mapstructure:"is_market"`
	Segment   string `mapstructure:"segment"`
	Product   string `mapstructure:"product"`
	Validity  string `mapstructure:"validity"`
}

// decodeBody 读取 JSON 请求体，数量等字段允许以字符串或数字传入。
func decodeBody(r *http.Request, out any) error {
	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return err
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(raw)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body loginBody
	if err := decodeBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()}, s.logger)
		return
	}

	ctx := r.Context()
	gw, err := s.deps.Auth.Login(ctx, broker.Credentials{
		ConsumerKey:  body.ConsumerKey,
		MobileNumber: body.MobileNumber,
		ClientCode:   body.ClientCode,
		TOTP:         body.TOTP,
		MPIN:         body.MPIN,
	})
	s.deps.Metrics.LoginAttempt(err)
	if err != nil {
		s.logger.Warn("登录失败", zap.String("client_code", body.ClientCode), zap.Error(err))
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": err.Error()}, s.logger)
		return
	}

	var table *instrument.Table
	if s.deps.Loader != nil {
		table, err = s.deps.Loader.Load(ctx, gw)
		if err != nil {
			s.logger.Warn("合约表加载失败，搜索将返回空结果", zap.Error(err))
			table = nil
		}
	}

	prev := s.deps.Sessions.Activate(&session.Session{
		Gateway:     gw,
		ClientCode:  body.ClientCode,
		Instruments: table,
	})
	if prev != nil {
		s.logger.Info("新登录替换已有会话", zap.String("previous", prev.ClientCode))
	}
	s.deps.Metrics.SetSession(true)

	cash := s.fetchFunds(ctx, gw)
	if s.deps.Events != nil {
		s.deps.Events.RecordLogin(ctx, body.ClientCode, table.Len(), cash)
	}
	s.logger.Info("登录成功",
		zap.String("client_code", body.ClientCode),
		zap.Int("instruments", table.Len()),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    map[string]any{"name": body.ClientCode, "funds": cash},
	}, s.logger)
}

// fetchFunds 查询资金并提取可用现金，任何失败都降级为 "0.00"。
func (s *Server) fetchFunds(ctx context.Context, gw broker.Gateway) string {
	raw, err := gw.Limits(ctx)
	if err != nil {
		s.logger.Warn("查询资金失败", zap.Error(err))
		return funds.Zero
	}
	return funds.Cash(raw)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	results := []instrument.Record{}
	if sess, ok := s.deps.Sessions.Current(); ok {
		results = sess.Instruments.Search(r.URL.Query().Get("q"))
	}
	writeJSON(w, http.StatusOK, results, s.logger)
}

func (s *Server) handleLTP(w http.ResponseWriter, r *http.Request) {
	failed := map[string]any{"success": false, "ltp": 0}
	sess, err := s.deps.Sessions.Require()
	if err != nil {
		writeJSON(w, http.StatusOK, failed, s.logger)
		return
	}

	token := strings.TrimSpace(r.URL.Query().Get("token"))
	quotes, err := sess.Gateway.Quotes(r.Context(), []broker.QuoteToken{{
		InstrumentToken: token,
		ExchangeSegment: s.quoteSegment,
	}}, broker.QuoteTypeLTP)
	if err != nil || len(quotes) == 0 {
		if err != nil {
			s.logger.Warn("查询最新价失败", zap.String("token", token), zap.Error(err))
		}
		writeJSON(w, http.StatusOK, failed, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "ltp": quotes[0].LastPrice}, s.logger)
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Sessions.Require()
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": loginFirst}, s.logger)
		return
	}

	var body placeOrderBody
	if err := decodeBody(r, &body); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()}, s.logger)
		return
	}

	req := execution.OrderRequest{
		Segment:   body.Segment,
		Product:   body.Product,
		Price:     body.Price,
		Market:    body.IsMarket,
		Symbol:    body.Symbol,
		Side:      body.Side,
		Validity:  body.Validity,
		TotalQty:  body.Qty,
		SliceSize: body.SliceSize,
	}

	// 切片序列一旦开始不随客户端断开而中止。
	ctx := context.WithoutCancel(r.Context())
	outcome, err := s.deps.Trader.Execute(ctx, sess.Gateway, req)
	if s.deps.Events != nil && !errors.Is(err, execution.ErrInvalidOrder) {
		s.deps.Events.RecordExecution(ctx, req, outcome)
	}
	if err != nil {
		resp := map[string]any{"success": false, "error": err.Error()}
		if len(outcome.Children) > 0 {
			resp["data"] = outcome.Acks()
			resp["is_sliced"] = outcome.Sliced
		}
		writeJSON(w, http.StatusOK, resp, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"data":      outcome.Acks(),
		"is_sliced": outcome.Sliced,
	}, s.logger)
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Sessions.Require()
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": loginFirst}, s.logger)
		return
	}
	gw := sess.Gateway

	var (
		positions []broker.Position
		orders    any
		cash      = funds.Zero
	)
	g, gctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		raw, err := gw.Positions(gctx)
		if err != nil {
			return err
		}
		positions = s.deps.Reconciler.Reconcile(gctx, gw, raw).Positions
		return nil
	})
	g.Go(func() error {
		report, err := gw.OrderReport(gctx)
		if err != nil {
			return err
		}
		orders = report
		return nil
	})
	g.Go(func() error {
		cash = s.fetchFunds(gctx, gw)
		return nil
	})
	if err := g.Wait(); err != nil {
		s.logger.Warn("刷新账户数据失败", zap.Error(err))
		if s.deps.Events != nil {
			s.deps.Events.RecordError(r.Context(), "刷新账户数据失败", err, map[string]interface{}{"client_code": sess.ClientCode})
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()}, s.logger)
		return
	}
	if positions == nil {
		positions = []broker.Position{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"positions": positions,
		"orders":    orders,
		"funds":     cash,
	}, s.logger)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	prev := s.deps.Sessions.Clear()
	s.deps.Metrics.SetSession(false)
	if prev != nil {
		s.logger.Info("会话已注销", zap.String("client_code", prev.ClientCode))
		if s.deps.Events != nil {
			s.deps.Events.RecordLogout(r.Context(), prev.ClientCode)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true}, s.logger)
}
