package neo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"

	"order-relay/internal/broker"
	"order-relay/internal/config"
)

// CallObserver 在每次券商调用结束后被通知，用于记录耗时指标。
type CallObserver func(operation string, latency time.Duration, err error)

// Authenticator 通过 TOTP + MPIN 两步登录建立 Neo 会话。
type Authenticator struct {
	cfg        config.BrokerConfig
	httpClient *http.Client
	logger     *zap.Logger
	observer   CallObserver
	now        func() time.Time
}

// NewAuthenticator 创建登录器。
func NewAuthenticator(cfg config.BrokerConfig, observer CallObserver, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Authenticator{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		observer:   observer,
		now:        time.Now,
	}
}

type loginResponse struct {
	Data struct {
		Token   string `json:"token"`
		Sid     string `json:"sid"`
		BaseURL string `json:"baseUrl"`
	} `json:"data"`
	Message string `json:"message"`
	ErrMsg  string `json:"errMsg"`
}

// Login 完成 TOTP 登录与 MPIN 校验，返回可交易的会话客户端。
func (a *Authenticator) Login(ctx context.Context, creds broker.Credentials) (broker.Gateway, error) {
	if creds.ConsumerKey == "" || creds.MobileNumber == "" || creds.ClientCode == "" || creds.MPIN == "" {
		return nil, broker.ErrMissingCredentials
	}

	code := strings.TrimSpace(creds.TOTP)
	if code == "" {
		if a.cfg.TOTPSecret == "" {
			return nil, fmt.Errorf("%w: totp", broker.ErrMissingCredentials)
		}
		generated, err := totp.GenerateCode(a.cfg.TOTPSecret, a.now())
		if err != nil {
			return nil, fmt.Errorf("neo: 生成 TOTP 失败: %w", err)
		}
		code = generated
	}

	base := &Client{
		consumerKey: creds.ConsumerKey,
		finKey:      a.cfg.NeoFinKey,
		retry:       a.cfg.Retry,
		quoteSeg:    a.cfg.QuoteSegment,
		httpClient:  a.httpClient,
		logger:      a.logger,
		observer:    a.observer,
	}

	var view loginResponse
	err := base.doJSON(ctx, "totp_login", http.MethodPost, a.cfg.LoginURL,
		map[string]string{"Authorization": creds.ConsumerKey},
		map[string]string{"mobileNumber": creds.MobileNumber, "ucc": creds.ClientCode, "totp": code},
		&view)
	if err != nil {
		return nil, err
	}
	if view.Data.Token == "" || view.Data.Sid == "" {
		return nil, loginFailure("totp_login", view)
	}

	var trade loginResponse
	err = base.doJSON(ctx, "totp_validate", http.MethodPost, a.cfg.ValidateURL,
		map[string]string{"Authorization": creds.ConsumerKey, "sid": view.Data.Sid, "Auth": view.Data.Token},
		map[string]string{"mpin": creds.MPIN},
		&trade)
	if err != nil {
		return nil, err
	}
	if trade.Data.Token == "" || trade.Data.BaseURL == "" {
		return nil, loginFailure("totp_validate", trade)
	}

	base.token = trade.Data.Token
	base.sid = trade.Data.Sid
	if base.sid == "" {
		base.sid = view.Data.Sid
	}
	base.baseURL = strings.TrimRight(trade.Data.BaseURL, "/")

	a.logger.Info("券商会话已建立",
		zap.String("client_code", creds.ClientCode),
		zap.String("base_url", base.baseURL),
	)
	return base, nil
}

func loginFailure(op string, resp loginResponse) error {
	msg := resp.ErrMsg
	if msg == "" {
		msg = resp.Message
	}
	if msg == "" {
		msg = "empty session token"
	}
	return fmt.Errorf("neo: %s: %w", op, errors.New(msg))
}
