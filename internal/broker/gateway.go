package broker

import "context"

// QuoteTypeLTP 请求最新成交价。
const QuoteTypeLTP = "ltp"

// Credentials 为一次交互式登录所需的凭据。
type Credentials struct {
	ConsumerKey  string
	MobileNumber string
	ClientCode   string
	TOTP         string
	MPIN         string
}

// OrderParams 为提交给券商的单笔委托参数，字段均为券商协议的字符串形式。
type OrderParams struct {
	ExchangeSegment string
	Product         string
	Price           string
	OrderType       string
	TradingSymbol   string
	TransactionType string
	Validity        string
	Quantity        string
}

// Ack 为券商对单笔委托的原始回执，不做解释直接透传。
type Ack map[string]any

// Position 为券商返回的原始持仓记录。
type Position map[string]any

// QuoteToken 标识一次报价请求中的合约。
type QuoteToken struct {
	InstrumentToken string
	ExchangeSegment string
}

// Quote 为单个合约的报价结果。
type Quote struct {
	InstrumentToken string
	LastPrice       float64
}

// OrderPlacer 负责提交单笔委托。
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, params OrderParams) (Ack, error)
}

// QuoteSource 批量获取报价。
type QuoteSource interface {
	Quotes(ctx context.Context, tokens []QuoteToken, quoteType string) ([]Quote, error)
}

// MasterSource 提供合约主数据文件地址。
type MasterSource interface {
	ScripMasterPaths(ctx context.Context) ([]string, error)
}

// Gateway 为已认证的券商会话句柄。
type Gateway interface {
	OrderPlacer
	QuoteSource
	MasterSource
	Positions(ctx context.Context) ([]Position, error)
	OrderReport(ctx context.Context) (any, error)
	Limits(ctx context.Context) (any, error)
}

// Authenticator 完成登录并返回会话句柄。
type Authenticator interface {
	Login(ctx context.Context, creds Credentials) (Gateway, error)
}
