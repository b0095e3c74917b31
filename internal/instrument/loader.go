package instrument

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"order-relay/internal/broker"
)

const (
	colTradingSymbol = "pTrdSymbol"
	colLotSize       = "lLotSize"
	colToken         = "pSymbol"
)

// ErrNoMasterFile 表示券商未提供目标交易段的主数据文件。
var ErrNoMasterFile = errors.New("instrument: master file for segment not found")

// Loader 下载并解析券商的合约主数据 CSV。
type Loader struct {
	segment    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewLoader 创建加载器，segment 用于在文件列表中挑选目标文件（如 nse_fo）。
func NewLoader(segment string, timeout time.Duration, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Loader{
		segment:    segment,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Load 获取主数据文件列表，下载匹配交易段的 CSV 并构造查找表。
func (l *Loader) Load(ctx context.Context, src broker.MasterSource) (*Table, error) {
	paths, err := src.ScripMasterPaths(ctx)
	if err != nil {
		return nil, fmt.Errorf("instrument: 获取主数据地址失败: %w", err)
	}

	var target string
	for _, p := range paths {
		if strings.Contains(p, l.segment) {
			target = p
			break
		}
	}
	if target == "" {
		return nil, ErrNoMasterFile
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("instrument: 构造下载请求失败: %w", err)
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("instrument: 下载主数据失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("instrument: 下载主数据失败: status %d", resp.StatusCode)
	}

	table, err := Parse(resp.Body)
	if err != nil {
		return nil, err
	}
	l.logger.Info("合约主数据已加载", zap.String("segment", l.segment), zap.Int("rows", table.Len()))
	return table, nil
}

// Parse 解析主数据 CSV。列名两端空白会被去除；缺少 pSymbol 时使用第一列作为 token。
func Parse(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("instrument: 读取表头失败: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}

	symIdx, ok := index[colTradingSymbol]
	if !ok {
		return nil, fmt.Errorf("instrument: 缺少列 %s", colTradingSymbol)
	}
	lotIdx, hasLot := index[colLotSize]
	tokIdx, hasTok := index[colToken]
	if !hasTok {
		tokIdx = 0
	}

	records := make([]Record, 0, 1024)
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("instrument: 解析主数据失败: %w", err)
		}
		sym := field(row, symIdx)
		if sym == "" {
			continue
		}
		rec := Record{TradingSymbol: sym, Token: field(row, tokIdx)}
		if hasLot {
			if lot, convErr := strconv.ParseFloat(field(row, lotIdx), 64); convErr == nil {
				rec.LotSize = int64(lot)
			}
		}
		records = append(records, rec)
	}

	return &Table{records: records}, nil
}

func field(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
