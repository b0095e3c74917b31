package instrument

import "strings"

const (
	// MinQueryLen 以下的查询直接返回空结果。
	MinQueryLen = 3
	// MaxResults 为单次搜索返回的最大条数。
	MaxResults = 10
)

// Record 为一条可交易合约。
type Record struct {
	TradingSymbol string `json:"pTrdSymbol"`
	LotSize       int64  `json:"lLotSize"`
	Token         string `json:"token"`
}

// Table 为只读的合约查找表，加载后不再修改。
type Table struct {
	records []Record
}

// NewTable 以给定记录构造查找表。
func NewTable(records []Record) *Table {
	cp := make([]Record, len(records))
	copy(cp, records)
	return &Table{records: cp}
}

// Len 返回合约数量。
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.records)
}

// Search 按交易代码子串（不区分大小写）查找，最多返回 MaxResults 条。
// 表为空或查询过短时返回空切片而非 nil。
func (t *Table) Search(query string) []Record {
	out := make([]Record, 0)
	q := strings.ToUpper(strings.TrimSpace(query))
	if t == nil || len(q) < MinQueryLen {
		return out
	}
	for _, rec := range t.records {
		if strings.Contains(rec.TradingSymbol, q) {
			out = append(out, rec)
			if len(out) == MaxResults {
				break
			}
		}
	}
	return out
}
