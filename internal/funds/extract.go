package funds

import (
	"strings"

	"github.com/spf13/cast"
)

// Zero 为无法识别资金结构时的回落值。
const Zero = "0.00"

// candidateKeys 按优先级排列，命中第一个即返回。
var candidateKeys = []string{"Net", "net", "cash", "Cash", "available_balance"}

// Extract 从资金限额响应中提取可用余额。
// 支持三种结构：对象、嵌套在 data 下的对象、以及上述两者的单元素数组。
// 未命中时返回 (Zero, false)。
func Extract(raw any) (string, bool) {
	data := unwrap(raw)
	if data == nil {
		return Zero, false
	}
	for _, k := range candidateKeys {
		v, ok := data[k]
		if !ok || !truthy(v) {
			continue
		}
		s, err := cast.ToStringE(v)
		if err != nil {
			continue
		}
		return s, true
	}
	return Zero, false
}

// Cash 与 Extract 相同，但只返回字符串。
func Cash(raw any) string {
	s, _ := Extract(raw)
	return s
}

func unwrap(raw any) map[string]any {
	cur := raw
	if m, ok := cur.(map[string]any); ok {
		if inner, present := m["data"]; present {
			cur = inner
		}
	}
	if list, ok := cur.([]any); ok {
		if len(list) == 0 {
			return nil
		}
		cur = list[0]
	}
	m, _ := cur.(map[string]any)
	return m
}

// truthy 仅把非空字符串、非零数字、true 以及非空容器视为有效值。
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case bool:
		return x
	case float64:
		return x != 0
	case int:
		return x != 0
	case int64:
		return x != 0
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	default:
		s := strings.TrimSpace(cast.ToString(x))
		return s != "" && s != "0"
	}
}
