package entity

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/bitfantasy/nimo-ipd/internal/apperr"
)

// EffectivityType 有效性类型
type EffectivityType string

const (
	EffectivityList  EffectivityType = "LIST"
	EffectivityRange EffectivityType = "RANGE"
)

// Effectivity 零件适用的飞机线号规则
//
// 只能通过 NewListEffectivity / NewRangeEffectivity 构造，字段不导出，
// 空 LIST、from > to 的 RANGE 以及携带另一种类型字段的组合都无法表示。
// 零值表示"未声明有效性"，解析时一律排除。
type Effectivity struct {
	kind   EffectivityType
	values []int // sorted, deduplicated
	from   int
	to     int
}

// NewListEffectivity 构造 LIST 有效性
func NewListEffectivity(values []int) (Effectivity, error) {
	if len(values) == 0 {
		return Effectivity{}, apperr.Validation("effectivity LIST requires at least one line number")
	}
	sorted := make([]int, len(values))
	copy(sorted, values)
	sort.Ints(sorted)

	out := sorted[:1]
	for _, v := range sorted[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return Effectivity{kind: EffectivityList, values: out}, nil
}

// NewRangeEffectivity 构造 RANGE 有效性（两端包含）
func NewRangeEffectivity(from, to int) (Effectivity, error) {
	if from > to {
		return Effectivity{}, apperr.Validation("effectivity RANGE from %d > to %d", from, to)
	}
	return Effectivity{kind: EffectivityRange, from: from, to: to}, nil
}

// Type 返回有效性类型，未声明时为空
func (e Effectivity) Type() EffectivityType { return e.kind }

// IsZero 是否未声明有效性
func (e Effectivity) IsZero() bool { return e.kind == "" }

// Values 返回 LIST 线号副本
func (e Effectivity) Values() []int {
	if e.kind != EffectivityList {
		return nil
	}
	out := make([]int, len(e.values))
	copy(out, e.values)
	return out
}

// Bounds 返回 RANGE 上下界
func (e Effectivity) Bounds() (from, to int, ok bool) {
	if e.kind != EffectivityRange {
		return 0, 0, false
	}
	return e.from, e.to, true
}

// Applies 判断线号是否适用
func (e Effectivity) Applies(lineNumber int) bool {
	switch e.kind {
	case EffectivityList:
		i := sort.SearchInts(e.values, lineNumber)
		return i < len(e.values) && e.values[i] == lineNumber
	case EffectivityRange:
		return e.from <= lineNumber && lineNumber <= e.to
	default:
		return false
	}
}

// Equal 比较两个有效性是否一致
func (e Effectivity) Equal(o Effectivity) bool {
	if e.kind != o.kind {
		return false
	}
	switch e.kind {
	case EffectivityList:
		if len(e.values) != len(o.values) {
			return false
		}
		for i := range e.values {
			if e.values[i] != o.values[i] {
				return false
			}
		}
		return true
	case EffectivityRange:
		return e.from == o.from && e.to == o.to
	default:
		return true
	}
}

func (e Effectivity) String() string {
	switch e.kind {
	case EffectivityList:
		parts := make([]string, len(e.values))
		for i, v := range e.values {
			parts[i] = strconv.Itoa(v)
		}
		return "LIST[" + strings.Join(parts, ",") + "]"
	case EffectivityRange:
		return fmt.Sprintf("RANGE[%d-%d]", e.from, e.to)
	default:
		return "NONE"
	}
}

type effectivityJSON struct {
	Type   EffectivityType `json:"type"`
	Values []int           `json:"values,omitempty"`
	From   *int            `json:"from,omitempty"`
	To     *int            `json:"to,omitempty"`
}

// MarshalJSON 零值输出 null
func (e Effectivity) MarshalJSON() ([]byte, error) {
	switch e.kind {
	case EffectivityList:
		return json.Marshal(effectivityJSON{Type: e.kind, Values: e.values})
	case EffectivityRange:
		from, to := e.from, e.to
		return json.Marshal(effectivityJSON{Type: e.kind, From: &from, To: &to})
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON 解析时执行与构造函数相同的校验
func (e *Effectivity) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*e = Effectivity{}
		return nil
	}
	var raw effectivityJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return apperr.Validation("effectivity: %v", err)
	}
	parsed, err := ParseEffectivity(raw.Type, raw.Values, raw.From, raw.To)
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// ParseEffectivity 从扁平字段构造有效性
//
// 类型为空且没有任何字段时返回零值；类型与字段不匹配时返回校验错误。
func ParseEffectivity(kind EffectivityType, values []int, from, to *int) (Effectivity, error) {
	switch EffectivityType(strings.ToUpper(string(kind))) {
	case EffectivityList:
		if from != nil || to != nil {
			return Effectivity{}, apperr.Validation("effectivity LIST must not carry from/to")
		}
		return NewListEffectivity(values)
	case EffectivityRange:
		if len(values) > 0 {
			return Effectivity{}, apperr.Validation("effectivity RANGE must not carry values")
		}
		if from == nil || to == nil {
			return Effectivity{}, apperr.Validation("effectivity RANGE requires from and to")
		}
		return NewRangeEffectivity(*from, *to)
	case "":
		if len(values) > 0 || from != nil || to != nil {
			return Effectivity{}, apperr.Validation("effectivity type is required")
		}
		return Effectivity{}, nil
	default:
		return Effectivity{}, apperr.Validation("unknown effectivity type %q", kind)
	}
}
