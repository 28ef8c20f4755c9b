// Package engine 版本链、有效性解析、差异比较与风险评分的纯计算部分，不做任何 IO
package engine

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/bitfantasy/nimo-ipd/internal/model/entity"
)

// NonApplicableLimit 解析结果中不适用零件的返回上限
const NonApplicableLimit = 50

// Resolve 返回对指定生产线号有效的零件，保持目录顺序
//
// 未声明有效性的零件永不适用。重复件号逐条独立判断，不去重。
func Resolve(parts []entity.RevisionPart, lineNumber int) []entity.RevisionPart {
	out := make([]entity.RevisionPart, 0, len(parts))
	for _, p := range parts {
		if p.Effectivity.Applies(lineNumber) {
			out = append(out, p)
		}
	}
	return out
}

// Resolution 解析结果
type Resolution struct {
	LineNumber    int                   `json:"line_number"`
	TotalParts    int                   `json:"total_parts"`
	Applicable    []entity.RevisionPart `json:"applicable"`
	NonApplicable []entity.RevisionPart `json:"non_applicable"`
	// NonApplicableCount 截断前的不适用数量
	NonApplicableCount int `json:"non_applicable_count"`
}

// Split 区分适用与不适用零件，不适用部分最多保留 limit 条（limit<=0 表示不截断）
func Split(parts []entity.RevisionPart, lineNumber, limit int) Resolution {
	res := Resolution{
		LineNumber:    lineNumber,
		TotalParts:    len(parts),
		Applicable:    make([]entity.RevisionPart, 0, len(parts)),
		NonApplicable: make([]entity.RevisionPart, 0),
	}
	for _, p := range parts {
		if p.Effectivity.Applies(lineNumber) {
			res.Applicable = append(res.Applicable, p)
			continue
		}
		res.NonApplicableCount++
		if limit <= 0 || len(res.NonApplicable) < limit {
			res.NonApplicable = append(res.NonApplicable, p)
		}
	}
	return res
}

// PartNumberSet 返回零件集合中出现的件号
func PartNumberSet(parts []entity.RevisionPart) mapset.Set[string] {
	set := mapset.NewThreadUnsafeSetWithSize[string](len(parts))
	for _, p := range parts {
		set.Add(p.PartNumber)
	}
	return set
}
