package engine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/bitfantasy/nimo-ipd/internal/model/entity"
)

// partFields 参与比较的字段，顺序即输出顺序
var partFields = []string{
	"nomenclature",
	"figure",
	"item",
	"supplier_code",
	"upa",
	"sb_reference",
	"effectivity",
	"is_sticker",
	"sticker.type",
	"sticker.material",
	"sticker.color",
	"sticker.width",
	"sticker.height",
	"sticker.thickness",
	"sticker.text",
	"sticker.font_family",
	"sticker.font_size",
	"sticker.font_style",
}

// Diff 按件号比较两个零件列表
//
// 结果只依赖两侧内容：Diff(a, b) 与 Diff(b, a) 的新增/删除互换，
// 修改项件号相同且每个字段的 Old/New 互换。
func Diff(oldParts, newParts []entity.RevisionPart) entity.ChangeSummary {
	oldGroups := groupByPartNumber(oldParts)
	newGroups := groupByPartNumber(newParts)
	oldKeys := PartNumberSet(oldParts)
	newKeys := PartNumberSet(newParts)

	summary := entity.ChangeSummary{
		Type:     entity.ChangeSummaryUpdate,
		Added:    sortedKeys(newKeys.Difference(oldKeys)),
		Removed:  sortedKeys(oldKeys.Difference(newKeys)),
		Modified: []entity.PartChange{},
		Stickers: entity.StickerChanges{Added: []string{}, Removed: []string{}, Modified: []string{}},
		Total:    len(newParts),
	}

	for _, pn := range summary.Added {
		if anySticker(newGroups[pn]) {
			summary.Stickers.Added = append(summary.Stickers.Added, pn)
		}
	}
	for _, pn := range summary.Removed {
		if anySticker(oldGroups[pn]) {
			summary.Stickers.Removed = append(summary.Stickers.Removed, pn)
		}
	}

	for _, pn := range sortedKeys(oldKeys.Intersect(newKeys)) {
		changes := compareGroups(oldGroups[pn], newGroups[pn])
		if len(changes) == 0 {
			continue
		}
		summary.Modified = append(summary.Modified, entity.PartChange{PartNumber: pn, Changes: changes})
		if touchesSticker(changes) {
			summary.Stickers.Modified = append(summary.Stickers.Modified, pn)
		}
	}
	return summary
}

// InitialSummary 链首版本的变更摘要，全部零件视为新增
func InitialSummary(parts []entity.RevisionPart) entity.ChangeSummary {
	summary := Diff(nil, parts)
	summary.Type = entity.ChangeSummaryInitial
	return summary
}

func groupByPartNumber(parts []entity.RevisionPart) map[string][]entity.RevisionPart {
	groups := make(map[string][]entity.RevisionPart, len(parts))
	for _, p := range parts {
		groups[p.PartNumber] = append(groups[p.PartNumber], p)
	}
	return groups
}

func sortedKeys(s mapset.Set[string]) []string {
	out := s.ToSlice()
	sort.Strings(out)
	return out
}

// compareGroups 同一件号下的条目按目录顺序两两比较，条目数不同记为 entries 变更
func compareGroups(oldEntries, newEntries []entity.RevisionPart) []entity.FieldChange {
	var changes []entity.FieldChange
	if len(oldEntries) != len(newEntries) {
		changes = append(changes, entity.FieldChange{
			Field: "entries",
			Old:   strconv.Itoa(len(oldEntries)),
			New:   strconv.Itoa(len(newEntries)),
		})
	}
	n := len(oldEntries)
	if len(newEntries) < n {
		n = len(newEntries)
	}
	multi := len(oldEntries) > 1 || len(newEntries) > 1
	for i := 0; i < n; i++ {
		prefix := ""
		if multi {
			prefix = fmt.Sprintf("entry[%d].", i)
		}
		oldVals := fieldValues(&oldEntries[i])
		newVals := fieldValues(&newEntries[i])
		for _, f := range partFields {
			if oldVals[f] != newVals[f] {
				changes = append(changes, entity.FieldChange{Field: prefix + f, Old: oldVals[f], New: newVals[f]})
			}
		}
	}
	return changes
}

func fieldValues(p *entity.RevisionPart) map[string]string {
	vals := map[string]string{
		"nomenclature":  p.Nomenclature,
		"figure":        p.Figure,
		"item":          p.Item,
		"supplier_code": p.SupplierCode,
		"upa":           intString(p.UPA),
		"sb_reference":  p.SBReference,
		"effectivity":   p.Effectivity.String(),
		"is_sticker":    strconv.FormatBool(p.Sticker != nil),
	}
	if s := p.Sticker; s != nil {
		vals["sticker.type"] = string(s.StickerType)
		vals["sticker.material"] = s.Material
		vals["sticker.color"] = s.Color
		vals["sticker.width"] = floatString(s.Width)
		vals["sticker.height"] = floatString(s.Height)
		vals["sticker.thickness"] = floatString(s.Thickness)
		vals["sticker.text"] = s.Text
		vals["sticker.font_family"] = s.FontFamily
		vals["sticker.font_size"] = floatString(s.FontSize)
		vals["sticker.font_style"] = s.FontStyle
	}
	return vals
}

func anySticker(parts []entity.RevisionPart) bool {
	for _, p := range parts {
		if p.Sticker != nil {
			return true
		}
	}
	return false
}

func touchesSticker(changes []entity.FieldChange) bool {
	for _, c := range changes {
		if strings.Contains(c.Field, "sticker") {
			return true
		}
	}
	return false
}

func intString(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func floatString(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
