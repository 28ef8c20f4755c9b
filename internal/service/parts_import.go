package service

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	"github.com/bitfantasy/nimo-ipd/internal/apperr"
)

// 导入表头别名，导出文件的中文表头同样可以识别
var partColumnAliases = map[string]string{
	"part_number":   "part_number",
	"件号":            "part_number",
	"nomenclature":  "nomenclature",
	"名称":            "nomenclature",
	"figure":        "figure",
	"图号":            "figure",
	"item":          "item",
	"项号":            "item",
	"supplier_code": "supplier_code",
	"供应商代码":         "supplier_code",
	"upa":           "upa",
	"单机用量":          "upa",
	"sb_reference":  "sb_reference",
	"服务通告":          "sb_reference",
	"effectivity":   "effectivity",
	"有效性":           "effectivity",
	"sticker_type":  "sticker_type",
	"贴纸类型":          "sticker_type",
	"material":      "material",
	"color":         "color",
	"text":          "text",
}

// ParseEffectivityText 解析文本形式的有效性
//
// 支持 "RANGE[1-10]"、"1-10"、"LIST[1,3,5]"、"1,3,5"；空串和 NONE 表示未声明。
func ParseEffectivityText(s string) (*EffectivityInput, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" || s == "NONE" {
		return nil, nil
	}
	var kind string
	switch {
	case strings.HasPrefix(s, "RANGE[") && strings.HasSuffix(s, "]"):
		kind, s = "RANGE", s[len("RANGE["):len(s)-1]
	case strings.HasPrefix(s, "LIST[") && strings.HasSuffix(s, "]"):
		kind, s = "LIST", s[len("LIST["):len(s)-1]
	case strings.Contains(s, "-"):
		kind = "RANGE"
	default:
		kind = "LIST"
	}

	if kind == "RANGE" {
		lo, hi, ok := strings.Cut(s, "-")
		if !ok {
			return nil, apperr.Validation("effectivity %q: range needs from-to", s)
		}
		from, err1 := strconv.Atoi(strings.TrimSpace(lo))
		to, err2 := strconv.Atoi(strings.TrimSpace(hi))
		if err1 != nil || err2 != nil {
			return nil, apperr.Validation("effectivity %q: bad range bounds", s)
		}
		return &EffectivityInput{Type: kind, From: &from, To: &to}, nil
	}

	var values []int
	for _, f := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' || r == ' ' }) {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, apperr.Validation("effectivity %q: bad line number %q", s, f)
		}
		values = append(values, v)
	}
	return &EffectivityInput{Type: kind, Values: values}, nil
}

// partsFromRows 第一行为表头，按列名映射
func partsFromRows(rows [][]string) ([]PartInput, error) {
	if len(rows) == 0 {
		return nil, apperr.Validation("parts sheet is empty")
	}
	cols := map[string]int{}
	for i, h := range rows[0] {
		key := strings.ToLower(strings.TrimSpace(h))
		if name, ok := partColumnAliases[key]; ok {
			cols[name] = i
		} else if name, ok := partColumnAliases[strings.TrimSpace(h)]; ok {
			cols[name] = i
		}
	}
	if _, ok := cols["part_number"]; !ok {
		return nil, apperr.Validation("parts sheet has no part_number column")
	}

	parts := make([]PartInput, 0, len(rows)-1)
	for n, row := range rows[1:] {
		get := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}
		if get("part_number") == "" {
			continue
		}

		in := PartInput{
			PartNumber:   get("part_number"),
			Nomenclature: get("nomenclature"),
			Figure:       get("figure"),
			Item:         get("item"),
			SupplierCode: get("supplier_code"),
			SBReference:  get("sb_reference"),
		}
		if v := get("upa"); v != "" {
			upa, err := strconv.Atoi(v)
			if err != nil {
				return nil, apperr.Validation("row %d: bad upa %q", n+2, v)
			}
			in.UPA = &upa
		}
		eff, err := ParseEffectivityText(get("effectivity"))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", n+2, err)
		}
		in.Effectivity = eff
		if st := get("sticker_type"); st != "" {
			in.IsSticker = true
			in.Sticker = &StickerInput{
				StickerType: st,
				Material:    get("material"),
				Color:       get("color"),
				Text:        get("text"),
			}
		}
		parts = append(parts, in)
	}
	return parts, nil
}

// ParsePartsExcel 读取第一个工作表的零件清单
func ParsePartsExcel(f *excelize.File) ([]PartInput, error) {
	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		return nil, fmt.Errorf("read excel: %w", err)
	}
	return partsFromRows(rows)
}

// ParsePartsDelimited 读取 CSV/TSV 零件清单，gbk 为 true 时先转 UTF-8
func ParsePartsDelimited(r io.Reader, comma rune, gbk bool) ([]PartInput, error) {
	if gbk {
		r = transform.NewReader(r, simplifiedchinese.GBK.NewDecoder())
	}
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, apperr.Validation("read delimited parts: %v", err)
	}
	return partsFromRows(rows)
}
