package entity

import (
	"strings"
	"time"

	"golang.org/x/text/width"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// StickerType 贴纸类型
type StickerType string

const (
	StickerPlacard StickerType = "PLACARD"
	StickerLabel   StickerType = "LABEL"
	StickerStencil StickerType = "STENCIL"
	StickerDecal   StickerType = "DECAL"
	StickerMarking StickerType = "MARKING"
)

// Valid 是否为已知贴纸类型
func (t StickerType) Valid() bool {
	switch t {
	case StickerPlacard, StickerLabel, StickerStencil, StickerDecal, StickerMarking:
		return true
	}
	return false
}

// RevisionPart 版本快照中的零件行（IPD 零件与图纸明细统一建模）
//
// 有效性在库中以扁平列存储以便索引，读写时通过钩子与 Effectivity 同步。
type RevisionPart struct {
	ID           string `json:"id" gorm:"primaryKey;size:32"`
	RevisionID   string `json:"revision_id" gorm:"size:32;not null;index"`
	Seq          int    `json:"seq" gorm:"not null"` // catalog order
	PartNumber   string `json:"part_number" gorm:"size:64;not null;index"`
	Nomenclature string `json:"nomenclature" gorm:"size:256"`
	Figure       string `json:"figure,omitempty" gorm:"size:32"`
	Item         string `json:"item,omitempty" gorm:"size:32"`
	SupplierCode string `json:"supplier_code,omitempty" gorm:"size:32"`
	UPA          *int   `json:"upa,omitempty"`
	SBReference  string `json:"sb_reference,omitempty" gorm:"size:64"`

	EffectivityType   EffectivityType          `json:"-" gorm:"size:8;index"`
	EffectivityValues datatypes.JSONSlice[int] `json:"-"`
	EffectivityFrom   *int                     `json:"-" gorm:"index:idx_revision_parts_eff_range,priority:1"`
	EffectivityTo     *int                     `json:"-" gorm:"index:idx_revision_parts_eff_range,priority:2"`
	Effectivity       Effectivity              `json:"effectivity" gorm:"-"`

	IsSticker bool         `json:"is_sticker" gorm:"not null;default:false;index"`
	Sticker   *PartSticker `json:"sticker,omitempty" gorm:"foreignKey:PartID"`

	CreatedAt time.Time `json:"created_at"`
}

func (RevisionPart) TableName() string {
	return "revision_parts"
}

// BeforeSave 把 Effectivity 展开为可索引的列
func (p *RevisionPart) BeforeSave(tx *gorm.DB) error {
	p.syncEffectivityColumns()
	p.IsSticker = p.Sticker != nil
	return nil
}

// AfterFind 从列还原 Effectivity
func (p *RevisionPart) AfterFind(tx *gorm.DB) error {
	eff, err := ParseEffectivity(p.EffectivityType, p.EffectivityValues, p.EffectivityFrom, p.EffectivityTo)
	if err != nil {
		return err
	}
	p.Effectivity = eff
	return nil
}

func (p *RevisionPart) syncEffectivityColumns() {
	p.EffectivityType = p.Effectivity.Type()
	p.EffectivityValues = nil
	p.EffectivityFrom, p.EffectivityTo = nil, nil
	switch p.Effectivity.Type() {
	case EffectivityList:
		p.EffectivityValues = p.Effectivity.Values()
	case EffectivityRange:
		from, to, _ := p.Effectivity.Bounds()
		p.EffectivityFrom, p.EffectivityTo = &from, &to
	}
}

// PartSticker 贴纸子记录，仅在零件为贴纸时存在
type PartSticker struct {
	ID          string      `json:"-" gorm:"primaryKey;size:32"`
	PartID      string      `json:"-" gorm:"size:32;not null;uniqueIndex"`
	StickerType StickerType `json:"sticker_type" gorm:"size:16;not null;index"`
	Material    string      `json:"material,omitempty" gorm:"size:64;index"`
	Color       string      `json:"color,omitempty" gorm:"size:32;index"`
	Width       *float64    `json:"width,omitempty"`
	Height      *float64    `json:"height,omitempty"`
	Thickness   *float64    `json:"thickness,omitempty"`
	Text        string      `json:"text,omitempty" gorm:"type:text"`
	FontFamily  string      `json:"font_family,omitempty" gorm:"size:64"`
	FontSize    *float64    `json:"font_size,omitempty"`
	FontStyle   string      `json:"font_style,omitempty" gorm:"size:32"`
}

func (PartSticker) TableName() string {
	return "revision_part_stickers"
}

// NormalizePartNumber 规范化件号：去空白、全角转半角、大写
func NormalizePartNumber(pn string) string {
	return strings.ToUpper(strings.TrimSpace(width.Narrow.String(pn)))
}
