package engine

import (
	"github.com/bitfantasy/nimo-ipd/internal/model/entity"
)

// LineageEntry 件号在某个版本中的状态
type LineageEntry struct {
	RevisionID  string                `json:"revision_id"`
	Revision    string                `json:"revision"`
	Version     int                   `json:"version"`
	Status      entity.RevisionStatus `json:"status"`
	Present     bool                  `json:"present"`
	ChangeType  string                `json:"change_type"` // ADDED / REMOVED / MODIFIED / UNCHANGED / ABSENT
	Effectivity []string              `json:"effectivity,omitempty"`
}

const (
	LineageAdded     = "ADDED"
	LineageRemoved   = "REMOVED"
	LineageModified  = "MODIFIED"
	LineageUnchanged = "UNCHANGED"
	LineageAbsent    = "ABSENT"
)

// Lineage 沿 root → tail 顺序追踪一个件号，chain 中的版本需要已加载零件
func Lineage(chain []*entity.Revision, partNumber string) []LineageEntry {
	out := make([]LineageEntry, 0, len(chain))
	var prev []entity.RevisionPart
	prevPresent := false
	for _, rev := range chain {
		var cur []entity.RevisionPart
		for _, p := range rev.Parts {
			if p.PartNumber == partNumber {
				cur = append(cur, p)
			}
		}
		entry := LineageEntry{
			RevisionID: rev.ID,
			Revision:   rev.Revision,
			Version:    rev.Version,
			Status:     rev.Status,
			Present:    len(cur) > 0,
		}
		for _, p := range cur {
			entry.Effectivity = append(entry.Effectivity, p.Effectivity.String())
		}
		switch {
		case entry.Present && !prevPresent:
			entry.ChangeType = LineageAdded
		case !entry.Present && prevPresent:
			entry.ChangeType = LineageRemoved
		case !entry.Present:
			entry.ChangeType = LineageAbsent
		case len(compareGroups(prev, cur)) > 0:
			entry.ChangeType = LineageModified
		default:
			entry.ChangeType = LineageUnchanged
		}
		out = append(out, entry)
		prev, prevPresent = cur, entry.Present
	}
	return out
}
