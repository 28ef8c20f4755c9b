package engine

import (
	"fmt"
	"sort"

	"github.com/bitfantasy/nimo-ipd/internal/apperr"
	"github.com/bitfantasy/nimo-ipd/internal/model/entity"
)

// Arena 单个文档的版本，按ID寻址
type Arena map[string]*entity.Revision

// NewArena 由版本列表构建 Arena
func NewArena(revisions []entity.Revision) Arena {
	arena := make(Arena, len(revisions))
	for i := range revisions {
		arena[revisions[i].ID] = &revisions[i]
	}
	return arena
}

// Tail 返回链尾；没有或存在多个链尾时返回完整性错误
func (a Arena) Tail() (*entity.Revision, error) {
	var tail *entity.Revision
	for _, r := range a {
		if r.NextRevisionID != nil {
			continue
		}
		if tail != nil {
			return nil, apperr.Invariant("multiple tails: %s, %s", tail.ID, r.ID)
		}
		tail = r
	}
	if tail == nil && len(a) > 0 {
		return nil, apperr.Invariant("no tail among %d revisions", len(a))
	}
	return tail, nil
}

// TraverseToRoot 从指定版本沿 previous 回溯到链首，返回顺序为 start → root
//
// 步数不超过 start.Version；遇到环、悬空引用或跨文档引用返回 ErrInvariantViolation。
func TraverseToRoot(a Arena, startID string) ([]*entity.Revision, error) {
	start, ok := a[startID]
	if !ok {
		return nil, apperr.NotFound("revision %s", startID)
	}
	out := []*entity.Revision{start}
	seen := map[string]struct{}{start.ID: {}}
	cur := start
	for cur.PreviousRevisionID != nil {
		if len(out) >= start.Version {
			return nil, apperr.Invariant("revision %s: chain exceeds version %d", start.ID, start.Version)
		}
		prevID := *cur.PreviousRevisionID
		if _, dup := seen[prevID]; dup {
			return nil, apperr.Invariant("revision %s: cycle at %s", start.ID, prevID)
		}
		prev, ok := a[prevID]
		if !ok {
			return nil, apperr.Invariant("revision %s: dangling previous reference %s", cur.ID, prevID)
		}
		if prev.DocumentID != start.DocumentID {
			return nil, apperr.Invariant("revision %s: previous %s belongs to document %s", cur.ID, prevID, prev.DocumentID)
		}
		seen[prevID] = struct{}{}
		out = append(out, prev)
		cur = prev
	}
	return out, nil
}

// Ordered 返回 root → tail 顺序的完整链
func Ordered(a Arena) ([]*entity.Revision, error) {
	if len(a) == 0 {
		return nil, nil
	}
	tail, err := a.Tail()
	if err != nil {
		return nil, err
	}
	path, err := TraverseToRoot(a, tail.ID)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

// Verify 检查链的一致性，返回问题列表（已排序），无问题返回空
func Verify(a Arena, head *entity.ChainHead) []string {
	var issues []string
	add := func(format string, args ...interface{}) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	var tails, roots, approved []string
	for id, r := range a {
		if r.NextRevisionID == nil {
			tails = append(tails, id)
		}
		if r.PreviousRevisionID == nil {
			roots = append(roots, id)
		}
		if r.Status == entity.RevisionStatusApproved {
			approved = append(approved, id)
		}
		if r.PreviousRevisionID != nil {
			prev, ok := a[*r.PreviousRevisionID]
			switch {
			case !ok:
				add("revision %s: previous %s not found", id, *r.PreviousRevisionID)
			case prev.NextRevisionID == nil || *prev.NextRevisionID != id:
				add("revision %s: previous %s does not link forward to it", id, prev.ID)
			case prev.Version != r.Version-1:
				add("revision %s: version %d does not follow previous version %d", id, r.Version, prev.Version)
			}
		} else if r.Version != 1 {
			add("revision %s: root has version %d", id, r.Version)
		}
		if r.NextRevisionID != nil {
			next, ok := a[*r.NextRevisionID]
			switch {
			case !ok:
				add("revision %s: next %s not found", id, *r.NextRevisionID)
			case next.PreviousRevisionID == nil || *next.PreviousRevisionID != id:
				add("revision %s: next %s does not link back to it", id, next.ID)
			}
		}
	}

	if len(a) > 0 {
		if len(tails) != 1 {
			sort.Strings(tails)
			add("expected exactly one tail, found %d %v", len(tails), tails)
		}
		if len(roots) != 1 {
			sort.Strings(roots)
			add("expected exactly one root, found %d %v", len(roots), roots)
		}
	}
	if len(approved) > 1 {
		sort.Strings(approved)
		add("multiple approved revisions %v", approved)
	}

	if head != nil {
		switch {
		case len(a) == 0 && head.TailRevisionID != "":
			add("chain head points to %s but document has no revisions", head.TailRevisionID)
		case len(a) > 0 && len(tails) == 1 && head.TailRevisionID != tails[0]:
			add("chain head points to %s, actual tail is %s", head.TailRevisionID, tails[0])
		}
		if head.Version != len(a) {
			add("chain head version %d, document has %d revisions", head.Version, len(a))
		}
	}

	if len(tails) == 1 {
		if path, err := TraverseToRoot(a, tails[0]); err != nil {
			add("traverse from tail: %v", err)
		} else if len(path) != len(a) {
			add("%d revisions unreachable from tail", len(a)-len(path))
		}
	}

	sort.Strings(issues)
	return issues
}

var transitions = map[entity.RevisionStatus][]entity.RevisionStatus{
	entity.RevisionStatusDraft:       {entity.RevisionStatusUnderReview, entity.RevisionStatusRejected},
	entity.RevisionStatusUnderReview: {entity.RevisionStatusApproved, entity.RevisionStatusRejected},
	entity.RevisionStatusApproved:    {entity.RevisionStatusSuperseded},
}

// CanTransition 状态机校验
func CanTransition(from, to entity.RevisionStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
