package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfantasy/nimo-ipd/internal/apperr"
	"github.com/bitfantasy/nimo-ipd/internal/events"
	"github.com/bitfantasy/nimo-ipd/internal/model/entity"
)

func listEff(t *testing.T, values ...int) entity.Effectivity {
	t.Helper()
	e, err := entity.NewListEffectivity(values)
	require.NoError(t, err)
	return e
}

func rangeEff(t *testing.T, from, to int) entity.Effectivity {
	t.Helper()
	e, err := entity.NewRangeEffectivity(from, to)
	require.NoError(t, err)
	return e
}

func part(pn string, eff entity.Effectivity) entity.RevisionPart {
	return entity.RevisionPart{PartNumber: pn, Nomenclature: "BRACKET " + pn, Effectivity: eff}
}

func TestRangeConstructionRejectsInverted(t *testing.T) {
	_, err := entity.NewRangeEffectivity(10, 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = entity.NewListEffectivity(nil)
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestResolveListAndRange(t *testing.T) {
	parts := []entity.RevisionPart{
		part("A-1", listEff(t, 10, 1, 5)),
		part("B-2", rangeEff(t, 1, 999)),
		part("C-3", entity.Effectivity{}),
	}

	got := Resolve(parts, 5)
	require.Len(t, got, 2)
	assert.Equal(t, "A-1", got[0].PartNumber)
	assert.Equal(t, "B-2", got[1].PartNumber)

	got = Resolve(parts, 3)
	require.Len(t, got, 1)
	assert.Equal(t, "B-2", got[0].PartNumber)

	got = Resolve(parts, 500)
	require.Len(t, got, 1)
	assert.Equal(t, "B-2", got[0].PartNumber)

	assert.Empty(t, Resolve(parts, 1000))
}

func TestResolveNeverIncludesPartsWithoutEffectivity(t *testing.T) {
	parts := []entity.RevisionPart{part("C-3", entity.Effectivity{})}
	for _, line := range []int{-1, 0, 1, 500, 1 << 30} {
		assert.Empty(t, Resolve(parts, line), "line %d", line)
	}
}

func TestResolveIsPure(t *testing.T) {
	parts := []entity.RevisionPart{
		part("A-1", listEff(t, 1, 5, 10)),
		part("B-2", rangeEff(t, 4, 6)),
	}
	first := Resolve(parts, 5)
	second := Resolve(parts, 5)
	assert.Equal(t, first, second)
	assert.Equal(t, "A-1", parts[0].PartNumber)
	assert.Len(t, parts, 2)
}

func TestResolveKeepsDuplicatePartNumbers(t *testing.T) {
	parts := []entity.RevisionPart{
		part("A-1", rangeEff(t, 1, 10)),
		part("A-1", rangeEff(t, 5, 20)),
		part("A-1", rangeEff(t, 30, 40)),
	}
	got := Resolve(parts, 7)
	assert.Len(t, got, 2)
}

func TestSplitCapsNonApplicable(t *testing.T) {
	parts := make([]entity.RevisionPart, 0, 80)
	parts = append(parts, part("HIT", listEff(t, 7)))
	for i := 0; i < 79; i++ {
		parts = append(parts, part("MISS", listEff(t, 8)))
	}
	res := Split(parts, 7, NonApplicableLimit)
	assert.Equal(t, 80, res.TotalParts)
	assert.Len(t, res.Applicable, 1)
	assert.Len(t, res.NonApplicable, NonApplicableLimit)
	assert.Equal(t, 79, res.NonApplicableCount)
}

func TestDiffMirror(t *testing.T) {
	a := part("A", listEff(t, 1))
	b := part("B", rangeEff(t, 1, 10))
	bChanged := b
	bChanged.Nomenclature = "BRACKET B REV"
	c := part("C", listEff(t, 2))

	forward := Diff([]entity.RevisionPart{a, b}, []entity.RevisionPart{bChanged, c})
	backward := Diff([]entity.RevisionPart{bChanged, c}, []entity.RevisionPart{a, b})

	assert.Equal(t, []string{"C"}, forward.Added)
	assert.Equal(t, []string{"A"}, forward.Removed)
	require.Len(t, forward.Modified, 1)
	assert.Equal(t, "B", forward.Modified[0].PartNumber)

	assert.Equal(t, forward.Added, backward.Removed)
	assert.Equal(t, forward.Removed, backward.Added)
	require.Len(t, backward.Modified, 1)
	require.Len(t, backward.Modified[0].Changes, len(forward.Modified[0].Changes))
	for i, fc := range forward.Modified[0].Changes {
		bc := backward.Modified[0].Changes[i]
		assert.Equal(t, fc.Field, bc.Field)
		assert.Equal(t, fc.Old, bc.New)
		assert.Equal(t, fc.New, bc.Old)
	}
}

func TestDiffUnchangedExcluded(t *testing.T) {
	parts := []entity.RevisionPart{part("A", listEff(t, 1, 2))}
	s := Diff(parts, parts)
	assert.Empty(t, s.Added)
	assert.Empty(t, s.Removed)
	assert.Empty(t, s.Modified)
}

func TestDiffStickerFields(t *testing.T) {
	w1, w2 := 10.0, 12.5
	oldPart := part("S-1", listEff(t, 1))
	oldPart.Sticker = &entity.PartSticker{StickerType: entity.StickerPlacard, Material: "VINYL", Width: &w1}
	newPart := oldPart
	newPart.Sticker = &entity.PartSticker{StickerType: entity.StickerPlacard, Material: "VINYL", Width: &w2}
	plain := part("P-1", listEff(t, 1))
	becameSticker := plain
	becameSticker.Sticker = &entity.PartSticker{StickerType: entity.StickerLabel}

	s := Diff([]entity.RevisionPart{oldPart, plain}, []entity.RevisionPart{newPart, becameSticker})
	require.Len(t, s.Modified, 2)
	assert.Equal(t, []string{"P-1", "S-1"}, s.Stickers.Modified)

	byPN := map[string][]entity.FieldChange{}
	for _, m := range s.Modified {
		byPN[m.PartNumber] = m.Changes
	}
	assert.Equal(t, []entity.FieldChange{{Field: "sticker.width", Old: "10", New: "12.5"}}, byPN["S-1"])
	assert.Contains(t, byPN["P-1"], entity.FieldChange{Field: "is_sticker", Old: "false", New: "true"})
	assert.Contains(t, byPN["P-1"], entity.FieldChange{Field: "sticker.type", Old: "", New: "LABEL"})
}

func TestDiffDuplicateEntryCount(t *testing.T) {
	one := []entity.RevisionPart{part("A", listEff(t, 1))}
	two := []entity.RevisionPart{part("A", listEff(t, 1)), part("A", listEff(t, 2))}
	s := Diff(one, two)
	require.Len(t, s.Modified, 1)
	assert.Equal(t, entity.FieldChange{Field: "entries", Old: "1", New: "2"}, s.Modified[0].Changes[0])
}

func TestInitialSummary(t *testing.T) {
	s := InitialSummary([]entity.RevisionPart{part("B", listEff(t, 1)), part("A", listEff(t, 1))})
	assert.Equal(t, entity.ChangeSummaryInitial, s.Type)
	assert.Equal(t, []string{"A", "B"}, s.Added)
	assert.Equal(t, 2, s.Total)
}

func strPtr(s string) *string { return &s }

// buildChain 构造 n 个版本的合法链：r1 ← r2 ← ... ← rn
func buildChain(n int) []entity.Revision {
	revs := make([]entity.Revision, n)
	for i := 0; i < n; i++ {
		revs[i] = entity.Revision{
			ID:         "r" + string(rune('1'+i)),
			DocumentID: "doc",
			Revision:   string(rune('A' + i)),
			Version:    i + 1,
			Status:     entity.RevisionStatusDraft,
		}
	}
	for i := 0; i < n; i++ {
		if i > 0 {
			revs[i].PreviousRevisionID = strPtr(revs[i-1].ID)
		}
		if i < n-1 {
			revs[i].NextRevisionID = strPtr(revs[i+1].ID)
		}
	}
	return revs
}

func TestTraverseToRoot(t *testing.T) {
	arena := NewArena(buildChain(5))
	path, err := TraverseToRoot(arena, "r5")
	require.NoError(t, err)
	require.Len(t, path, 5)
	assert.Equal(t, "r5", path[0].ID)
	assert.Equal(t, "r1", path[4].ID)

	ordered, err := Ordered(arena)
	require.NoError(t, err)
	assert.Equal(t, "r1", ordered[0].ID)
	assert.Equal(t, "r5", ordered[4].ID)
}

func TestTraverseDetectsCycle(t *testing.T) {
	revs := buildChain(3)
	// r1 → r3 制造环
	revs[0].PreviousRevisionID = strPtr("r3")
	arena := NewArena(revs)
	_, err := TraverseToRoot(arena, "r3")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrInvariantViolation))
}

func TestTraverseDetectsCycleWithCorruptVersion(t *testing.T) {
	revs := buildChain(2)
	revs[0].PreviousRevisionID = strPtr("r2")
	revs[1].Version = 100
	_, err := TraverseToRoot(NewArena(revs), "r2")
	assert.True(t, errors.Is(err, apperr.ErrInvariantViolation))
}

func TestTraverseDetectsDanglingReference(t *testing.T) {
	revs := buildChain(3)
	revs[1].PreviousRevisionID = strPtr("missing")
	_, err := TraverseToRoot(NewArena(revs), "r3")
	assert.True(t, errors.Is(err, apperr.ErrInvariantViolation))

	_, err = TraverseToRoot(NewArena(revs), "nope")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestVerifyHealthyChain(t *testing.T) {
	revs := buildChain(3)
	head := &entity.ChainHead{DocumentID: "doc", TailRevisionID: "r3", Version: 3}
	assert.Empty(t, Verify(NewArena(revs), head))
}

func TestVerifyReportsBrokenLinks(t *testing.T) {
	revs := buildChain(3)
	revs[0].NextRevisionID = nil
	revs[0].Status = entity.RevisionStatusApproved
	revs[2].Status = entity.RevisionStatusApproved
	head := &entity.ChainHead{DocumentID: "doc", TailRevisionID: "r2", Version: 3}

	issues := Verify(NewArena(revs), head)
	assert.NotEmpty(t, issues)
	joined := ""
	for _, i := range issues {
		joined += i + "\n"
	}
	assert.Contains(t, joined, "does not link forward")
	assert.Contains(t, joined, "multiple approved")
	assert.Contains(t, joined, "exactly one tail")
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(entity.RevisionStatusDraft, entity.RevisionStatusUnderReview))
	assert.True(t, CanTransition(entity.RevisionStatusUnderReview, entity.RevisionStatusApproved))
	assert.True(t, CanTransition(entity.RevisionStatusApproved, entity.RevisionStatusSuperseded))
	assert.True(t, CanTransition(entity.RevisionStatusDraft, entity.RevisionStatusRejected))
	assert.False(t, CanTransition(entity.RevisionStatusApproved, entity.RevisionStatusRejected))
	assert.False(t, CanTransition(entity.RevisionStatusRejected, entity.RevisionStatusDraft))
	assert.False(t, CanTransition(entity.RevisionStatusDraft, entity.RevisionStatusApproved))
	assert.False(t, CanTransition(entity.RevisionStatusSuperseded, entity.RevisionStatusApproved))
}

func TestLineage(t *testing.T) {
	revs := buildChain(4)
	revs[0].Parts = []entity.RevisionPart{part("X", listEff(t, 1))}
	revs[1].Parts = []entity.RevisionPart{part("X", listEff(t, 1))}
	revs[2].Parts = []entity.RevisionPart{part("X", listEff(t, 1, 2))}
	revs[3].Parts = nil
	chain := []*entity.Revision{&revs[0], &revs[1], &revs[2], &revs[3]}

	got := Lineage(chain, "X")
	require.Len(t, got, 4)
	assert.Equal(t, LineageAdded, got[0].ChangeType)
	assert.Equal(t, LineageUnchanged, got[1].ChangeType)
	assert.Equal(t, LineageModified, got[2].ChangeType)
	assert.Equal(t, LineageRemoved, got[3].ChangeType)
	assert.False(t, got[3].Present)
}

func TestRiskDriftNeverDecreasesScore(t *testing.T) {
	s, err := NewScorer(DefaultRiskConfig())
	require.NoError(t, err)

	p := &entity.RiskProfile{PartNumber: "A"}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 20; i++ {
		at := start.Add(time.Duration(i) * 36 * time.Hour)
		before := s.ScoreAt(p, at)
		s.Apply(p, events.TypeDriftOpened, at)
		assert.GreaterOrEqual(t, p.RiskScore, before)
		assert.LessOrEqual(t, p.RiskScore, MaxRiskScore)
	}
	assert.Equal(t, 20, p.DriftEvents)
	assert.Equal(t, entity.VolatilityHigh, p.VolatilityIndex)
}

func TestRiskDecay(t *testing.T) {
	cfg := DefaultRiskConfig()
	cfg.HalfLife = 24 * time.Hour
	s, err := NewScorer(cfg)
	require.NoError(t, err)

	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := &entity.RiskProfile{PartNumber: "A"}
	s.Apply(p, events.TypeDriftOpened, at)
	assert.InDelta(t, 25, p.RiskScore, 1e-9)
	assert.InDelta(t, 12.5, s.ScoreAt(p, at.Add(24*time.Hour)), 1e-9)

	// 早于上次事件的乱序事件不衰减
	s.Apply(p, events.TypeRevisionChange, at.Add(-time.Hour))
	assert.InDelta(t, 35, p.RiskScore, 1e-9)
	assert.Equal(t, at, *p.LastEventAt)
	assert.Equal(t, at, p.LastReviewed, "late event must not move last_reviewed backwards")
}

func TestRiskBuckets(t *testing.T) {
	s, err := NewScorer(DefaultRiskConfig())
	require.NoError(t, err)
	assert.Equal(t, entity.VolatilityLow, s.Bucket(29.99))
	assert.Equal(t, entity.VolatilityMedium, s.Bucket(30))
	assert.Equal(t, entity.VolatilityMedium, s.Bucket(70))
	assert.Equal(t, entity.VolatilityHigh, s.Bucket(70.01))
}

func TestRiskConfigValidate(t *testing.T) {
	cfg := DefaultRiskConfig()
	cfg.LowThreshold, cfg.HighThreshold = 80, 20
	_, err := NewScorer(cfg)
	assert.Error(t, err)

	cfg = DefaultRiskConfig()
	cfg.HighThreshold = 120
	assert.Error(t, cfg.Validate())

	cfg = DefaultRiskConfig()
	cfg.HalfLife = 0
	assert.Error(t, cfg.Validate())
}
