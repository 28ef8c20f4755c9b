package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfantasy/nimo-ipd/internal/apperr"
	"github.com/bitfantasy/nimo-ipd/internal/model/entity"
	"github.com/bitfantasy/nimo-ipd/internal/testutil"
)

func newRevision(t *testing.T, docID, label string, pns ...string) *entity.Revision {
	t.Helper()
	eff, err := entity.NewRangeEffectivity(1, 100)
	require.NoError(t, err)
	rev := &entity.Revision{
		ID:         entity.NewID(),
		DocumentID: docID,
		Revision:   label,
		Status:     entity.RevisionStatusDraft,
		PartCount:  len(pns),
	}
	for i, pn := range pns {
		rev.Parts = append(rev.Parts, entity.RevisionPart{
			ID:          entity.NewID(),
			Seq:         i,
			PartNumber:  pn,
			Effectivity: eff,
		})
	}
	return rev
}

func TestAppendBuildsChain(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repos := NewRepositories(db)
	ctx := context.Background()
	testutil.SeedDocument(t, db, "doc-1", "IPD-32-10", "A320")

	r1 := newRevision(t, "doc-1", "A", "P1", "P2")
	require.NoError(t, repos.Revision.Append(ctx, r1, ""))
	assert.Equal(t, 1, r1.Version)
	assert.Nil(t, r1.PreviousRevisionID)

	r2 := newRevision(t, "doc-1", "B", "P1")
	require.NoError(t, repos.Revision.Append(ctx, r2, r1.ID))
	assert.Equal(t, 2, r2.Version)
	require.NotNil(t, r2.PreviousRevisionID)
	assert.Equal(t, r1.ID, *r2.PreviousRevisionID)

	got1, err := repos.Revision.FindByID(ctx, r1.ID)
	require.NoError(t, err)
	require.NotNil(t, got1.NextRevisionID)
	assert.Equal(t, r2.ID, *got1.NextRevisionID)

	head, err := repos.Document.FindHead(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, r2.ID, head.TailRevisionID)
	assert.Equal(t, 2, head.Version)

	withParts, err := repos.Revision.FindWithParts(ctx, r1.ID)
	require.NoError(t, err)
	require.Len(t, withParts.Parts, 2)
	assert.Equal(t, "P1", withParts.Parts[0].PartNumber)
	assert.Equal(t, "RANGE[1-100]", withParts.Parts[0].Effectivity.String())
}

func TestAppendStaleTailConflictLeavesChainUnchanged(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repos := NewRepositories(db)
	ctx := context.Background()
	testutil.SeedDocument(t, db, "doc-1", "IPD-32-10", "A320")

	r1 := newRevision(t, "doc-1", "A", "P1")
	require.NoError(t, repos.Revision.Append(ctx, r1, ""))
	r2 := newRevision(t, "doc-1", "B", "P1")
	require.NoError(t, repos.Revision.Append(ctx, r2, r1.ID))

	// 基于过期链尾 r1 追加
	stale := newRevision(t, "doc-1", "C", "P9")
	err := repos.Revision.Append(ctx, stale, r1.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	revs, err := repos.Revision.ListByDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Len(t, revs, 2)
	head, err := repos.Document.FindHead(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, r2.ID, head.TailRevisionID)
	got1, err := repos.Revision.FindByID(ctx, r1.ID)
	require.NoError(t, err)
	assert.Equal(t, r2.ID, *got1.NextRevisionID)

	var partCount int64
	require.NoError(t, db.Model(&entity.RevisionPart{}).Where("revision_id = ?", stale.ID).Count(&partCount).Error)
	assert.Zero(t, partCount)
}

func TestAppendDuplicateLabel(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repos := NewRepositories(db)
	ctx := context.Background()
	testutil.SeedDocument(t, db, "doc-1", "IPD-32-10", "A320")

	r1 := newRevision(t, "doc-1", "A", "P1")
	require.NoError(t, repos.Revision.Append(ctx, r1, ""))
	dup := newRevision(t, "doc-1", "A", "P1")
	err := repos.Revision.Append(ctx, dup, r1.ID)
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	head, err := repos.Document.FindHead(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, r1.ID, head.TailRevisionID)
}

func TestAppendUnknownDocument(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repos := NewRepositories(db)
	err := repos.Revision.Append(context.Background(), newRevision(t, "missing", "A"), "")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestApproveSupersedesPrevious(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repos := NewRepositories(db)
	ctx := context.Background()
	testutil.SeedDocument(t, db, "doc-1", "IPD-32-10", "A320")

	r1 := newRevision(t, "doc-1", "A", "P1")
	require.NoError(t, repos.Revision.Append(ctx, r1, ""))
	r2 := newRevision(t, "doc-1", "B", "P2")
	require.NoError(t, repos.Revision.Append(ctx, r2, r1.ID))

	for _, id := range []string{r1.ID, r2.ID} {
		require.NoError(t, repos.Revision.Transition(ctx, id, entity.RevisionStatusDraft, entity.RevisionStatusUnderReview, nil))
	}

	superseded, err := repos.Revision.Approve(ctx, r1.ID, "admin", "ok")
	require.NoError(t, err)
	assert.Empty(t, superseded)

	superseded, err = repos.Revision.Approve(ctx, r2.ID, "admin", "ok")
	require.NoError(t, err)
	assert.Equal(t, r1.ID, superseded)

	got1, _ := repos.Revision.FindByID(ctx, r1.ID)
	assert.Equal(t, entity.RevisionStatusSuperseded, got1.Status)

	approved, err := repos.Revision.FindApproved(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, r2.ID, approved.ID)
	require.Len(t, approved.Parts, 1)
	assert.Equal(t, "P2", approved.Parts[0].PartNumber)
}

func TestApproveRequiresUnderReview(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repos := NewRepositories(db)
	ctx := context.Background()
	testutil.SeedDocument(t, db, "doc-1", "IPD-32-10", "A320")

	r1 := newRevision(t, "doc-1", "A", "P1")
	require.NoError(t, repos.Revision.Append(ctx, r1, ""))
	_, err := repos.Revision.Approve(ctx, r1.ID, "admin", "")
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))

	err = repos.Revision.Transition(ctx, r1.ID, entity.RevisionStatusUnderReview, entity.RevisionStatusApproved, nil)
	assert.True(t, errors.Is(err, apperr.ErrConflict))
}

func TestFindApprovedDetectsMultiple(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repos := NewRepositories(db)
	ctx := context.Background()
	testutil.SeedDocument(t, db, "doc-1", "IPD-32-10", "A320")

	r1 := newRevision(t, "doc-1", "A", "P1")
	require.NoError(t, repos.Revision.Append(ctx, r1, ""))
	r2 := newRevision(t, "doc-1", "B", "P1")
	require.NoError(t, repos.Revision.Append(ctx, r2, r1.ID))
	require.NoError(t, db.Model(&entity.Revision{}).Where("document_id = ?", "doc-1").
		Update("status", entity.RevisionStatusApproved).Error)

	_, err := repos.Revision.FindApproved(ctx, "doc-1")
	assert.True(t, errors.Is(err, apperr.ErrInvariantViolation))
}

func TestDriftOpenIfAbsentIsIdempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repos := NewRepositories(db)
	ctx := context.Background()

	mk := func() *entity.ConfigDriftRecord {
		return &entity.ConfigDriftRecord{
			ID:                 entity.NewID(),
			DocumentID:         "doc-1",
			LineNumber:         42,
			PartNumber:         "X-1",
			ExpectedRevisionID: "rev-1",
			ObservedValue:      "X-1",
			DetectedAt:         time.Now(),
			Status:             entity.DriftStatusOpen,
		}
	}

	first, created, err := repos.Drift.OpenIfAbsent(ctx, mk())
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := repos.Drift.OpenIfAbsent(ctx, mk())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	line := 42
	recs, total, err := repos.Drift.List(ctx, DriftFilter{LineNumber: &line, Status: entity.DriftStatusOpen}, 1, 20)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Len(t, recs, 1)

	// 解决后可以重新打开
	_, err = repos.Drift.Resolve(ctx, first.ID, "admin", "fixed")
	require.NoError(t, err)
	_, err = repos.Drift.Resolve(ctx, first.ID, "admin", "again")
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))

	third, created, err := repos.Drift.OpenIfAbsent(ctx, mk())
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestDecisionCloseOnce(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repos := NewRepositories(db)
	ctx := context.Background()

	e := &entity.DecisionLogEntry{
		ID:            entity.NewID(),
		UserID:        "u1",
		PartNumber:    "X-1",
		LineNumber:    42,
		Decision:      "use as is",
		TimestampOpen: time.Now(),
	}
	require.NoError(t, repos.Decision.Create(ctx, e))

	closed, err := repos.Decision.Close(ctx, e.ID, entity.DecisionNoAction, "", time.Now())
	require.NoError(t, err)
	assert.True(t, closed.IsClosed())

	_, err = repos.Decision.Close(ctx, e.ID, entity.DecisionRework, "", time.Now())
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))

	_, err = repos.Decision.Close(ctx, "missing", entity.DecisionRework, "", time.Now())
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestRiskUpdateCreatesAndAccumulates(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repos := NewRepositories(db)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := repos.Risk.Update(ctx, "X-1", func(p *entity.RiskProfile) {
			p.Accumulator += 10
			p.RiskScore = p.Accumulator
			p.DriftEvents++
			p.LastReviewed = time.Now()
		})
		require.NoError(t, err)
	}

	p, err := repos.Risk.FindByPartNumber(ctx, "X-1")
	require.NoError(t, err)
	assert.InDelta(t, 20, p.RiskScore, 1e-9)
	assert.Equal(t, 2, p.DriftEvents)

	_, err = repos.Risk.FindByPartNumber(ctx, "none")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}
