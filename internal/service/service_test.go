package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bitfantasy/nimo-ipd/internal/apperr"
	"github.com/bitfantasy/nimo-ipd/internal/engine"
	"github.com/bitfantasy/nimo-ipd/internal/events"
	"github.com/bitfantasy/nimo-ipd/internal/model/entity"
	"github.com/bitfantasy/nimo-ipd/internal/repository"
	"github.com/bitfantasy/nimo-ipd/internal/testutil"
)

type memArchiver struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    error
}

func (a *memArchiver) Put(_ context.Context, key string, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail != nil {
		return a.fail
	}
	if a.objects == nil {
		a.objects = map[string][]byte{}
	}
	a.objects[key] = data
	return nil
}

type fixture struct {
	svc      *Services
	repos    *repository.Repositories
	queue    *events.MemoryQueue
	archiver *memArchiver
	doc      *entity.Document
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	queue := events.NewMemoryQueue(64)
	archiver := &memArchiver{}
	scorer, err := engine.NewScorer(engine.DefaultRiskConfig())
	require.NoError(t, err)

	svc := NewServices(repos, queue, archiver, scorer, Options{AppendRetries: 3}, zap.NewNop())
	doc := testutil.SeedDocument(t, db, "doc-001", "IPD-32-10", "A320")
	return &fixture{svc: svc, repos: repos, queue: queue, archiver: archiver, doc: doc}
}

func rangeInput(from, to int) *EffectivityInput {
	return &EffectivityInput{Type: "RANGE", From: &from, To: &to}
}

func listInput(values ...int) *EffectivityInput {
	return &EffectivityInput{Type: "LIST", Values: values}
}

func (f *fixture) ingest(t *testing.T, label, prev string, parts ...PartInput) *entity.Revision {
	t.Helper()
	rev, err := f.svc.Revision.Ingest(context.Background(), f.doc.ID, "test-user-001", &IngestRevisionRequest{
		Revision:                   label,
		ExpectedPreviousRevisionID: prev,
		Parts:                      parts,
	})
	require.NoError(t, err)
	return rev
}

func (f *fixture) approve(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.Revision.Submit(ctx, id, "test-user-001")
	require.NoError(t, err)
	_, err = f.svc.Revision.Approve(ctx, id, "test-user-002", "ok")
	require.NoError(t, err)
}

func (f *fixture) drainEvents(t *testing.T) []events.Event {
	t.Helper()
	ctx := context.Background()
	var out []events.Event
	for {
		n, err := f.queue.Len(ctx)
		require.NoError(t, err)
		if n == 0 {
			return out
		}
		ev, err := f.queue.Consume(ctx)
		require.NoError(t, err)
		out = append(out, ev)
	}
}

func TestIngestRejectsStickerWithoutFlag(t *testing.T) {
	f := setup(t)
	_, err := f.svc.Revision.Ingest(context.Background(), f.doc.ID, "u", &IngestRevisionRequest{
		Revision: "A",
		Parts: []PartInput{
			{PartNumber: "D5320-1", Effectivity: rangeInput(1, 10), Sticker: &StickerInput{StickerType: "WARNING"}},
		},
	})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	head, err := f.repos.Document.FindHead(context.Background(), f.doc.ID)
	require.NoError(t, err)
	assert.Empty(t, head.TailRevisionID)
}

func TestIngestRejectsInvertedRange(t *testing.T) {
	f := setup(t)
	_, err := f.svc.Revision.Ingest(context.Background(), f.doc.ID, "u", &IngestRevisionRequest{
		Revision: "A",
		Parts:    []PartInput{{PartNumber: "P1", Effectivity: rangeInput(20, 10)}},
	})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestIngestInitialThenUpdatePublishesChanges(t *testing.T) {
	f := setup(t)
	a := f.ingest(t, "A", "",
		PartInput{PartNumber: "p1", Effectivity: rangeInput(1, 100)},
		PartInput{PartNumber: "P2", Effectivity: listInput(5)},
	)
	assert.Equal(t, 1, a.Version)
	assert.Equal(t, entity.ChangeSummaryInitial, a.ChangeSummary.Data().Type)
	assert.NotEmpty(t, a.SnapshotObject)
	assert.Contains(t, f.archiver.objects, a.SnapshotObject)
	assert.Empty(t, f.drainEvents(t), "initial revision publishes no change events")

	b := f.ingest(t, "B", a.ID,
		PartInput{PartNumber: "P1", Effectivity: rangeInput(1, 50)},
		PartInput{PartNumber: "P3", Effectivity: listInput(5)},
	)
	assert.Equal(t, 2, b.Version)
	summary := b.ChangeSummary.Data()
	assert.Equal(t, entity.ChangeSummaryUpdate, summary.Type)
	assert.Equal(t, []string{"P3"}, summary.Added)
	assert.Equal(t, []string{"P2"}, summary.Removed)
	assert.Equal(t, []string{"P1"}, summary.ModifiedPartNumbers())

	evs := f.drainEvents(t)
	require.Len(t, evs, 3)
	pns := map[string]bool{}
	for _, ev := range evs {
		assert.Equal(t, events.TypeRevisionChange, ev.Type)
		assert.Equal(t, b.ID, ev.RevisionID)
		pns[ev.PartNumber] = true
	}
	assert.Equal(t, map[string]bool{"P1": true, "P2": true, "P3": true}, pns)
}

func TestIngestStaleTailConflicts(t *testing.T) {
	f := setup(t)
	a := f.ingest(t, "A", "", PartInput{PartNumber: "P1", Effectivity: rangeInput(1, 10)})
	f.ingest(t, "B", a.ID, PartInput{PartNumber: "P1", Effectivity: rangeInput(1, 20)})

	_, err := f.svc.Revision.Ingest(context.Background(), f.doc.ID, "u", &IngestRevisionRequest{
		Revision:                   "C",
		ExpectedPreviousRevisionID: a.ID,
		Parts:                      []PartInput{{PartNumber: "P1", Effectivity: rangeInput(1, 30)}},
	})
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	_, err = f.svc.Revision.Ingest(context.Background(), f.doc.ID, "u", &IngestRevisionRequest{
		Revision:                   "D",
		ExpectedPreviousRevisionID: "missing-revision",
	})
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	nodes, err := f.svc.Revision.ListChain(context.Background(), f.doc.ID)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "B", nodes[1].Revision)
}

func TestIngestWithRetryAppendsToLatestTail(t *testing.T) {
	f := setup(t)
	a := f.ingest(t, "A", "", PartInput{PartNumber: "P1", Effectivity: rangeInput(1, 10)})
	b := f.ingest(t, "B", a.ID, PartInput{PartNumber: "P1", Effectivity: rangeInput(1, 20)})

	c, err := f.svc.Revision.IngestWithRetry(context.Background(), f.doc.ID, "u", &IngestRevisionRequest{
		Revision:                   "C",
		ExpectedPreviousRevisionID: a.ID,
		Parts:                      []PartInput{{PartNumber: "P1", Effectivity: rangeInput(1, 30)}},
	})
	require.NoError(t, err)
	require.NotNil(t, c.PreviousRevisionID)
	assert.Equal(t, b.ID, *c.PreviousRevisionID)
	assert.Equal(t, 3, c.Version)
}

func TestApproveSupersedesAndHistory(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.ingest(t, "A", "", PartInput{PartNumber: "P1", Effectivity: rangeInput(1, 10)})
	f.approve(t, a.ID)
	b := f.ingest(t, "B", a.ID, PartInput{PartNumber: "P1", Effectivity: rangeInput(1, 20)})

	_, err := f.svc.Revision.Approve(ctx, b.ID, "u", "")
	assert.True(t, errors.Is(err, apperr.ErrInvalidState), "draft cannot be approved directly")

	f.approve(t, b.ID)
	old, err := f.svc.Revision.Get(ctx, a.ID, false)
	require.NoError(t, err)
	assert.Equal(t, entity.RevisionStatusSuperseded, old.Status)

	_, err = f.svc.Revision.Reject(ctx, b.ID, "u", "late")
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))

	path, err := f.svc.Revision.History(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, path, 2)
	assert.Equal(t, b.ID, path[0].ID)
	assert.Equal(t, a.ID, path[1].ID)

	report, err := f.svc.Revision.Verify(ctx, f.doc.ID)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Equal(t, b.ID, report.TailID)
}

func TestVerifyReportsCorruptChain(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.ingest(t, "A", "", PartInput{PartNumber: "P1", Effectivity: rangeInput(1, 10)})
	f.ingest(t, "B", a.ID, PartInput{PartNumber: "P1", Effectivity: rangeInput(1, 20)})

	require.NoError(t, f.repos.DB().Model(&entity.Revision{}).Where("id = ?", a.ID).
		Update("next_revision_id", nil).Error)

	report, err := f.svc.Revision.Verify(ctx, f.doc.ID)
	assert.True(t, errors.Is(err, apperr.ErrInvariantViolation))
	require.NotNil(t, report)
	assert.False(t, report.Consistent)
	assert.NotEmpty(t, report.Issues)
}

func TestDiffAndLineage(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.ingest(t, "A", "", PartInput{PartNumber: "P1", Nomenclature: "BRACKET", Effectivity: rangeInput(1, 10)})
	b := f.ingest(t, "B", a.ID, PartInput{PartNumber: "P1", Nomenclature: "BRACKET ASSY", Effectivity: rangeInput(1, 10)})
	c := f.ingest(t, "C", b.ID, PartInput{PartNumber: "P9", Effectivity: rangeInput(1, 10)})

	d, err := f.svc.Revision.Diff(ctx, a.ID, b.ID)
	require.NoError(t, err)
	require.Len(t, d.Summary.Modified, 1)
	assert.Equal(t, "nomenclature", d.Summary.Modified[0].Changes[0].Field)

	lineage, err := f.svc.Revision.Lineage(ctx, f.doc.ID, "p1")
	require.NoError(t, err)
	require.Len(t, lineage, 3)
	assert.Equal(t, engine.LineageAdded, lineage[0].ChangeType)
	assert.Equal(t, engine.LineageModified, lineage[1].ChangeType)
	assert.Equal(t, engine.LineageRemoved, lineage[2].ChangeType)
	assert.Equal(t, c.ID, lineage[2].RevisionID)
}

func TestResolveUsesApprovedBaseline(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Effectivity.Resolve(ctx, f.doc.ID, "", 5)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	a := f.ingest(t, "A", "",
		PartInput{PartNumber: "P1", Effectivity: rangeInput(1, 10)},
		PartInput{PartNumber: "P2", Effectivity: listInput(20, 30)},
		PartInput{PartNumber: "P3"},
	)
	f.approve(t, a.ID)

	res, err := f.svc.Effectivity.Resolve(ctx, f.doc.ID, "", 5)
	require.NoError(t, err)
	assert.Equal(t, a.ID, res.RevisionID)
	require.Len(t, res.Applicable, 1)
	assert.Equal(t, "P1", res.Applicable[0].PartNumber)
	assert.Equal(t, 2, res.NonApplicableCount)

	check, err := f.svc.Effectivity.Check(ctx, f.doc.ID, "", 30, "p2")
	require.NoError(t, err)
	assert.True(t, check.Applicable)
	assert.True(t, check.Found)

	lines, err := f.svc.Effectivity.ResolveLine(ctx, "A320", 20)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.Len(t, lines[0].Parts, 1)
	assert.Equal(t, "P2", lines[0].Parts[0].PartNumber)

	file, name, err := f.svc.Effectivity.Export(ctx, f.doc.ID, "", 5)
	require.NoError(t, err)
	assert.Equal(t, "IPD-32-10_A_line5.xlsx", name)
	v, err := file.GetCellValue("Effectivity", "B2")
	require.NoError(t, err)
	assert.Equal(t, "P1", v)
}

func TestDriftCheckIsIdempotentAndFeedsRisk(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.ingest(t, "A", "", PartInput{PartNumber: "P1", Effectivity: rangeInput(1, 10)})
	f.approve(t, a.ID)

	res, err := f.svc.Drift.Check(ctx, &ObservationRequest{DocumentID: f.doc.ID, LineNumber: 5, PartNumber: "P1"})
	require.NoError(t, err)
	assert.False(t, res.Drift)

	res, err = f.svc.Drift.Check(ctx, &ObservationRequest{DocumentID: f.doc.ID, LineNumber: 5, PartNumber: "X9"})
	require.NoError(t, err)
	assert.True(t, res.Drift)
	assert.True(t, res.Created)
	assert.Equal(t, a.ID, res.Record.ExpectedRevisionID)

	again, err := f.svc.Drift.Check(ctx, &ObservationRequest{DocumentID: f.doc.ID, LineNumber: 5, PartNumber: "x9"})
	require.NoError(t, err)
	assert.True(t, again.Drift)
	assert.False(t, again.Created)
	assert.Equal(t, res.Record.ID, again.Record.ID)

	evs := f.drainEvents(t)
	require.Len(t, evs, 1)
	assert.Equal(t, events.TypeDriftOpened, evs[0].Type)

	prev := 0.0
	for i := 0; i < 3; i++ {
		p, err := f.svc.Risk.Apply(ctx, evs[0])
		require.NoError(t, err)
		assert.GreaterOrEqual(t, p.RiskScore, prev)
		prev = p.RiskScore
	}
	view, err := f.svc.Risk.Get(ctx, "x9")
	require.NoError(t, err)
	assert.EqualValues(t, 3, view.DriftEvents)

	_, err = f.svc.Risk.Apply(ctx, events.Event{Type: "Bogus", PartNumber: "X9"})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestDecisionAcceptDriftResolvesOpenDrift(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.ingest(t, "A", "", PartInput{PartNumber: "P1", Effectivity: rangeInput(1, 10)})
	f.approve(t, a.ID)

	_, err := f.svc.Drift.Check(ctx, &ObservationRequest{DocumentID: f.doc.ID, LineNumber: 7, PartNumber: "X1"})
	require.NoError(t, err)

	entry, err := f.svc.Decision.Open(ctx, "eng-01", &OpenDecisionRequest{PartNumber: "x1", LineNumber: 7, Decision: "accept field fit"})
	require.NoError(t, err)
	assert.False(t, entry.IsClosed())

	_, err = f.svc.Decision.Close(ctx, entry.ID, "eng-01", &CloseDecisionRequest{Outcome: "maybe"})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	closed, err := f.svc.Decision.Close(ctx, entry.ID, "eng-01", &CloseDecisionRequest{Outcome: "accept_drift"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, closed.ResolvedDrifts)
	assert.True(t, closed.Entry.IsClosed())

	_, err = f.svc.Decision.Close(ctx, entry.ID, "eng-01", &CloseDecisionRequest{Outcome: "rework"})
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))

	open, total, err := f.svc.Drift.List(ctx, repository.DriftFilter{Status: entity.DriftStatusOpen}, 1, 20)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, open)

	types := map[events.Type]int{}
	for _, ev := range f.drainEvents(t) {
		types[ev.Type]++
	}
	assert.Equal(t, 1, types[events.TypeDriftOpened])
	assert.Equal(t, 1, types[events.TypeDecisionLogged])
}

func TestRetryOnConflictStopsOnOtherErrors(t *testing.T) {
	calls := 0
	err := RetryOnConflict(context.Background(), 5, func(int) error {
		calls++
		return apperr.Validation("bad")
	})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	assert.Equal(t, 1, calls)

	calls = 0
	err = RetryOnConflict(context.Background(), 2, func(int) error {
		calls++
		return apperr.Conflict("stale")
	})
	assert.True(t, errors.Is(err, apperr.ErrConflict))
	assert.Equal(t, 3, calls)
}

func TestSnapshotIsDeterministic(t *testing.T) {
	parts, err := buildParts([]PartInput{{PartNumber: "P1", Effectivity: rangeInput(1, 2)}})
	require.NoError(t, err)
	again, err := buildParts([]PartInput{{PartNumber: "P1", Effectivity: rangeInput(1, 2)}})
	require.NoError(t, err)

	_, h1, err := snapshot(parts)
	require.NoError(t, err)
	_, h2, err := snapshot(again)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Contains(t, snapshotKey("doc", "A", h1), "snapshots/doc/A-")
}

func TestConcurrentIngestSingleWinner(t *testing.T) {
	f := setup(t)
	a := f.ingest(t, "A", "", PartInput{PartNumber: "P1", Effectivity: rangeInput(1, 10)})

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Revision.Ingest(context.Background(), f.doc.ID, "u", &IngestRevisionRequest{
				Revision:                   fmt.Sprintf("B%d", i),
				ExpectedPreviousRevisionID: a.ID,
				Parts:                      []PartInput{{PartNumber: "P1", Effectivity: rangeInput(1, 20+i)}},
			})
		}(i)
	}
	wg.Wait()

	ok, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, apperr.ErrConflict):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, racers-1, conflicts)

	nodes, err := f.svc.Revision.ListChain(context.Background(), f.doc.ID)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	report, err := f.svc.Revision.Verify(context.Background(), f.doc.ID)
	require.NoError(t, err)
	assert.Empty(t, report.Issues)
	assert.Len(t, f.archiver.objects, 2, "only committed revisions are archived")
}

func TestIngestConflictArchivesNothing(t *testing.T) {
	f := setup(t)
	a := f.ingest(t, "A", "", PartInput{PartNumber: "P1", Effectivity: rangeInput(1, 10)})
	f.ingest(t, "B", a.ID, PartInput{PartNumber: "P1", Effectivity: rangeInput(1, 20)})
	require.Len(t, f.archiver.objects, 2)

	_, err := f.svc.Revision.Ingest(context.Background(), f.doc.ID, "u", &IngestRevisionRequest{
		Revision:                   "C",
		ExpectedPreviousRevisionID: a.ID,
		Parts:                      []PartInput{{PartNumber: "P9", Effectivity: rangeInput(1, 30)}},
	})
	require.True(t, errors.Is(err, apperr.ErrConflict))
	assert.Len(t, f.archiver.objects, 2)
}

func TestIngestSurvivesArchiveFailure(t *testing.T) {
	f := setup(t)
	f.archiver.fail = errors.New("minio unavailable")

	a := f.ingest(t, "A", "", PartInput{PartNumber: "P1", Effectivity: rangeInput(1, 10)})
	assert.Empty(t, a.SnapshotObject)
	assert.NotEmpty(t, a.SnapshotHash)

	got, err := f.repos.Revision.FindByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Empty(t, got.SnapshotObject)
}

func TestLineNumberMustBePositive(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.ingest(t, "A", "", PartInput{PartNumber: "P1", Effectivity: rangeInput(1, 10)})
	f.approve(t, a.ID)

	for _, line := range []int{0, -5} {
		_, err := f.svc.Decision.Open(ctx, "eng-01", &OpenDecisionRequest{PartNumber: "P1", LineNumber: line, Decision: "hold"})
		assert.True(t, errors.Is(err, apperr.ErrValidation), "decision line %d", line)

		_, err = f.svc.Drift.Check(ctx, &ObservationRequest{DocumentID: f.doc.ID, LineNumber: line, PartNumber: "X1"})
		assert.True(t, errors.Is(err, apperr.ErrValidation), "observation line %d", line)
	}

	entries, total, err := f.svc.Decision.List(ctx, repository.DecisionFilter{}, 1, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, entries)
	assert.Empty(t, f.drainEvents(t))
}
