package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-eng/feasgen/pkg/pipeline"
)

func sampleRecord(createdAt time.Time) *pipeline.RunRecord {
	return &pipeline.RunRecord{
		ID:          uuid.New(),
		Phase:       pipeline.PhaseCompleted,
		FinalReport: "# Feasibility Report",
		Errors: []pipeline.RunError{
			{Stage: pipeline.StagePlan, Code: "plan_reduced", Message: "8 over 6", Time: createdAt},
		},
		Audit: []pipeline.StageAudit{
			{Stage: pipeline.StageExtract, PromptVersion: "v1", Status: pipeline.AuditCompleted, Duration: 2 * time.Second},
			{Stage: pipeline.StagePlan, PromptVersion: "v2", Status: pipeline.AuditCompleted, Duration: time.Second},
		},
		CreatedAt:   createdAt,
		CompletedAt: createdAt.Add(time.Minute),
	}
}

func TestMemoryStore_SaveAndGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	record := sampleRecord(time.Now().UTC())

	require.NoError(t, s.SaveRun(ctx, record))

	got, err := s.GetRun(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, record.FinalReport, got.FinalReport)
	require.Equal(t, record.Errors, got.Errors)

	// The audit trail survives persistence unchanged.
	require.Equal(t, record.Audit, got.Audit)
}

func TestMemoryStore_GetUnknown(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.GetRun(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_SaveIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	record := sampleRecord(time.Now().UTC())

	require.NoError(t, s.SaveRun(ctx, record))
	require.NoError(t, s.SaveRun(ctx, record))

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
}

func TestMemoryStore_ListNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().UTC()

	oldest := sampleRecord(base.Add(-2 * time.Hour))
	middle := sampleRecord(base.Add(-time.Hour))
	newest := sampleRecord(base)
	for _, r := range []*pipeline.RunRecord{oldest, newest, middle} {
		require.NoError(t, s.SaveRun(ctx, r))
	}

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	require.Equal(t, newest.ID, runs[0].ID)
	require.Equal(t, middle.ID, runs[1].ID)
	require.Equal(t, oldest.ID, runs[2].ID)

	limited, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	require.Equal(t, newest.ID, limited[0].ID)
}
