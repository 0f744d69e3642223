package usecase

import (
	"context"
	"errors"
	"listing-pipeline-service/internal/core/domain"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedHarvest struct {
	summary domain.HarvestSummary
	err     error
	calls   int
}

func (s *scriptedHarvest) Execute(ctx context.Context, officeID uuid.UUID, filters domain.SearchFilters) (domain.HarvestSummary, error) {
	s.calls++
	return s.summary, s.err
}

// scriptedRounds отдает processed по очереди; после конца списка - 0
type scriptedRounds struct {
	processed []int
	err       error
	skipped   bool
	limits    []int
}

func (s *scriptedRounds) Execute(ctx context.Context, officeID uuid.UUID, limit int) (domain.BatchSummary, error) {
	s.limits = append(s.limits, limit)
	if s.skipped {
		return domain.BatchSummary{Skipped: true}, nil
	}
	if s.err != nil {
		return domain.BatchSummary{}, s.err
	}
	n := 0
	if i := len(s.limits) - 1; i < len(s.processed) {
		n = s.processed[i]
	}
	return domain.BatchSummary{Processed: n}, nil
}

type scriptedGeocode struct{ calls int }

func (s *scriptedGeocode) Execute(ctx context.Context, officeID uuid.UUID, limit int, force bool) (domain.BatchSummary, error) {
	s.calls++
	return domain.BatchSummary{Processed: 4}, nil
}

type scriptedRcn struct {
	calls  int
	radius float64
}

func (s *scriptedRcn) Execute(ctx context.Context, officeID uuid.UUID, limit int, radiusM float64, force bool) (domain.BatchSummary, error) {
	s.calls++
	s.radius = radiusM
	return domain.BatchSummary{}, errors.New("geoportal unavailable")
}

type recordingReporter struct {
	taskID uuid.UUID
	report domain.PipelineReport
	calls  int
}

func (r *recordingReporter) ReportRun(ctx context.Context, taskID uuid.UUID, report domain.PipelineReport) error {
	r.calls++
	r.taskID = taskID
	r.report = report
	return nil
}

func TestRunPipelineRepeatsRoundsUntilEmptyOrCap(t *testing.T) {
	harvest := &scriptedHarvest{summary: domain.HarvestSummary{BatchSummary: domain.BatchSummary{Processed: 7}}}
	enrich := &scriptedRounds{processed: []int{5, 5, 5, 5, 5}}
	verify := &scriptedRounds{processed: []int{3, 0, 9}}
	reporter := &recordingReporter{}

	uc := NewRunPipelineUseCase(harvest, enrich, nil, nil, verify, reporter, PipelineBudgets{
		EnrichLimit: 20, EnrichRoundCap: 3, VerifyLimit: 50, VerifyRoundCap: 5,
	})
	taskID := uuid.New()
	report, err := uc.Execute(context.Background(), uuid.New(), domain.RunOptions{VerifyLimit: 10}, taskID)
	require.NoError(t, err)

	assert.Equal(t, 3, report.EnrichRounds, "capped")
	assert.Equal(t, 15, report.Enrich.Processed)
	assert.Equal(t, []int{20, 20, 20}, enrich.limits)
	assert.Equal(t, 2, report.VerifyRounds, "stops after an empty round")
	assert.Equal(t, []int{10, 10}, verify.limits)
	assert.Nil(t, report.Geocode)
	assert.Nil(t, report.Rcn)

	counts := report.Counts()
	assert.Equal(t, 7, counts["harvested"])
	assert.Equal(t, 15, counts["enriched"])
	assert.Equal(t, 3, counts["verified"])

	assert.Equal(t, 1, reporter.calls)
	assert.Equal(t, taskID, reporter.taskID)
}

func TestRunPipelineContinuesAfterStageFailures(t *testing.T) {
	harvest := &scriptedHarvest{err: errors.New("source definitions unavailable")}
	enrich := &scriptedRounds{skipped: true}
	verify := &scriptedRounds{processed: []int{1}}
	geocode := &scriptedGeocode{}
	rcn := &scriptedRcn{}

	uc := NewRunPipelineUseCase(harvest, enrich, geocode, rcn, verify, nil, PipelineBudgets{
		EnrichRoundCap: 4, VerifyRoundCap: 4, GeocodeEnabled: true, RcnEnabled: false,
	})
	report, err := uc.Execute(context.Background(), uuid.New(), domain.RunOptions{Rcn: ptr(true), RcnRadiusM: 250}, uuid.Nil)
	require.NoError(t, err)

	require.Len(t, report.Harvest.Errors, 1)
	assert.Equal(t, 1, report.EnrichRounds)
	assert.True(t, report.Enrich.Skipped)
	require.NotNil(t, report.Geocode)
	assert.Equal(t, 4, report.Geocode.Processed)
	require.NotNil(t, report.Rcn, "request flag overrides the config")
	assert.Len(t, report.Rcn.Errors, 1)
	assert.Equal(t, 250.0, rcn.radius)
	assert.Equal(t, 2, report.VerifyRounds)
}

func TestRunPipelineAbortsOnFatalConfig(t *testing.T) {
	harvest := &scriptedHarvest{err: domain.FatalConfigError("source %q is not supported", "allegro")}
	enrich := &scriptedRounds{}
	verify := &scriptedRounds{}

	reporter := &recordingReporter{}
	taskID := uuid.New()

	uc := NewRunPipelineUseCase(harvest, enrich, nil, nil, verify, reporter, PipelineBudgets{})
	_, err := uc.Execute(context.Background(), uuid.New(), domain.RunOptions{}, taskID)

	assert.ErrorIs(t, err, domain.ErrFatalConfig)
	assert.Empty(t, enrich.limits)
	assert.Empty(t, verify.limits)

	require.Equal(t, 1, reporter.calls, "the caller still learns about the rejected run")
	assert.Equal(t, taskID, reporter.taskID)
	assert.True(t, reporter.report.Failed())
	assert.Contains(t, reporter.report.Error, "allegro")
}

func TestRunPipelineReportsInterruptedRun(t *testing.T) {
	reporter := &recordingReporter{}
	uc := NewRunPipelineUseCase(&scriptedHarvest{}, &scriptedRounds{}, nil, nil, &scriptedRounds{}, reporter, PipelineBudgets{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := uc.Execute(ctx, uuid.New(), domain.RunOptions{}, uuid.New())
	require.NoError(t, err)
	assert.True(t, report.Failed())
	assert.Equal(t, 1, reporter.calls)
	assert.True(t, reporter.report.Failed())
}
