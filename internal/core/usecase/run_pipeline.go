package usecase

import (
	"context"
	"errors"
	"fmt"
	"listing-pipeline-service/internal/contextkeys"
	"listing-pipeline-service/internal/core/domain"
	"listing-pipeline-service/internal/core/port"
	usecases_port "listing-pipeline-service/internal/core/port/usecases_port"
	"time"

	"github.com/google/uuid"
)

// PipelineBudgets - лимиты раундов полного прогона
type PipelineBudgets struct {
	EnrichLimit    int
	EnrichRoundCap int
	VerifyLimit    int
	VerifyRoundCap int
	GeocodeEnabled bool
	GeocodeLimit   int
	RcnEnabled     bool
	RcnLimit       int
}

// RunPipelineUseCase: сбор -> раунды обогащения -> геокодирование -> RCN -> раунды проверки.
// Сбой стадии логируется, следующая стадия все равно запускается.
type RunPipelineUseCase struct {
	harvest  usecases_port.HarvestPort
	enrich   usecases_port.EnrichRoundPort
	geocode  usecases_port.GeocodeBatchPort
	rcn      usecases_port.RcnBatchPort
	verify   usecases_port.VerifyRoundPort
	reporter port.RunReporterPort
	budgets  PipelineBudgets
	now      func() time.Time
}

// NewRunPipelineUseCase; geocode, rcn и reporter могут быть nil
func NewRunPipelineUseCase(
	harvest usecases_port.HarvestPort,
	enrich usecases_port.EnrichRoundPort,
	geocode usecases_port.GeocodeBatchPort,
	rcn usecases_port.RcnBatchPort,
	verify usecases_port.VerifyRoundPort,
	reporter port.RunReporterPort,
	budgets PipelineBudgets,
) *RunPipelineUseCase {
	if budgets.EnrichRoundCap <= 0 {
		budgets.EnrichRoundCap = 1
	}
	if budgets.VerifyRoundCap <= 0 {
		budgets.VerifyRoundCap = 1
	}
	return &RunPipelineUseCase{
		harvest:  harvest,
		enrich:   enrich,
		geocode:  geocode,
		rcn:      rcn,
		verify:   verify,
		reporter: reporter,
		budgets:  budgets,
		now:      time.Now,
	}
}

// Execute возвращает ошибку только при ошибке конфигурации, обнаруженной сбором
func (uc *RunPipelineUseCase) Execute(ctx context.Context, officeID uuid.UUID, opts domain.RunOptions, taskID uuid.UUID) (domain.PipelineReport, error) {
	ucLogger := contextkeys.LoggerFromContext(ctx).WithFields(port.Fields{
		"use_case":  "RunPipeline",
		"office_id": officeID.String(),
	})
	ctx = contextkeys.ContextWithLogger(ctx, ucLogger)

	report := domain.PipelineReport{
		OfficeID:  officeID,
		StartedAt: uc.now().UTC(),
		Enrich:    domain.BatchSummary{Errors: []domain.ItemError{}},
		Verify:    domain.BatchSummary{Errors: []domain.ItemError{}},
	}
	ucLogger.Info("Pipeline run started", nil)

	harvest, err := uc.harvest.Execute(ctx, officeID, opts.Filters)
	report.Harvest = harvest
	if err != nil {
		if errors.Is(err, domain.ErrFatalConfig) {
			ucLogger.Error("Pipeline run aborted by configuration error", err, nil)
			report.FinishedAt = uc.now().UTC()
			report.Error = err.Error()
			uc.publish(ctx, taskID, report)
			return report, err
		}
		ucLogger.Error("Harvest stage failed, continuing", err, nil)
		report.Harvest.AddError(domain.NewItemError("", nil, "", err))
	}

	enrichLimit := pick(opts.EnrichLimit, uc.budgets.EnrichLimit)
	report.EnrichRounds = runRounds(ctx, "enrich", uc.budgets.EnrichRoundCap, &report.Enrich, func() (domain.BatchSummary, error) {
		return uc.enrich.Execute(ctx, officeID, enrichLimit)
	})

	if uc.geocode != nil && enabled(opts.Geocode, uc.budgets.GeocodeEnabled) {
		batch, err := uc.geocode.Execute(ctx, officeID, uc.budgets.GeocodeLimit, opts.ForceGeocode)
		if err != nil {
			ucLogger.Error("Geocode stage failed, continuing", err, nil)
			batch.AddError(domain.NewItemError("", nil, "", err))
		}
		report.Geocode = &batch
	}

	if uc.rcn != nil && enabled(opts.Rcn, uc.budgets.RcnEnabled) {
		batch, err := uc.rcn.Execute(ctx, officeID, uc.budgets.RcnLimit, opts.RcnRadiusM, opts.ForceRcn)
		if err != nil {
			ucLogger.Error("Registry stage failed, continuing", err, nil)
			batch.AddError(domain.NewItemError("", nil, "", err))
		}
		report.Rcn = &batch
	}

	verifyLimit := pick(opts.VerifyLimit, uc.budgets.VerifyLimit)
	report.VerifyRounds = runRounds(ctx, "verify", uc.budgets.VerifyRoundCap, &report.Verify, func() (domain.BatchSummary, error) {
		return uc.verify.Execute(ctx, officeID, verifyLimit)
	})

	report.FinishedAt = uc.now().UTC()
	if ctx.Err() != nil {
		report.Error = fmt.Sprintf("pipeline run interrupted: %v", ctx.Err())
		ucLogger.Warn("Pipeline run interrupted", port.Fields{"counts": report.Counts()})
	} else {
		ucLogger.Info("Pipeline run finished", port.Fields{"counts": report.Counts()})
	}

	uc.publish(ctx, taskID, report)
	return report, nil
}

// publish отправляет отчет, если прогон запрошен задачей
func (uc *RunPipelineUseCase) publish(ctx context.Context, taskID uuid.UUID, report domain.PipelineReport) {
	if uc.reporter == nil || taskID == uuid.Nil {
		return
	}
	if err := uc.reporter.ReportRun(ctx, taskID, report); err != nil {
		contextkeys.LoggerFromContext(ctx).Error("Failed to publish run report", err, port.Fields{"task_id": taskID.String()})
	}
}

// runRounds повторяет раунд, пока предыдущий что-то обработал, но не больше roundCap раз.
// Пропуск из-за занятой блокировки и ошибка раунда останавливают повторы.
func runRounds(ctx context.Context, stage string, roundCap int, total *domain.BatchSummary, round func() (domain.BatchSummary, error)) int {
	logger := contextkeys.LoggerFromContext(ctx)
	rounds := 0
	for rounds < roundCap {
		if ctx.Err() != nil {
			break
		}
		batch, err := round()
		rounds++
		total.Merge(batch)
		if err != nil {
			logger.Error("Round failed, moving to the next stage", err, port.Fields{"stage": stage, "round": rounds})
			total.AddError(domain.NewItemError("", nil, "", err))
			break
		}
		if batch.Skipped {
			total.Skipped = true
			break
		}
		if batch.Processed == 0 {
			break
		}
	}
	return rounds
}

func pick(requested, fallback int) int {
	if requested > 0 {
		return requested
	}
	return fallback
}

func enabled(requested *bool, fallback bool) bool {
	if requested != nil {
		return *requested
	}
	return fallback
}
