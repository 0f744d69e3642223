package scheduler

import (
	"context"
	"fmt"
	"listing-pipeline-service/internal/contextkeys"
	"listing-pipeline-service/internal/core/domain"
	"listing-pipeline-service/internal/core/port"
	usecases_port "listing-pipeline-service/internal/core/port/usecases_port"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// officeLister - часть репозитория определений источников, нужная планировщику
type officeLister interface {
	ListOfficesWithEnabledSources(ctx context.Context) ([]uuid.UUID, error)
}

// PipelineScheduler по расписанию запускает полный прогон для каждого офиса
// с включенными источниками. Сбор внутри прогона берет только источники, которым пора.
type PipelineScheduler struct {
	cron        *cron.Cron
	spec        string
	offices     officeLister
	runUC       usecases_port.RunPipelinePort
	concurrency int
	logger      port.LoggerPort
	stopOnce    sync.Once
}

var _ port.EventListenerPort = (*PipelineScheduler)(nil)

func NewPipelineScheduler(spec string, concurrency int, offices officeLister, runUC usecases_port.RunPipelinePort, logger port.LoggerPort) (*PipelineScheduler, error) {
	if offices == nil || runUC == nil {
		return nil, fmt.Errorf("scheduler: offices lister and run use case are required")
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("scheduler: invalid spec %q: %w", spec, err)
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	schedLogger := logger.WithFields(port.Fields{"component": "PipelineScheduler"})
	bridge := cronLogger{logger: schedLogger}

	return &PipelineScheduler{
		// Тик, пришедший во время незавершенного прогона, пропускается
		cron:        cron.New(cron.WithChain(cron.Recover(bridge), cron.SkipIfStillRunning(bridge))),
		spec:        spec,
		offices:     offices,
		runUC:       runUC,
		concurrency: concurrency,
		logger:      schedLogger,
	}, nil
}

// Start реализует EventListenerPort: блокируется до отмены ctx
func (s *PipelineScheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		if err := s.RunOnce(ctx); err != nil {
			s.logger.Error("Scheduled pipeline tick failed", err, nil)
		}
	})
	if err != nil {
		return fmt.Errorf("scheduler: failed to register job: %w", err)
	}

	s.cron.Start()
	s.logger.Info("Scheduler started", port.Fields{"spec": s.spec, "concurrency": s.concurrency})

	<-ctx.Done()
	s.stop()
	return nil
}

// Close реализует EventListenerPort: дожидается активного прогона
func (s *PipelineScheduler) Close() error {
	s.stop()
	return nil
}

func (s *PipelineScheduler) stop() {
	s.stopOnce.Do(func() {
		<-s.cron.Stop().Done()
		s.logger.Info("Scheduler stopped", nil)
	})
}

// RunOnce - один тик: прогоны офисов идут параллельно, но не больше concurrency сразу.
// Сбой прогона одного офиса не отменяет остальные.
func (s *PipelineScheduler) RunOnce(ctx context.Context) error {
	traceID := uuid.New().String()
	tickLogger := s.logger.WithFields(port.Fields{"trace_id": traceID})
	ctx = contextkeys.ContextWithTraceID(ctx, traceID)

	offices, err := s.offices.ListOfficesWithEnabledSources(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: failed to list offices: %w", err)
	}
	tickLogger.Info("Scheduled tick started", port.Fields{"offices": len(offices)})
	started := time.Now()

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, officeID := range offices {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			officeLogger := tickLogger.WithFields(port.Fields{"office_id": officeID.String()})
			officeCtx := contextkeys.ContextWithLogger(ctx, officeLogger)

			opts := domain.RunOptions{Filters: domain.SearchFilters{OnlyDue: true}}
			report, err := s.runUC.Execute(officeCtx, officeID, opts, uuid.Nil)
			if err != nil {
				officeLogger.Error("Scheduled pipeline run failed", err, nil)
				return nil
			}
			officeLogger.Info("Scheduled pipeline run finished", port.Fields{"counts": report.Counts()})
			return nil
		})
	}
	_ = g.Wait()

	tickLogger.Info("Scheduled tick finished", port.Fields{"duration_ms": time.Since(started).Milliseconds()})
	return ctx.Err()
}

// cronLogger адаптирует LoggerPort к cron.Logger
type cronLogger struct {
	logger port.LoggerPort
}

func (l cronLogger) toFields(keysAndValues ...interface{}) port.Fields {
	fields := make(port.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			fields[key] = keysAndValues[i+1]
		}
	}
	return fields
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, l.toFields(keysAndValues...))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, err, l.toFields(keysAndValues...))
}
