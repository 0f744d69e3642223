package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"listing-pipeline-service/internal/constants"
	"listing-pipeline-service/internal/contextkeys"
	"listing-pipeline-service/internal/contracts"
	"listing-pipeline-service/internal/core/domain"
	"listing-pipeline-service/internal/core/port"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRun struct {
	officeID uuid.UUID
	opts     domain.RunOptions
	taskID   uuid.UUID
	traceID  string
}

type fakeRunPipeline struct {
	calls     []recordedRun
	err       error
	cancelled bool
}

func (f *fakeRunPipeline) Execute(ctx context.Context, officeID uuid.UUID, opts domain.RunOptions, taskID uuid.UUID) (domain.PipelineReport, error) {
	f.calls = append(f.calls, recordedRun{officeID: officeID, opts: opts, taskID: taskID, traceID: contextkeys.TraceIDFromContext(ctx)})
	f.cancelled = ctx.Err() != nil
	return domain.PipelineReport{OfficeID: officeID}, f.err
}

type fakePublisher struct {
	routingKey string
	msg        amqp.Publishing
	deadline   bool
	err        error
}

func (f *fakePublisher) Publish(ctx context.Context, routingKey string, msg amqp.Publishing) error {
	f.routingKey = routingKey
	f.msg = msg
	_, f.deadline = ctx.Deadline()
	return f.err
}

func newTestConsumer(uc *fakeRunPipeline) *RunRequestsConsumerAdapter {
	return &RunRequestsConsumerAdapter{runUC: uc, logger: contextkeys.LoggerFromContext(context.Background()), runCtx: context.Background()}
}

var (
	officeID = uuid.MustParse("0b9d2c1e-8f7a-4e6d-b5c4-a3b2c1d0e9f8")
	taskID   = uuid.MustParse("6f1c8e2a-3b4d-4f5e-9a7b-1c2d3e4f5a6b")
)

func TestMessageHandler_RunsPipeline(t *testing.T) {
	uc := &fakeRunPipeline{}
	a := newTestConsumer(uc)

	body := `{"task_id":"` + taskID.String() + `","office_id":"` + officeID.String() + `",
		"options":{"filters":{"sources":["olx"],"city":"Poznań"},"enrich_limit":5,"rcn":false}}`
	err := a.messageHandler(amqp.Delivery{
		Body:    []byte(body),
		Headers: amqp.Table{constants.HeaderTraceID: "trace-1"},
	})
	require.NoError(t, err)

	require.Len(t, uc.calls, 1)
	call := uc.calls[0]
	assert.Equal(t, officeID, call.officeID)
	assert.Equal(t, taskID, call.taskID)
	assert.Equal(t, "trace-1", call.traceID)
	assert.Equal(t, []domain.SourceKey{domain.SourceOlx}, call.opts.Filters.Sources)
	assert.Equal(t, "Poznań", call.opts.Filters.City)
	assert.Equal(t, 5, call.opts.EnrichLimit)
	require.NotNil(t, call.opts.Rcn)
	assert.False(t, *call.opts.Rcn)
	assert.Nil(t, call.opts.Geocode)
}

func TestMessageHandler_GeneratesTraceID(t *testing.T) {
	uc := &fakeRunPipeline{}
	a := newTestConsumer(uc)

	require.NoError(t, a.messageHandler(amqp.Delivery{Body: []byte(`{"office_id":"` + officeID.String() + `"}`)}))
	require.Len(t, uc.calls, 1)
	_, err := uuid.Parse(uc.calls[0].traceID)
	assert.NoError(t, err)
	assert.Equal(t, uuid.Nil, uc.calls[0].taskID)
}

func TestMessageHandler_RejectsInvalidPayload(t *testing.T) {
	uc := &fakeRunPipeline{}
	a := newTestConsumer(uc)

	for name, body := range map[string]string{
		"not json":       `{oops`,
		"missing office": `{"task_id":"` + taskID.String() + `"}`,
		"unknown source": `{"office_id":"` + officeID.String() + `","options":{"filters":{"sources":["allegro"]}}}`,
		"negative limit": `{"office_id":"` + officeID.String() + `","options":{"verify_limit":-1}}`,
	} {
		assert.Error(t, a.messageHandler(amqp.Delivery{Body: []byte(body)}), name)
	}
	assert.Empty(t, uc.calls)
}

func TestMessageHandler_ErrorHandling(t *testing.T) {
	body := []byte(`{"office_id":"` + officeID.String() + `"}`)

	fatal := &fakeRunPipeline{err: domain.FatalConfigError("source %q: unknown", "allegro")}
	assert.NoError(t, newTestConsumer(fatal).messageHandler(amqp.Delivery{Body: body}), "configuration errors are acknowledged")

	transient := &fakeRunPipeline{err: errors.New("db is down")}
	assert.Error(t, newTestConsumer(transient).messageHandler(amqp.Delivery{Body: body}), "other errors go to retry")
}

func TestMessageHandler_RunStopsWithConsumerContext(t *testing.T) {
	uc := &fakeRunPipeline{}
	a := newTestConsumer(uc)
	ctx, cancel := context.WithCancel(context.Background())
	a.runCtx = ctx
	cancel()

	err := a.messageHandler(amqp.Delivery{Body: []byte(`{"office_id":"` + officeID.String() + `"}`)})
	require.Error(t, err, "an interrupted run is retried")
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, uc.calls, 1)
	assert.True(t, uc.cancelled)
}

func TestRunReporter_PublishesReport(t *testing.T) {
	pub := &fakePublisher{}
	reporter, err := NewRunReporterAdapter(pub, constants.RoutingKeyRunResults)
	require.NoError(t, err)
	reporter.now = func() time.Time { return time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC) }

	report := domain.PipelineReport{
		OfficeID:   officeID,
		StartedAt:  time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2026, 4, 2, 9, 5, 0, 0, time.UTC),
		Harvest:    domain.HarvestSummary{BatchSummary: domain.BatchSummary{Processed: 7, Errors: []domain.ItemError{}}},
		Enrich:     domain.BatchSummary{Processed: 3, Errors: []domain.ItemError{{Kind: domain.KindTransient, Message: "timeout"}}},
		Verify:     domain.BatchSummary{Processed: 2},
	}

	ctx := contextkeys.ContextWithTraceID(context.Background(), "trace-42")
	ctx, cancel := context.WithCancel(ctx)
	cancel()
	require.NoError(t, reporter.ReportRun(ctx, taskID, report), "a cancelled request still gets its report published")

	assert.Equal(t, constants.RoutingKeyRunResults, pub.routingKey)
	assert.True(t, pub.deadline)
	assert.Equal(t, "application/json", pub.msg.ContentType)
	assert.Equal(t, amqp.Persistent, pub.msg.DeliveryMode)
	assert.Equal(t, "trace-42", pub.msg.Headers[constants.HeaderTraceID])
	assert.Equal(t, contracts.PipelineRunCompletedEvent, pub.msg.Headers[constants.HeaderEventType])

	require.NoError(t, contracts.Validate(contracts.PipelineRunCompletedEvent, contracts.CurrentVersion, pub.msg.Body))

	var dto RunCompletedDTO
	require.NoError(t, json.Unmarshal(pub.msg.Body, &dto))
	assert.Equal(t, taskID, dto.TaskID)
	assert.Equal(t, officeID, dto.OfficeID)
	assert.Equal(t, 7, dto.Results["harvested"])
	assert.Equal(t, 3, dto.Results["enriched"])
	assert.Equal(t, 1, dto.Results["errors"])
	assert.Equal(t, RunStatusCompleted, dto.Status)
	assert.Empty(t, dto.Error)
}

func TestRunReporter_PublishesFailedRun(t *testing.T) {
	pub := &fakePublisher{}
	reporter, err := NewRunReporterAdapter(pub, constants.RoutingKeyRunResults)
	require.NoError(t, err)

	report := domain.PipelineReport{
		OfficeID:   officeID,
		StartedAt:  time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2026, 4, 2, 9, 0, 1, 0, time.UTC),
		Error:      `fatal configuration error: source "allegro" is not supported`,
	}
	require.NoError(t, reporter.ReportRun(context.Background(), taskID, report))
	require.NoError(t, contracts.Validate(contracts.PipelineRunCompletedEvent, contracts.CurrentVersion, pub.msg.Body))

	var dto RunCompletedDTO
	require.NoError(t, json.Unmarshal(pub.msg.Body, &dto))
	assert.Equal(t, RunStatusFailed, dto.Status)
	assert.Contains(t, dto.Error, "allegro")
}

func TestRunReporter_Errors(t *testing.T) {
	_, err := NewRunReporterAdapter(nil, "key")
	assert.Error(t, err)
	_, err = NewRunReporterAdapter(&fakePublisher{}, "")
	assert.Error(t, err)

	reporter, err := NewRunReporterAdapter(&fakePublisher{err: errors.New("channel closed")}, "key")
	require.NoError(t, err)
	assert.ErrorContains(t, reporter.ReportRun(context.Background(), taskID, domain.PipelineReport{}), "channel closed")
}

type capturingLogger struct {
	port.LoggerPort
	fields port.Fields
	err    error
}

func (c *capturingLogger) Warn(msg string, fields port.Fields) { c.fields = fields }
func (c *capturingLogger) Error(msg string, err error, fields port.Fields) {
	c.err = err
	c.fields = fields
}

func TestPkgLoggerBridge(t *testing.T) {
	l := &capturingLogger{}
	bridge := NewPkgLoggerBridge(l)

	bridge.Warn("msg", "queue", "q1", 42, "skipped", "dangling")
	assert.Equal(t, port.Fields{"queue": "q1"}, l.fields)

	boom := errors.New("boom")
	bridge.Error(boom, "failed", "delivery_tag", uint64(7))
	assert.Equal(t, boom, l.err)
	assert.Equal(t, port.Fields{"delivery_tag": uint64(7)}, l.fields)
}
