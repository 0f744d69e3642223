package constants

// Обменник сервиса
const (
	PipelineExchange     = "pipeline_exchange"
	PipelineExchangeType = "direct"
)

// Имена очередей
const (
	QueueRunRequests = "pipeline_run_requests"
	QueueRunResults  = "pipeline_run_results"
)

// Ключи маршрутизации
const (
	RoutingKeyRunRequests = "pipeline.run.requests"
	RoutingKeyRunResults  = "pipeline.run.results"
)

const (
	FinalDLXExchangeForRunRequests   = "pipeline_run_requests_final_dlx"
	FinalDLQForRunRequests           = "pipeline_run_requests_final_dlq"
	FinalDLQRoutingKeyForRunRequests = "pipeline_run_requests.dlq.key"
)

// Заголовки сообщений
const (
	HeaderTraceID      = "x-trace-id"
	HeaderEventType    = "event-type"
	HeaderEventVersion = "event-version"
)
