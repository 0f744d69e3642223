package port

import "context"

// EventListenerPort - компонент, который слушает внешние события
// (очередь, расписание) и запускает соответствующий use case
type EventListenerPort interface {
	// Start блокируется до отмены ctx или фатальной ошибки
	Start(ctx context.Context) error
	// Close дожидается завершения активных задач
	Close() error
}
