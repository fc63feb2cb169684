package queue

import (
	"github.com/hibiken/asynq"
)

// HandlersRegistry collects task handlers so the worker binary can mount
// them all on a single mux.
type HandlersRegistry struct {
	handlers map[string]asynq.Handler
}

func NewHandlersRegistry() *HandlersRegistry {
	return &HandlersRegistry{handlers: make(map[string]asynq.Handler)}
}

func (r *HandlersRegistry) Register(taskType string, handler asynq.Handler) {
	r.handlers[taskType] = handler
}

func (r *HandlersRegistry) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	for taskType, handler := range r.handlers {
		mux.Handle(taskType, handler)
	}
	return mux
}
