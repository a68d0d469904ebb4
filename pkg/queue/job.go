package queue

import (
	"context"
	"encoding/json"
)

// Job handles one message type.
type Job interface {
	// Name identifies the job in logs.
	Name() string

	// Type is the message type routed to this job.
	Type() string

	// Handle processes the raw JSON payload the message was enqueued with.
	Handle(ctx context.Context, payload json.RawMessage) error
}
