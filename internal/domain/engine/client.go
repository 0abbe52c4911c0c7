// Package engine drives one user turn through the external conversational
// engine: append the message, request a run, poll it to a terminal state.
package engine

import (
	"context"

	"github.com/chuchoprado/mi-telegram-bot/internal/domain/status"
)

// Client is the contract against the external conversational engine. Handles
// and job ids are opaque; the adapter owns their shape.
type Client interface {
	CreateContext(ctx context.Context) (string, error)
	AppendMessage(ctx context.Context, handle, text string) error
	SubmitJob(ctx context.Context, handle string) (string, error)
	PollJob(ctx context.Context, handle, jobID string) (status.RunStatus, error)
	CancelJob(ctx context.Context, handle, jobID string) error
	FetchLatestReply(ctx context.Context, handle string) (string, error)
}
