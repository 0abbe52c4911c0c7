// Package openaiengine adapts the OpenAI Assistants API to the engine client
// contract: threads are context handles, runs are jobs.
package openaiengine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/chuchoprado/mi-telegram-bot/internal/domain/status"
	"github.com/chuchoprado/mi-telegram-bot/internal/infrastructure/metrics"
)

// citationPattern matches the source markers the engine embeds in replies,
// e.g. 【12†source】.
var citationPattern = regexp.MustCompile(`【[^】]*】`)

// Client drives assistant threads and runs.
type Client struct {
	api         *openai.Client
	assistantID string
}

// NewClient builds the adapter for one assistant.
func NewClient(apiKey, assistantID string) *Client {
	return &Client{
		api:         openai.NewClient(apiKey),
		assistantID: assistantID,
	}
}

// CreateContext creates a fresh thread and returns its id.
func (c *Client) CreateContext(ctx context.Context) (string, error) {
	thread, err := c.api.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	return thread.ID, nil
}

// AppendMessage appends the user's turn to the thread.
func (c *Client) AppendMessage(ctx context.Context, handle, text string) error {
	_, err := c.api.CreateMessage(ctx, handle, openai.MessageRequest{
		Role:    openai.ChatMessageRoleUser,
		Content: text,
	})
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

// SubmitJob starts a run on the thread.
func (c *Client) SubmitJob(ctx context.Context, handle string) (string, error) {
	run, err := c.api.CreateRun(ctx, handle, openai.RunRequest{
		AssistantID: c.assistantID,
	})
	if err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	return run.ID, nil
}

// PollJob retrieves the run's current status.
func (c *Client) PollJob(ctx context.Context, handle, jobID string) (status.RunStatus, error) {
	run, err := c.api.RetrieveRun(ctx, handle, jobID)
	if err != nil {
		return "", fmt.Errorf("retrieve run: %w", err)
	}

	mapped := mapRunStatus(run.Status)
	if mapped.IsTerminal() {
		metrics.EngineJobsTotal.WithLabelValues(mapped.String()).Inc()
	}
	return mapped, nil
}

// CancelJob cancels the run remotely. Cancelling an already-terminal run is
// not an error worth surfacing.
func (c *Client) CancelJob(ctx context.Context, handle, jobID string) error {
	if _, err := c.api.CancelRun(ctx, handle, jobID); err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == 400 {
			return nil
		}
		return fmt.Errorf("cancel run: %w", err)
	}
	return nil
}

// FetchLatestReply returns the assistant's newest message with citation
// markers stripped.
func (c *Client) FetchLatestReply(ctx context.Context, handle string) (string, error) {
	limit := 10
	order := "desc"
	list, err := c.api.ListMessage(ctx, handle, &limit, &order, nil, nil, nil)
	if err != nil {
		return "", fmt.Errorf("list messages: %w", err)
	}

	for _, msg := range list.Messages {
		if msg.Role != openai.ChatMessageRoleAssistant {
			continue
		}
		for _, part := range msg.Content {
			if part.Text != nil && part.Text.Value != "" {
				return stripCitations(part.Text.Value), nil
			}
		}
	}

	return "", fmt.Errorf("no assistant reply in thread %s", handle)
}

func stripCitations(text string) string {
	return strings.TrimSpace(citationPattern.ReplaceAllString(text, ""))
}

func mapRunStatus(s openai.RunStatus) status.RunStatus {
	switch s {
	case openai.RunStatusQueued, openai.RunStatusInProgress, openai.RunStatusCancelling:
		return status.StatusPolling
	case openai.RunStatusCompleted:
		return status.StatusCompleted
	case openai.RunStatusRequiresAction:
		return status.StatusRequiresAction
	case openai.RunStatusCancelled:
		return status.StatusCancelled
	case openai.RunStatusExpired:
		return status.StatusExpired
	case openai.RunStatusFailed:
		return status.StatusFailed
	default:
		// Statuses this adapter does not know are treated as failures rather
		// than polled forever.
		return status.StatusFailed
	}
}
