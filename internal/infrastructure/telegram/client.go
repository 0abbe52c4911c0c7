// Package telegram implements the messaging-platform transport over the Bot
// API: outbound delivery and voice-note download.
package telegram

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// Client talks to the Bot API for one bot token.
type Client struct {
	http  *resty.Client
	token string
	log   zerolog.Logger
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		FilePath string `json:"file_path"`
	} `json:"result"`
}

// NewClient builds the transport client.
func NewClient(token string, log zerolog.Logger) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL("https://api.telegram.org").
			SetTimeout(30 * time.Second),
		token: token,
		log:   log.With().Str("component", "telegram").Logger(),
	}
}

// SendText delivers a plain text reply.
func (c *Client) SendText(ctx context.Context, conversationID, text string) error {
	var result apiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"chat_id": conversationID,
			"text":    text,
		}).
		SetResult(&result).
		Post(fmt.Sprintf("/bot%s/sendMessage", c.token))
	return c.check(resp, err, &result, "sendMessage")
}

// SendVoice delivers a voice note from a local audio file.
func (c *Client) SendVoice(ctx context.Context, conversationID, audioPath string) error {
	var result apiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetFile("voice", audioPath).
		SetFormData(map[string]string{"chat_id": conversationID}).
		SetResult(&result).
		Post(fmt.Sprintf("/bot%s/sendVoice", c.token))
	return c.check(resp, err, &result, "sendVoice")
}

// SendChatAction signals typing / recording while a turn is in flight.
func (c *Client) SendChatAction(ctx context.Context, conversationID, action string) error {
	var result apiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"chat_id": conversationID,
			"action":  action,
		}).
		SetResult(&result).
		Post(fmt.Sprintf("/bot%s/sendChatAction", c.token))
	return c.check(resp, err, &result, "sendChatAction")
}

// DownloadVoice fetches the raw bytes of an inbound voice note.
func (c *Client) DownloadVoice(ctx context.Context, fileID string) ([]byte, error) {
	var result apiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("file_id", fileID).
		SetResult(&result).
		Get(fmt.Sprintf("/bot%s/getFile", c.token))
	if err := c.check(resp, err, &result, "getFile"); err != nil {
		return nil, err
	}
	if result.Result.FilePath == "" {
		return nil, fmt.Errorf("getFile returned no file path for %s", fileID)
	}

	fileResp, err := c.http.R().
		SetContext(ctx).
		Get(fmt.Sprintf("/file/bot%s/%s", c.token, result.Result.FilePath))
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	if fileResp.IsError() {
		return nil, fmt.Errorf("download file: status %d", fileResp.StatusCode())
	}
	return fileResp.Body(), nil
}

func (c *Client) check(resp *resty.Response, err error, result *apiResponse, method string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if resp.IsError() || !result.OK {
		return fmt.Errorf("%s: %s (status %d)", method, result.Description, resp.StatusCode())
	}
	return nil
}
