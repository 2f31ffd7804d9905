package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/model"
)

const maxResponseBytes = 8 << 20

// Client talks to the backend over HTTP JSON.
type Client struct {
	urls   config.URLs
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a client for the given endpoint templates.
func NewClient(urls config.URLs, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{urls: urls, http: httpClient, logger: logger}
}

var _ Backend = (*Client)(nil)

func (c *Client) ListChanges(ctx context.Context, since time.Time) (model.ChangeSet, error) {
	const op = "list changes"
	ts := ""
	if !since.IsZero() {
		ts = since.UTC().Format(time.RFC3339Nano)
	}
	env, err := c.do(ctx, op, http.MethodGet, c.urls.ListChanges, map[string]string{"timestamp": ts}, nil)
	if err != nil {
		return model.ChangeSet{}, err
	}
	var cs model.ChangeSet
	if env.Changes != nil {
		cs.Changes = *env.Changes
	}
	if env.ServerTime != nil {
		cs.ServerTime = *env.ServerTime
	}
	return cs, nil
}

func (c *Client) SendMessage(ctx context.Context, req model.SendRequest) (model.Message, error) {
	const op = "send message"
	env, err := c.do(ctx, op, http.MethodPost, c.urls.SendMessage, map[string]string{"conversationId": req.ConversationID}, req)
	if err != nil {
		return model.Message{}, err
	}
	if env.Message == nil {
		return model.Message{}, &OpError{Op: op, Err: fmt.Errorf("response without message")}
	}
	return *env.Message, nil
}

func (c *Client) EditMessage(ctx context.Context, id, newText string) error {
	_, err := c.do(ctx, "edit message", http.MethodPost, c.urls.EditMessage, map[string]string{"id": id}, EditRequest{ID: id, NewText: newText})
	return err
}

func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	_, err := c.do(ctx, "delete message", http.MethodPost, c.urls.DeleteMessage, map[string]string{"id": id}, DeleteRequest{ID: id})
	return err
}

func (c *Client) UploadFile(ctx context.Context, f model.File) (model.Attachment, error) {
	const op = "upload file"
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, f.Name))
	ct := f.Type
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)
	part, err := mw.CreatePart(h)
	if err != nil {
		return model.Attachment{}, &OpError{Op: op, Err: err}
	}
	if _, err := part.Write(f.Data); err != nil {
		return model.Attachment{}, &OpError{Op: op, Err: err}
	}
	if err := mw.Close(); err != nil {
		return model.Attachment{}, &OpError{Op: op, Err: err}
	}

	env, err := c.send(ctx, op, http.MethodPost, c.urls.UploadFile, nil, &body, mw.FormDataContentType())
	if err != nil {
		return model.Attachment{}, err
	}
	if env.Attachment == nil {
		return model.Attachment{}, &OpError{Op: op, Err: fmt.Errorf("response without attachment")}
	}
	return *env.Attachment, nil
}

func (c *Client) SaveDraft(ctx context.Context, d model.Draft) error {
	if d.Attachments == nil {
		d.Attachments = []model.Attachment{}
	}
	_, err := c.do(ctx, "save draft", http.MethodPost, c.urls.SaveDraft, map[string]string{"conversationId": d.ConversationID}, d)
	return err
}

func (c *Client) GetDraft(ctx context.Context, conversationID string) (model.Draft, error) {
	env, err := c.do(ctx, "get draft", http.MethodGet, c.urls.GetDraft, map[string]string{"conversationId": conversationID}, nil)
	if err != nil {
		return model.Draft{}, err
	}
	d := model.Draft{ConversationID: conversationID}
	if env.Draft != nil {
		d.Text = env.Draft.Text
		d.Attachments = env.Draft.Attachments
	}
	return d, nil
}

func (c *Client) StartConversation(ctx context.Context, participants []string) (model.Conversation, error) {
	const op = "start conversation"
	env, err := c.do(ctx, op, http.MethodPost, c.urls.StartConversation, nil, StartConversationRequest{Participants: participants})
	if err != nil {
		return model.Conversation{}, err
	}
	if env.Conversation == nil {
		return model.Conversation{}, &OpError{Op: op, Err: fmt.Errorf("response without conversation")}
	}
	return *env.Conversation, nil
}

func (c *Client) AddParticipant(ctx context.Context, conversationID, userID string) error {
	vars := map[string]string{"conversationId": conversationID, "userId": userID}
	_, err := c.do(ctx, "add participant", http.MethodPost, c.urls.AddParticipant, vars, ParticipantRequest{ConversationID: conversationID, UserID: userID})
	return err
}

func (c *Client) RemoveParticipant(ctx context.Context, conversationID, userID string) error {
	vars := map[string]string{"conversationId": conversationID, "userId": userID}
	_, err := c.do(ctx, "remove participant", http.MethodPost, c.urls.RemoveParticipant, vars, ParticipantRequest{ConversationID: conversationID, UserID: userID})
	return err
}

func (c *Client) MarkAsRead(ctx context.Context, conversationID string, messageIDs []string) error {
	_, err := c.do(ctx, "mark as read", http.MethodPost, c.urls.MarkAsRead, map[string]string{"conversationId": conversationID}, MarkAsReadRequest{ConversationID: conversationID, MessageIDs: messageIDs})
	return err
}

func (c *Client) SearchUsers(ctx context.Context, query string) ([]model.User, error) {
	env, err := c.do(ctx, "search users", http.MethodGet, c.urls.SearchUsers, map[string]string{"query": query}, nil)
	if err != nil {
		return nil, err
	}
	return env.Results, nil
}

// do sends an optional JSON body and decodes the envelope.
func (c *Client) do(ctx context.Context, op, method, tmpl string, vars map[string]string, payload any) (*Envelope, error) {
	var (
		body        io.Reader
		contentType string
	)
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, &OpError{Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	}
	return c.send(ctx, op, method, tmpl, vars, body, contentType)
}

func (c *Client) send(ctx context.Context, op, method, tmpl string, vars map[string]string, body io.Reader, contentType string) (*Envelope, error) {
	if tmpl == "" {
		return nil, &OpError{Op: op, Err: fmt.Errorf("no url configured")}
	}
	target, err := c.resolve(tmpl, vars)
	if err != nil {
		return nil, &OpError{Op: op, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, &OpError{Op: op, Err: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &OpError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	var env Envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&env); err != nil {
		c.logger.Debug("malformed response", zap.String("op", op), zap.Int("status", resp.StatusCode), zap.Error(err))
		return nil, &OpError{Op: op, Err: fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)}
	}
	if !env.OK {
		return nil, Reject(op, env.Error)
	}
	return &env, nil
}

// resolve substitutes placeholders and joins relative templates with the base URL.
func (c *Client) resolve(tmpl string, vars map[string]string) (string, error) {
	for k, v := range vars {
		tmpl = strings.ReplaceAll(tmpl, "{"+k+"}", url.QueryEscape(v))
	}
	u, err := url.Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.IsAbs() || c.urls.BaseURL == "" {
		return u.String(), nil
	}
	base, err := url.Parse(c.urls.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	return base.ResolveReference(u).String(), nil
}
