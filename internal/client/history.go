package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"chat-relay/internal/models"
)

// HistoryClient reads stored conversations and messages over the relay's HTTP API.
type HistoryClient struct {
	baseURL string
	http    *http.Client
}

// NewHistoryClient targets baseURL, e.g. http://localhost:8083. A nil
// httpClient uses a client with a 10s timeout.
func NewHistoryClient(baseURL string, httpClient *http.Client) *HistoryClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HistoryClient{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Conversations lists the conversations of identityID, newest first.
func (h *HistoryClient) Conversations(ctx context.Context, identityID string) ([]models.Conversation, error) {
	var resp struct {
		Conversations []models.Conversation `json:"conversations"`
	}
	if err := h.do(ctx, http.MethodGet, "/conversations/"+url.PathEscape(identityID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// Messages returns one chronological page of chatID; skip=0 is the newest page.
func (h *HistoryClient) Messages(ctx context.Context, chatID string, limit, skip int) ([]models.Message, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if skip > 0 {
		q.Set("skip", strconv.Itoa(skip))
	}
	path := "/messages/" + url.PathEscape(chatID)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	if err := h.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// MarkRead marks the messages of chatID not sent by readerID as read.
func (h *HistoryClient) MarkRead(ctx context.Context, chatID, readerID string) (int64, error) {
	var resp struct {
		Updated int64 `json:"updated"`
	}
	body := map[string]string{"readerId": readerID}
	if err := h.do(ctx, http.MethodPut, "/messages/"+url.PathEscape(chatID)+"/read", body, &resp); err != nil {
		return 0, err
	}
	return resp.Updated, nil
}

func (h *HistoryClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	var (
		req *http.Request
		err error
	)
	if reader != nil {
		req, err = http.NewRequestWithContext(ctx, method, h.baseURL+path, reader)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, h.baseURL+path, nil)
	}
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, apiErr.Error)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
