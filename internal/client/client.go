package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"taskstream/internal/logging"
	"taskstream/internal/metrics"
	"taskstream/internal/types"
)

const (
	defaultBaseURL = "http://localhost:8000"
	defaultTimeout = 10 * time.Second
	apiPrefix      = "/api/v1/ai"
)

type Options struct {
	BaseURL string
	UserID  int64
	Timeout time.Duration
	Logger  logging.Logger
	// StreamLogger receives per-stream debug lines. Nil disables them.
	StreamLogger logging.Logger
	Metrics      *metrics.Metrics
	HTTPClient   *http.Client
}

// Client talks to the assistant backend on behalf of a single user.
type Client struct {
	baseURL   string
	userID    int64
	http      *http.Client
	stream    *http.Client
	logger    logging.Logger
	streamLog logging.Logger
	metrics   *metrics.Metrics
}

func New(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Client{
		baseURL:   baseURL,
		userID:    opts.UserID,
		http:      httpClient,
		stream:    &http.Client{Transport: httpClient.Transport},
		logger:    logger,
		streamLog: opts.StreamLogger,
		metrics:   opts.Metrics,
	}
}

func NewWithBaseURL(baseURL string, userID int64) *Client {
	return New(Options{BaseURL: baseURL, UserID: userID})
}

func (c *Client) UserID() int64 {
	return c.userID
}

func (c *Client) ListDialogues(ctx context.Context) ([]types.DialogueSummary, error) {
	var resp []types.DialogueSummary
	if err := c.doJSON(ctx, http.MethodGet, c.userQuery("/dialogues"), nil, &resp); err != nil {
		return nil, err
	}
	if resp == nil {
		resp = []types.DialogueSummary{}
	}
	return resp, nil
}

func (c *Client) GetDialogue(ctx context.Context, id int64) (*types.Dialogue, error) {
	var dialogue types.Dialogue
	if err := c.doJSON(ctx, http.MethodGet, c.userQuery(dialoguePath(id)), nil, &dialogue); err != nil {
		return nil, err
	}
	return &dialogue, nil
}

// CreateDialogue creates an empty dialogue. The backend picks a title when
// title is empty.
func (c *Client) CreateDialogue(ctx context.Context, title string) (*types.Dialogue, error) {
	req := CreateDialogueRequest{UserID: c.userID, Title: strings.TrimSpace(title)}
	var dialogue types.Dialogue
	if err := c.doJSON(ctx, http.MethodPost, "/dialogues", req, &dialogue); err != nil {
		return nil, err
	}
	if dialogue.ID == 0 {
		return nil, errors.New("create dialogue: response carried no id")
	}
	return &dialogue, nil
}

func (c *Client) RenameDialogue(ctx context.Context, id int64, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return errors.New("title is required")
	}
	req := RenameDialogueRequest{UserID: c.userID, Title: title}
	return c.doJSON(ctx, http.MethodPut, dialoguePath(id)+"/title", req, nil)
}

func (c *Client) DeleteDialogue(ctx context.Context, id int64) error {
	return c.doJSON(ctx, http.MethodDelete, c.userQuery(dialoguePath(id)), nil, nil)
}

func (c *Client) ConfirmAction(ctx context.Context, actionID string) error {
	return c.decide(ctx, actionID, "confirm")
}

func (c *Client) CancelAction(ctx context.Context, actionID string) error {
	return c.decide(ctx, actionID, "cancel")
}

func (c *Client) decide(ctx context.Context, actionID, op string) error {
	actionID = strings.TrimSpace(actionID)
	if actionID == "" {
		return errors.New("action id is required")
	}
	path := "/actions/" + url.PathEscape(actionID) + "/" + op
	return c.doJSON(ctx, http.MethodPost, path, ActionRequest{UserID: c.userID}, nil)
}

func dialoguePath(id int64) string {
	return "/dialogues/" + strconv.FormatInt(id, 10)
}

func (c *Client) userQuery(path string) string {
	return path + "?user_id=" + strconv.FormatInt(c.userID, 10)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// decodeAPIError understands both {"detail": ...} and {"error": ...} bodies.
func decodeAPIError(resp *http.Response) error {
	type errorPayload struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	var payload errorPayload
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	message := strings.TrimSpace(payload.Error)
	if len(payload.Detail) > 0 {
		var detail string
		if err := json.Unmarshal(payload.Detail, &detail); err == nil {
			message = detail
		} else {
			message = string(payload.Detail)
		}
	}
	if message == "" {
		message = resp.Status
	}
	return &APIError{StatusCode: resp.StatusCode, Message: message}
}

type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("api error (%d): %s", e.StatusCode, e.Message)
}

func asAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return nil
}

// IsNotFound reports a 404 from the backend. For actions this also covers
// ids the backend already resolved or timed out.
func IsNotFound(err error) bool {
	apiErr := asAPIError(err)
	return apiErr != nil && apiErr.StatusCode == http.StatusNotFound
}

func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if apiErr := asAPIError(err); apiErr != nil {
		return apiErr.StatusCode == http.StatusRequestTimeout || apiErr.StatusCode == http.StatusGatewayTimeout
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
