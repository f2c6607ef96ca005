package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mailroomd/mailroom/internal/domain"
	"github.com/mailroomd/mailroom/internal/store"
)

const (
	defaultRequestTimeout = 10 * time.Second
	notificationsPath     = "/rest/v1/notifications"

	selectColumns = "id,recipient,title,message,status,last_error,sent_at,attempt_count,next_attempt_at,claimed_at,created_at"
)

var _ store.Store = (*Client)(nil)

// Client talks to a PostgREST-style record store. All writes are partial
// PATCHes by id; conditional writes add a status filter and rely on the
// returned row count to detect lost races.
type Client struct {
	http    *resty.Client
	baseURL string
	now     func() time.Time
}

func NewClient(baseURL, serviceKey string) (*Client, error) {
	httpClient := resty.New()
	httpClient.SetTimeout(defaultRequestTimeout)
	httpClient.SetRetryCount(0)

	return NewClientWithHTTP(baseURL, serviceKey, httpClient)
}

func NewClientWithHTTP(baseURL, serviceKey string, httpClient *resty.Client) (*Client, error) {
	trimmedURL := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmedURL == "" {
		return nil, fmt.Errorf("store base url is required")
	}
	if _, err := url.ParseRequestURI(trimmedURL); err != nil {
		return nil, fmt.Errorf("invalid store base url: %w", err)
	}
	if strings.TrimSpace(serviceKey) == "" {
		return nil, fmt.Errorf("store service key is required")
	}
	if httpClient == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if httpClient.GetClient().Timeout == 0 {
		httpClient.SetTimeout(defaultRequestTimeout)
	}
	httpClient.SetRetryCount(0)
	httpClient.SetHeader("apikey", serviceKey)
	httpClient.SetHeader("Authorization", "Bearer "+serviceKey)
	httpClient.SetHeader("Content-Type", "application/json")

	return &Client{
		http:    httpClient,
		baseURL: trimmedURL,
		now:     time.Now,
	}, nil
}

// notificationRow is the store's JSON shape. Optional columns stay pointers so
// null and absent survive the round trip.
type notificationRow struct {
	ID            string     `json:"id"`
	Recipient     *string    `json:"recipient"`
	Title         string     `json:"title"`
	Message       string     `json:"message"`
	Status        string     `json:"status"`
	LastError     *string    `json:"last_error"`
	SentAt        *time.Time `json:"sent_at"`
	AttemptCount  int        `json:"attempt_count"`
	NextAttemptAt *time.Time `json:"next_attempt_at"`
	ClaimedAt     *time.Time `json:"claimed_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (row *notificationRow) toDomain() (domain.Notification, error) {
	status, err := domain.ParseStatusFromString(row.Status)
	if err != nil {
		return domain.Notification{}, fmt.Errorf("record %s: %w", row.ID, err)
	}

	recipient := ""
	if row.Recipient != nil {
		recipient = *row.Recipient
	}

	return domain.Notification{
		ID:            row.ID,
		Recipient:     recipient,
		Title:         row.Title,
		Message:       row.Message,
		Status:        status,
		LastError:     row.LastError,
		SentAt:        row.SentAt,
		AttemptCount:  row.AttemptCount,
		NextAttemptAt: row.NextAttemptAt,
		ClaimedAt:     row.ClaimedAt,
		CreatedAt:     row.CreatedAt,
	}, nil
}

func (c *Client) SelectPending(ctx context.Context, limit int) ([]domain.Notification, error) {
	if limit < 1 {
		return nil, fmt.Errorf("%w: limit must be positive", domain.ErrValidation)
	}

	nowUTC := c.now().UTC().Format(time.RFC3339)

	var rows []notificationRow
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("select", selectColumns).
		SetQueryParam("status", "eq."+domain.StatusPending.String()).
		SetQueryParam("recipient", "not.is.null").
		SetQueryParam("or", fmt.Sprintf("(next_attempt_at.is.null,next_attempt_at.lte.%s)", nowUTC)).
		SetQueryParam("order", "created_at.asc").
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&rows).
		Get(c.baseURL + notificationsPath)
	if err != nil {
		return nil, fmt.Errorf("store select request failed: %w", err)
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	notifications := make([]domain.Notification, 0, len(rows))
	for i := range rows {
		n, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}

	return notifications, nil
}

func (c *Client) Claim(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: id is required", domain.ErrValidation)
	}

	body := map[string]any{
		"status":     domain.StatusInProgress.String(),
		"claimed_at": c.now().UTC().Format(time.RFC3339),
	}

	rows, err := c.patch(ctx, body, map[string]string{
		"id":     "eq." + id,
		"status": "eq." + domain.StatusPending.String(),
	})
	if err != nil {
		return fmt.Errorf("store claim failed: %w", err)
	}

	// Zero rows means the pending precondition no longer held.
	if len(rows) == 0 {
		return fmt.Errorf("%w: %s", domain.ErrConflict, id)
	}

	return nil
}

func (c *Client) RecordOutcome(ctx context.Context, id string, outcome store.Outcome) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: id is required", domain.ErrValidation)
	}
	if err := outcome.Validate(); err != nil {
		return err
	}

	rows, err := c.patch(ctx, outcomePatch(outcome), map[string]string{
		"id": "eq." + id,
	})
	if err != nil {
		return fmt.Errorf("store outcome write failed: %w", err)
	}
	if len(rows) == 0 {
		return domain.ErrNotFound
	}

	return nil
}

func (c *Client) ReleaseStale(ctx context.Context, claimedBefore time.Time, limit int) (int, error) {
	if limit < 1 {
		return 0, fmt.Errorf("%w: limit must be positive", domain.ErrValidation)
	}

	body := map[string]any{
		"status":     domain.StatusPending.String(),
		"claimed_at": nil,
	}

	// Limited PATCHes must order by a unique column or PostgREST rejects them.
	rows, err := c.patch(ctx, body, map[string]string{
		"status":     "eq." + domain.StatusInProgress.String(),
		"claimed_at": "lt." + claimedBefore.UTC().Format(time.RFC3339),
		"order":      "id.asc",
		"limit":      strconv.Itoa(limit),
	})
	if err != nil {
		return 0, fmt.Errorf("store stale release failed: %w", err)
	}

	return len(rows), nil
}

func (c *Client) patch(ctx context.Context, body map[string]any, params map[string]string) ([]notificationRow, error) {
	var rows []notificationRow
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Prefer", "return=representation").
		SetQueryParams(params).
		SetBody(body).
		SetResult(&rows).
		Patch(c.baseURL + notificationsPath)
	if err != nil {
		return nil, err
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	return rows, nil
}

// outcomePatch maps an outcome to exactly the columns it touches.
func outcomePatch(outcome store.Outcome) map[string]any {
	switch outcome.Result {
	case store.ResultSent:
		return map[string]any{
			"status":     domain.StatusSent.String(),
			"sent_at":    outcome.SentAt.UTC().Format(time.RFC3339),
			"last_error": nil,
		}
	case store.ResultFailed:
		return map[string]any{
			"status":        domain.StatusFailed.String(),
			"last_error":    outcome.Error,
			"attempt_count": outcome.AttemptCount,
		}
	case store.ResultSkipped:
		return map[string]any{
			"status": domain.StatusSkipped.String(),
		}
	case store.ResultRetry:
		return map[string]any{
			"status":          domain.StatusPending.String(),
			"last_error":      outcome.Error,
			"attempt_count":   outcome.AttemptCount,
			"next_attempt_at": outcome.NextAttemptAt.UTC().Format(time.RFC3339),
			"claimed_at":      nil,
		}
	}
	return nil
}

func checkResponse(resp *resty.Response) error {
	if resp == nil {
		return fmt.Errorf("store returned empty response")
	}

	statusCode := resp.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return nil
	}

	body := strings.TrimSpace(resp.String())
	if body == "" {
		return fmt.Errorf("store returned status %d", statusCode)
	}
	return fmt.Errorf("store returned status %d: %s", statusCode, body)
}
