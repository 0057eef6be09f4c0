// Compatsync - Cross-Server Synchronization for Browser Compatibility Data
// Copyright 2026 The compatsync authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/browsercompat/compatsync

package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/browsercompat/compatsync/internal/config"
	"github.com/browsercompat/compatsync/internal/logging"
	"github.com/browsercompat/compatsync/internal/metrics"
	"github.com/browsercompat/compatsync/internal/schema"
)

// maxErrorBodySize limits how much of a response body is read for error
// reporting, preventing unbounded allocation on large error responses.
const maxErrorBodySize = 64 * 1024 // 64KB

// Page is one page of a collection listing in the server's stable order.
type Page struct {
	Records []schema.Record

	// Next is the opaque token (URL or cursor) for the following page;
	// empty signals the end of the collection.
	Next string
}

// Client talks to one compatibility API endpoint. Safe for concurrent use;
// each request builds its own *http.Request.
type Client struct {
	role    string // "source" or "destination"; label for logs and metrics
	baseURL string
	cfg     *config.EndpointConfig

	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
	backoff Backoff
	sleep   Sleeper
}

// NewClient creates a client for the endpoint described by cfg. The role
// names the endpoint in logs and metrics ("source" or "destination").
func NewClient(role string, cfg *config.EndpointConfig) *Client {
	limit := rate.Inf
	burst := cfg.RateBurst
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
	}

	c := &Client{
		role:    role,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		cfg:     cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(limit, burst),
		backoff: Backoff{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
		},
		sleep: SleepContext,
	}
	if c.backoff.MaxAttempts < 1 {
		c.backoff.MaxAttempts = 1
	}
	if cfg.Breaker {
		c.breaker = newBreaker(role)
	}
	return c
}

// Role returns the endpoint label ("source" or "destination").
func (c *Client) Role() string { return c.role }

// FetchPage retrieves one page of records of a resource type. An empty
// pageToken fetches the first page with the given page size; a non-empty
// token continues from where the previous page left off.
func (c *Client) FetchPage(ctx context.Context, resourceType, pageToken string, pageSize int) (*Page, error) {
	reqURL, err := c.pageURL(resourceType, pageToken, pageSize)
	if err != nil {
		return nil, err
	}

	op := "GET " + resourceType
	body, err := c.do(ctx, op, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	var doc struct {
		Results []map[string]any `json:"results"`
		Next    *string          `json:"next"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%s: decode page: %w", op, err)
	}

	page := &Page{Records: make([]schema.Record, 0, len(doc.Results))}
	for _, result := range doc.Results {
		rec, err := recordFromDoc(result)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		page.Records = append(page.Records, rec)
	}
	if doc.Next != nil && *doc.Next != "" {
		page.Next = *doc.Next
	}

	metrics.PagesFetched.WithLabelValues(resourceType).Inc()
	logging.Debug().
		Str("endpoint", c.role).
		Str("resource_type", resourceType).
		Int("records", len(page.Records)).
		Bool("last_page", page.Next == "").
		Msg("Fetched page")
	return page, nil
}

// Create submits a new record and returns the identifier the destination
// assigned to it.
func (c *Client) Create(ctx context.Context, resourceType string, fields map[string]any) (string, error) {
	op := "POST " + resourceType
	body, err := c.do(ctx, op, http.MethodPost, c.baseURL+"/"+resourceType, fields)
	if err != nil {
		return "", err
	}

	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("%s: decode created resource: %w", op, err)
	}
	rec, err := recordFromDoc(doc)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return rec.ID, nil
}

// Update patches fields of an existing record.
func (c *Client) Update(ctx context.Context, resourceType, id string, fields map[string]any) error {
	op := "PATCH " + resourceType
	_, err := c.do(ctx, op, http.MethodPatch, c.baseURL+"/"+resourceType+"/"+url.PathEscape(id), fields)
	return err
}

// FindByNaturalKey looks up a record on this endpoint by its natural key.
// The fields map supplies the filter values for composite lookups (with
// foreign keys already remapped to this endpoint's identifiers); it may
// be nil for types keyed by a single slug. Returns ErrNotFound when no
// record matches or when the type's natural key is not queryable
// server-side.
func (c *Client) FindByNaturalKey(ctx context.Context, rt schema.ResourceType, naturalKey string, fields map[string]any) (string, error) {
	query, err := lookupQuery(rt, naturalKey, fields)
	if err != nil {
		return "", err
	}

	op := "GET " + rt.Name
	reqURL := fmt.Sprintf("%s/%s?%s", c.baseURL, rt.Name, query.Encode())
	body, err := c.do(ctx, op, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", err
	}

	var doc struct {
		Results []map[string]any `json:"results"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("%s: decode lookup: %w", op, err)
	}
	if len(doc.Results) == 0 {
		return "", fmt.Errorf("%s %q: %w", rt.Name, naturalKey, ErrNotFound)
	}
	rec, err := recordFromDoc(doc.Results[0])
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return rec.ID, nil
}

// lookupQuery builds the filter parameters for a natural key lookup.
// Every declared lookup field must yield a value; a single-parameter
// lookup with no field values falls back to the natural key itself,
// which for slug-keyed types is the slug verbatim.
func lookupQuery(rt schema.ResourceType, naturalKey string, fields map[string]any) (url.Values, error) {
	if len(rt.LookupParams) == 0 {
		return nil, fmt.Errorf("%s natural key not queryable: %w", rt.Name, ErrNotFound)
	}

	query := url.Values{"page_size": {"1"}}
	for field, param := range rt.LookupParams {
		v, ok := fields[field]
		if !ok || v == nil {
			if len(rt.LookupParams) == 1 {
				query.Set(param, naturalKey)
				continue
			}
			return nil, fmt.Errorf("%s lookup missing field %q: %w", rt.Name, field, ErrNotFound)
		}
		s, err := schema.FieldString(v)
		if err != nil {
			return nil, fmt.Errorf("%s lookup field %q: %w", rt.Name, field, err)
		}
		query.Set(param, s)
	}
	return query, nil
}

// Ping verifies the endpoint is reachable and the credentials are accepted
// by fetching a single-record page of the given collection.
func (c *Client) Ping(ctx context.Context, resourceType string) error {
	_, err := c.FetchPage(ctx, resourceType, "", 1)
	return err
}

// pageURL builds the request URL for a collection page. Servers may hand
// back either a full URL or an opaque cursor as the next-page token.
func (c *Client) pageURL(resourceType, pageToken string, pageSize int) (string, error) {
	if pageToken != "" {
		if strings.HasPrefix(pageToken, "http://") || strings.HasPrefix(pageToken, "https://") {
			return pageToken, nil
		}
		if strings.HasPrefix(pageToken, "/") {
			base, err := url.Parse(c.baseURL)
			if err != nil {
				return "", fmt.Errorf("invalid base URL %q: %w", c.baseURL, err)
			}
			rel, err := url.Parse(pageToken)
			if err != nil {
				return "", fmt.Errorf("invalid page token %q: %w", pageToken, err)
			}
			return base.ResolveReference(rel).String(), nil
		}
		return fmt.Sprintf("%s/%s?%s", c.baseURL, resourceType,
			url.Values{"page": {pageToken}, "page_size": {strconv.Itoa(pageSize)}}.Encode()), nil
	}
	return fmt.Sprintf("%s/%s?%s", c.baseURL, resourceType,
		url.Values{"page_size": {strconv.Itoa(pageSize)}}.Encode()), nil
}

// do runs one API call with rate limiting, circuit breaking, and bounded
// retries of transient failures. Returns the response body on success.
func (c *Client) do(ctx context.Context, op, method, reqURL string, payload any) ([]byte, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request: %w", op, err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < c.backoff.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		start := time.Now()
		respBody, err := c.attempt(ctx, op, method, reqURL, body)
		metrics.APIRequestDuration.WithLabelValues(c.role, method).Observe(time.Since(start).Seconds())
		metrics.APIRequests.WithLabelValues(c.role, method, resultLabel(err)).Inc()

		if err == nil {
			return respBody, nil
		}

		var te *TransientError
		if !errors.As(err, &te) {
			return nil, err
		}
		lastErr = err

		if attempt == c.backoff.MaxAttempts-1 {
			break
		}

		delay := c.backoff.Delay(attempt)
		if te.RetryAfter > 0 {
			// Honor the server's requested delay, but never wait
			// longer than the configured ceiling.
			delay = te.RetryAfter
			if c.backoff.MaxDelay > 0 && delay > c.backoff.MaxDelay {
				delay = c.backoff.MaxDelay
			}
		}
		metrics.APIRetries.WithLabelValues(c.role).Inc()
		logging.Warn().
			Str("endpoint", c.role).
			Str("op", op).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(err).
			Msg("Transient failure, backing off")
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%s: retries exhausted after %d attempts: %w", op, c.backoff.MaxAttempts, lastErr)
}

// attempt performs a single HTTP round trip, routed through the circuit
// breaker when one is configured.
func (c *Client) attempt(ctx context.Context, op, method, reqURL string, body []byte) ([]byte, error) {
	if c.breaker == nil {
		return c.roundTrip(ctx, op, method, reqURL, body)
	}
	respBody, err := c.breaker.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, op, method, reqURL, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		// An open circuit behaves like any other transient outage: back
		// off and retry until the attempt budget runs out.
		return nil, &TransientError{Op: op, Err: err}
	}
	return respBody, err
}

// roundTrip executes the request once and maps the response onto the
// error taxonomy.
func (c *Client) roundTrip(ctx context.Context, op, method, reqURL string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, &FatalError{Op: op, Body: err.Error()}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// Caller-level cancellation is not a transport failure.
			return nil, ctx.Err()
		}
		// Includes the per-call client timeout.
		return nil, &TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &TransientError{Op: op, Err: fmt.Errorf("read response: %w", err)}
		}
		return data, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &TransientError{
			Op:         op,
			Status:     resp.StatusCode,
			Err:        errors.New("rate limited"),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}

	case resp.StatusCode >= 500:
		return nil, &TransientError{
			Op:     op,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("server error: %s", readBodyForError(resp.Body)),
		}

	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)

	case resp.StatusCode == http.StatusConflict:
		return nil, &ConflictError{Op: op, Body: string(readBodyForError(resp.Body))}

	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, &ValidationError{
			Op:      op,
			Status:  resp.StatusCode,
			Details: parseValidationDetails(resp.Body),
		}

	default:
		return nil, &FatalError{
			Op:     op,
			Status: resp.StatusCode,
			Body:   string(readBodyForError(resp.Body)),
		}
	}
}

// authorize attaches endpoint credentials to the request.
func (c *Client) authorize(req *http.Request) {
	switch {
	case c.cfg.Token != "":
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	case c.cfg.Username != "":
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}
}

// recordFromDoc splits a resource JSON document into its server-assigned
// identifier and the remaining fields.
func recordFromDoc(doc map[string]any) (schema.Record, error) {
	rawID, ok := doc["id"]
	if !ok {
		return schema.Record{}, errors.New("resource document has no id")
	}

	var id string
	switch v := rawID.(type) {
	case string:
		id = v
	case float64:
		id = strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return schema.Record{}, fmt.Errorf("unsupported id type %T", rawID)
	}
	if id == "" {
		return schema.Record{}, errors.New("resource document has empty id")
	}

	fields := make(map[string]any, len(doc)-1)
	for k, v := range doc {
		if k == "id" {
			continue
		}
		fields[k] = v
	}
	return schema.Record{ID: id, Fields: fields}, nil
}

// parseRetryAfter handles the delay-seconds form of the Retry-After
// header. The HTTP-date form is rare on rate limiters and falls back to
// the client's own backoff.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// parseValidationDetails extracts per-field error details from a
// validation response body. Falls back to the raw body under "detail".
func parseValidationDetails(r io.Reader) map[string]any {
	data := readBodyForError(r)

	var details map[string]any
	if err := json.Unmarshal(data, &details); err == nil {
		if inner, ok := details["errors"].(map[string]any); ok {
			return inner
		}
		return details
	}
	return map[string]any{"detail": string(data)}
}

// resultLabel maps a call outcome onto its metrics label.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case IsTransient(err):
		return "transient"
	case IsConflict(err):
		return "conflict"
	case IsValidation(err):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "fatal"
	}
}

// readBodyForError reads at most maxErrorBodySize of a response body for
// diagnostics.
func readBodyForError(r io.Reader) []byte {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(data) == maxErrorBodySize {
		return append(data, []byte("... (truncated)")...)
	}
	return data
}
