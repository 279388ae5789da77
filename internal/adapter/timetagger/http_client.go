package timetagger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"timetagger-sensors/internal/domain"
)

const (
	recordsPath    = "/api/v2/records"
	requestTimeout = 30 * time.Second
	maxErrorBody   = 4096
)

// APIError is returned when the records endpoint answers with a non-200 status.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("TimeTagger API error: %d", e.Status)
}

// Client implements ports.RecordsClient against the TimeTagger v2 API.
type Client struct {
	recordsURL string
	token      string
	http       *resty.Client
	log        *slog.Logger
}

// NewClient builds a client for the TimeTagger instance at apiURL.
func NewClient(apiURL, token string, log *slog.Logger) *Client {
	rc := resty.New().
		SetTimeout(requestTimeout).
		SetHeader("Accept", "application/json")
	return &Client{
		recordsURL: RecordsURL(apiURL),
		token:      token,
		http:       rc,
		log:        log,
	}
}

// RecordsURL appends the records path to the configured API URL as-is.
// A trailing slash on apiURL is kept, matching what existing entries were set up with.
func RecordsURL(apiURL string) string {
	return apiURL + recordsPath
}

// ListRecords fetches records in [from, to].
// TimeTagger v2: GET /api/v2/records?timerange=<t1>-<t2>
func (c *Client) ListRecords(ctx context.Context, from, to time.Time) ([]domain.Record, error) {
	if c.token == "" {
		return nil, errors.New("timetagger: missing api token")
	}
	timerange := strconv.FormatInt(from.Unix(), 10) + "-" + strconv.FormatInt(to.Unix(), 10)

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("authtoken", c.token).
		SetQueryParam("timerange", timerange).
		Get(c.recordsURL)
	if err != nil {
		return nil, fmt.Errorf("timetagger: request records: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		body := resp.String()
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		c.log.Debug("timetagger request rejected",
			slog.Int("status", resp.StatusCode()),
			slog.String("timerange", timerange),
		)
		return nil, &APIError{Status: resp.StatusCode(), Body: body}
	}

	var payload recordsResponse
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, fmt.Errorf("timetagger: decode records: %w", err)
	}

	out := make([]domain.Record, 0, len(payload.Records))
	for _, r := range payload.Records {
		out = append(out, domain.Record{
			Key: r.Key,
			T1:  toSeconds(r.T1),
			T2:  toSeconds(r.T2),
			DS:  r.DS,
		})
	}
	return out, nil
}

func toSeconds(v *float64) *int64 {
	if v == nil {
		return nil
	}
	s := int64(*v)
	return &s
}

// recordsResponse mirrors the JSON from TimeTagger v2. Timestamps may be
// fractional, so they are decoded as floats and truncated.
type recordsResponse struct {
	Records []rawRecord `json:"records"`
}

type rawRecord struct {
	Key string   `json:"key"`
	T1  *float64 `json:"t1"`
	T2  *float64 `json:"t2"`
	DS  string   `json:"ds"`
}
