// Package analysis wraps the external long-running receipt analysis
// operation: submit a document, poll the returned operation handle with
// backoff until a terminal state, and map the payload into a field record.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"receipts-backend/internal/fields"
	"receipts-backend/internal/shared/metrics"
	"receipts-backend/internal/shared/telemetry"
)

const (
	analyzePath = "/formrecognizer/documentModels/prebuilt-receipt:analyze"
	keyHeader   = "Ocp-Apim-Subscription-Key"

	defaultCallTimeout  = 10 * time.Second
	defaultInitialDelay = 2 * time.Second
	defaultMaxDelay     = 10 * time.Second
	defaultMaxAttempts  = 12
	defaultJitter       = 250 * time.Millisecond

	// minConfidence is the floor below which an extracted value is treated
	// as absent rather than propagated into the reviewed record.
	minConfidence = 0.5

	degradedMessage = "Failed to analyze receipt"
)

// Client drives the start/poll protocol. Analyze never returns an error to
// its caller; every failure degrades to a record with an error marker so one
// bad file cannot sink a batch.
type Client struct {
	endpoint   string
	key        string
	apiVersion string
	httpClient *http.Client

	callTimeout  time.Duration
	initialDelay time.Duration
	maxDelay     time.Duration
	maxAttempts  int

	sleep func(context.Context, time.Duration) error
	now   func() time.Time
}

// NewClient constructs an analysis client. Empty endpoint or key puts the
// client in demo mode: Analyze serves a fixed record without network calls.
func NewClient(endpoint, key, apiVersion string) *Client {
	return &Client{
		endpoint:     endpoint,
		key:          key,
		apiVersion:   apiVersion,
		httpClient:   &http.Client{Timeout: defaultCallTimeout},
		callTimeout:  defaultCallTimeout,
		initialDelay: defaultInitialDelay,
		maxDelay:     defaultMaxDelay,
		maxAttempts:  defaultMaxAttempts,
		sleep:        sleepCtx,
		now:          time.Now,
	}
}

// Configured reports whether a live analysis service is wired up.
func (c *Client) Configured() bool {
	return c.endpoint != "" && c.key != ""
}

// Analyze submits one file and blocks until its operation reaches a terminal
// state, degraded included.
func (c *Client) Analyze(ctx context.Context, fileName string, data []byte) fields.Record {
	if !c.Configured() {
		metrics.AnalysesTotal.WithLabelValues("demo").Inc()
		return fields.Demo(c.now())
	}

	start := c.now()
	rec := c.analyze(ctx, fileName, data)
	metrics.AnalysisDuration.Observe(c.now().Sub(start).Seconds())
	if rec.Error != "" {
		metrics.AnalysesTotal.WithLabelValues("degraded").Inc()
	} else {
		metrics.AnalysesTotal.WithLabelValues("succeeded").Inc()
	}
	return rec
}

func (c *Client) analyze(ctx context.Context, fileName string, data []byte) fields.Record {
	op, err := c.start(ctx, data)
	if err != nil {
		telemetry.Error("analysis.start.failed", map[string]any{
			"file": fileName,
			"err":  err.Error(),
		})
		return fields.Degraded(degradedMessage)
	}

	for op.attempts < c.maxAttempts {
		if err := c.sleep(ctx, op.delay); err != nil {
			return fields.Degraded(degradedMessage)
		}
		op.attempts++

		res, err := c.poll(ctx, op.handle)
		if err != nil {
			// A failed or timed-out call burns an attempt but does not
			// abort: the next poll may still find a terminal status.
			telemetry.Error("analysis.poll.failed", map[string]any{
				"file":    fileName,
				"attempt": op.attempts,
				"err":     err.Error(),
			})
			op.delay = c.nextDelay(op.delay)
			continue
		}

		op.status = serviceStatus(res.Status)
		switch op.status {
		case StatusSucceeded:
			return c.extract(res)
		case StatusFailed:
			telemetry.Error("analysis.failed", map[string]any{
				"file":   fileName,
				"status": res.Status,
			})
			return fields.Degraded(degradedMessage)
		}
		op.delay = c.nextDelay(op.delay)
	}

	op.status = StatusTimedOut
	telemetry.Error("analysis.timed_out", map[string]any{
		"file":     fileName,
		"attempts": op.attempts,
	})
	return fields.Degraded(degradedMessage)
}

// start submits the raw bytes and returns an operation primed for polling.
func (c *Client) start(ctx context.Context, data []byte) (*operation, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	url := fmt.Sprintf("%s%s?api-version=%s", c.endpoint, analyzePath, c.apiVersion)
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set(keyHeader, c.key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("analysis start: unexpected status %d", resp.StatusCode)
	}
	handle := resp.Header.Get("Operation-Location")
	if handle == "" {
		return nil, fmt.Errorf("analysis start: missing operation handle")
	}

	return &operation{
		handle: handle,
		status: StatusNotStarted,
		delay:  c.initialDelay,
	}, nil
}

type pollResponse struct {
	Status        string         `json:"status"`
	AnalyzeResult *analyzeResult `json:"analyzeResult"`
}

type analyzeResult struct {
	Documents []document `json:"documents"`
}

type document struct {
	Confidence float64               `json:"confidence"`
	Fields     map[string]fieldValue `json:"fields"`
}

type fieldValue struct {
	Content     string  `json:"content"`
	ValueString string  `json:"valueString"`
	ValueDate   string  `json:"valueDate"`
	Confidence  float64 `json:"confidence"`
}

func (c *Client) poll(ctx context.Context, handle string) (*pollResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, handle, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(keyHeader, c.key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("analysis poll: unexpected status %d", resp.StatusCode)
	}

	var parsed pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("analysis poll: decode: %w", err)
	}
	return &parsed, nil
}

// extract maps the terminal payload to a flat record, dropping any value
// whose confidence is below the floor.
func (c *Client) extract(res *pollResponse) fields.Record {
	if res.AnalyzeResult == nil || len(res.AnalyzeResult.Documents) == 0 {
		return fields.Degraded(degradedMessage)
	}
	doc := res.AnalyzeResult.Documents[0]

	rec := fields.Record{Confidence: doc.Confidence}
	rec.Vendor = confidentValue(doc.Fields, "MerchantName")
	rec.Total = confidentValue(doc.Fields, "Total")
	rec.TransactionDate = confidentValue(doc.Fields, "TransactionDate")
	rec.Address = confidentValue(doc.Fields, "MerchantAddress")
	rec.Phone = confidentValue(doc.Fields, "MerchantPhoneNumber")
	rec.Subtotal = confidentValue(doc.Fields, "Subtotal")
	rec.Tax = confidentValue(doc.Fields, "TotalTax")
	return rec
}

func confidentValue(values map[string]fieldValue, name string) string {
	fv, ok := values[name]
	if !ok || fv.Confidence < minConfidence {
		return ""
	}
	if fv.ValueString != "" {
		return fv.ValueString
	}
	if fv.ValueDate != "" {
		return fv.ValueDate
	}
	return fv.Content
}

// nextDelay grows the poll interval geometrically with jitter so concurrent
// files in one batch do not synchronize their polls.
func (c *Client) nextDelay(prev time.Duration) time.Duration {
	next := time.Duration(float64(prev)*1.2) + time.Duration(rand.Int63n(int64(defaultJitter)))
	if next > c.maxDelay {
		next = c.maxDelay
	}
	return next
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
