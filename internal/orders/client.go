package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jogardn/pharmacy-portal/internal/expiry"
)

const ExpirePath = "/admin/orders/expire"

// ExpiryClient lets an external scheduler trigger the expiry sweep over HTTP.
type ExpiryClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewExpiryClient(baseURL, token string, logger *logrus.Logger) *ExpiryClient {
	return &ExpiryClient{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
		logger: logger,
	}
}

// TriggerSweep calls the sweep endpoint. A 500 response still decodes into a
// Result carrying the error and request id; the returned error is non-nil only
// when no Result could be read.
func (c *ExpiryClient) TriggerSweep(ctx context.Context, dryRun bool) (*expiry.Result, error) {
	c.logger.WithField("dry_run", dryRun).Info("Triggering expiry sweep")

	jsonData, err := json.Marshal(expiry.Options{DryRun: dryRun})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sweep options: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+ExpirePath, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send sweep request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusInternalServerError {
		return nil, fmt.Errorf("sweep endpoint returned error status: %d", resp.StatusCode)
	}

	var result expiry.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode sweep response: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"status":     resp.StatusCode,
		"cancelled":  result.Cancelled,
		"request_id": result.RequestID,
	}).Info("Received sweep response")

	return &result, nil
}
