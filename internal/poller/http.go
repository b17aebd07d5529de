package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yangwenmai/letterlock/internal/letter"
	"github.com/yangwenmai/letterlock/internal/model"
)

// HTTPChecker calls GET /api/verify on a letterlock server.
type HTTPChecker struct {
	baseURL string
	client  *http.Client
}

// NewHTTPChecker creates a checker for the server at baseURL.
func NewHTTPChecker(baseURL string, timeout time.Duration) *HTTPChecker {
	return &HTTPChecker{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type errorBody struct {
	Error string     `json:"error"`
	Code  model.Kind `json:"code"`
}

// Check performs one verification request. Error responses are returned as
// *model.Error carrying the server's error code.
func (c *HTTPChecker) Check(ctx context.Context, in letter.VerifyInput) (*letter.VerifyResult, error) {
	q := url.Values{}
	q.Set("artifactId", in.ArtifactID)
	if in.GatewaySessionID != "" {
		q.Set("gatewaySessionId", in.GatewaySessionID)
	}
	if in.OwnerSessionID != "" {
		q.Set("ownerSessionId", in.OwnerSessionID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/verify?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var eb errorBody
		if err := json.Unmarshal(body, &eb); err != nil || eb.Code == "" {
			return nil, fmt.Errorf("verify: HTTP %d", resp.StatusCode)
		}
		return nil, model.NewError(eb.Code, eb.Error, nil)
	}

	var v letter.VerifyResult
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("decode verify response: %w", err)
	}
	return &v, nil
}
