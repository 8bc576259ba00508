package feargreed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"cryptoSignalBot/internal/ports"

	"github.com/tidwall/gjson"
)

// DefaultURL is the public Fear & Greed index endpoint.
const DefaultURL = "https://api.alternative.me/fng/?limit=1"

// Client reads the crypto Fear & Greed index (0..100) and reports it as a
// sentiment score in [0,1].
type Client struct {
	url        string
	httpClient *http.Client
	logger     ports.Logger
}

// New creates a Fear & Greed client. An empty url uses DefaultURL.
func New(url string, logger ports.Logger) (*Client, error) {
	if logger == nil {
		return nil, fmt.Errorf("%w: logger is required for sentiment client", ports.ErrConfigurationError)
	}
	if url == "" {
		url = DefaultURL
	}
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}, nil
}

// Current fetches the latest index value.
func (c *Client) Current(ctx context.Context) (float64, error) {
	op := "FearGreed.Current"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return 0, fmt.Errorf("%s failed: %w: %w", op, ports.ErrInvalidRequest, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s failed: %w: %w", op, ports.ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%s failed: %w: status %d", op, ports.ErrExchangeUnavailable, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return 0, fmt.Errorf("%s failed reading body: %w", op, err)
	}

	value, err := parseIndex(body)
	if err != nil {
		return 0, fmt.Errorf("%s failed: %w: %v", op, ports.ErrDataGap, err)
	}
	c.logger.Debug(ctx, op+": Index fetched", map[string]interface{}{"value": value})
	return value / 100, nil
}

// parseIndex extracts data[0].value, which the API sends as a string.
func parseIndex(body []byte) (float64, error) {
	if !gjson.ValidBytes(body) {
		return 0, fmt.Errorf("invalid json payload")
	}
	v := gjson.GetBytes(body, "data.0.value")
	if !v.Exists() {
		return 0, fmt.Errorf("payload has no data.0.value")
	}
	value := v.Float()
	if value < 0 || value > 100 {
		return 0, fmt.Errorf("index %v outside [0,100]", value)
	}
	return value, nil
}
