package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// HTTPDoer abstracts http.Client for ease of testing, matching the seam
// nhbchain's native/swap oracle adapters use.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPUpstream fetches a Pyth/Switchboard-shaped price document over HTTP:
// {"price": <scaled integer>, "publishTime": <unix seconds>}, with price as a
// JSON number. The wire
// format itself is out of scope for this engine (spec.md §1); this adapter
// is a concrete, swappable reference implementation of the Upstream seam.
type HTTPUpstream struct {
	client   HTTPDoer
	endpoint string
	apiKey   string
}

// NewHTTPUpstream builds an HTTPUpstream against endpoint. When client is
// nil, http.DefaultClient is used. apiKey, when non-empty, is sent as an
// x-api-key header.
func NewHTTPUpstream(client HTTPDoer, endpoint, apiKey string) *HTTPUpstream {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPUpstream{client: client, endpoint: strings.TrimSpace(endpoint), apiKey: strings.TrimSpace(apiKey)}
}

// FetchPrice implements Upstream by querying the configured endpoint for
// symbol and parsing the scaled integer price out of the response.
func (u *HTTPUpstream) FetchPrice(ctx context.Context, symbol string) (uint64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("oracle: build request: %w", err)
	}
	values := url.Values{}
	values.Set("symbol", symbol)
	req.URL.RawQuery = values.Encode()
	if u.apiKey != "" {
		req.Header.Set("x-api-key", u.apiKey)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrUpstream, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Price       uint64 `json:"price"`
		PublishTime int64  `json:"publishTime"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("%w: decode: %s", ErrUpstream, err)
	}
	if payload.Price == 0 {
		return 0, fmt.Errorf("%w: zero price for %s", ErrUpstream, symbol)
	}
	return payload.Price, nil
}
