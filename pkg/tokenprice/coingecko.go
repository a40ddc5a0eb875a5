package tokenprice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the public CoinGecko API.
const DefaultBaseURL = "https://api.coingecko.com/api/v3"

// DefaultSymbolIDs maps provider token tickers to CoinGecko ids.
var DefaultSymbolIDs = map[string]string{
	"AKT":    "akash-network",
	"RNDR":   "render-token",
	"RENDER": "render-token",
	"FLUX":   "zelcash",
	"GLM":    "golem",
	"TAO":    "bittensor",
	"NOS":    "nosana",
	"ATH":    "aethir",
	"IO":     "io-net",
	"ETH":    "ethereum",
	"SOL":    "solana",
	"USDC":   "usd-coin",
}

// HTTPSource fetches prices from the CoinGecko simple price endpoint.
type HTTPSource struct {
	baseURL string
	apiKey  string
	client  *http.Client
	ids     map[string]string
}

var _ Source = (*HTTPSource)(nil)

// HTTPOption configures an HTTPSource.
type HTTPOption func(*HTTPSource)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) HTTPOption {
	return func(s *HTTPSource) { s.baseURL = strings.TrimRight(u, "/") }
}

// WithAPIKey sets the demo API key header.
func WithAPIKey(key string) HTTPOption {
	return func(s *HTTPSource) { s.apiKey = key }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPSource) { s.client = c }
}

// WithSymbolIDs adds or overrides symbol to id mappings.
func WithSymbolIDs(ids map[string]string) HTTPOption {
	return func(s *HTTPSource) {
		for sym, id := range ids {
			s.ids[NormalizeSymbol(sym)] = id
		}
	}
}

// NewHTTPSource creates a CoinGecko source.
func NewHTTPSource(opts ...HTTPOption) *HTTPSource {
	s := &HTTPSource{
		baseURL: DefaultBaseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		ids:     make(map[string]string, len(DefaultSymbolIDs)),
	}
	for sym, id := range DefaultSymbolIDs {
		s.ids[sym] = id
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the CoinGecko id for a symbol, defaulting to its lower-case form.
func (s *HTTPSource) ID(symbol string) string {
	symbol = NormalizeSymbol(symbol)
	if id, ok := s.ids[symbol]; ok {
		return id
	}
	return strings.ToLower(symbol)
}

type simplePriceResponse map[string]map[string]float64

func (s *HTTPSource) FetchPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	if len(symbols) == 0 {
		return map[string]float64{}, nil
	}

	bySymbol := make(map[string]string, len(symbols))
	idSet := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		sym = NormalizeSymbol(sym)
		id := s.ID(sym)
		bySymbol[sym] = id
		idSet[id] = true
	}
	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", "usd")
	endpoint := s.baseURL + "/simple/price?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &Error{Code: CodeNetwork, Message: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &Error{Code: CodeNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{
			Code:       CodeRateLimit,
			Message:    "rate limited by price API",
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	case resp.StatusCode >= 500:
		return nil, &Error{Code: CodeNetwork, Message: fmt.Sprintf("price API returned %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &Error{Code: CodeInvalidToken, Message: fmt.Sprintf("price API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	}

	var payload simplePriceResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &Error{Code: CodeNetwork, Message: "decode response", Err: err}
	}

	out := make(map[string]float64, len(bySymbol))
	for sym, id := range bySymbol {
		if entry, ok := payload[id]; ok {
			if usd, ok := entry["usd"]; ok {
				out[sym] = usd
			}
		}
	}
	return out, nil
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
