package artisan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tendant/artisan-nft/pkg/artisan/contentid"
)

// DefaultGateway is the public HTTP gateway used when none is configured.
const DefaultGateway = "https://ipfs.io/ipfs/"

// LocatorScheme is the content-addressed locator scheme prefix.
const LocatorScheme = "ipfs://"

const maxMetadataBytes = 4 << 20

// Locator returns the content locator for a content identifier.
func Locator(contentID string) string {
	return LocatorScheme + contentID
}

// Resolver turns content locators into fetchable gateway URLs and fetches
// off-ledger JSON through them.
type Resolver struct {
	gateway    string
	httpClient *http.Client
	logger     *slog.Logger
}

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithHTTPClient sets the HTTP client used for gateway fetches
func WithHTTPClient(client *http.Client) ResolverOption {
	return func(r *Resolver) {
		r.httpClient = client
	}
}

// WithResolverLogger sets the logger for resolution failures
func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver creates a Resolver for the given gateway base URL. An empty
// gateway selects DefaultGateway.
func NewResolver(gateway string, opts ...ResolverOption) *Resolver {
	if gateway == "" {
		gateway = DefaultGateway
	}
	if !strings.HasSuffix(gateway, "/") {
		gateway += "/"
	}
	r := &Resolver{
		gateway:    gateway,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Gateway returns the configured gateway base URL.
func (r *Resolver) Gateway() string {
	return r.gateway
}

// Resolve returns a fetchable URL for the locator. Content-addressed locators
// (ipfs://<cid>[/path], /ipfs/<cid>, or a bare cid) are rewritten onto the
// gateway; http and https URLs pass through unchanged. Empty or malformed
// input yields false.
func (r *Resolver) Resolve(locator string) (string, bool) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return "", false
	}

	switch {
	case strings.HasPrefix(locator, LocatorScheme):
		return r.gatewayURL(strings.TrimPrefix(locator, LocatorScheme))
	case strings.HasPrefix(locator, "/ipfs/"):
		return r.gatewayURL(strings.TrimPrefix(locator, "/ipfs/"))
	case strings.HasPrefix(locator, "http://"), strings.HasPrefix(locator, "https://"):
		u, err := url.Parse(locator)
		if err != nil || u.Host == "" {
			return "", false
		}
		return locator, true
	case contentid.Valid(locator):
		return r.gateway + locator, true
	default:
		return "", false
	}
}

func (r *Resolver) gatewayURL(path string) (string, bool) {
	path = strings.TrimPrefix(path, "ipfs/")
	cid, rest, _ := strings.Cut(path, "/")
	if !contentid.Valid(cid) {
		return "", false
	}
	if rest != "" {
		return r.gateway + cid + "/" + rest, true
	}
	return r.gateway + cid, true
}

// Fetch resolves the locator, issues a GET and decodes the JSON body into v.
// Every failure is reported wrapped in ErrResolutionFailure.
func (r *Resolver) Fetch(ctx context.Context, locator string, v any) error {
	target, ok := r.Resolve(locator)
	if !ok {
		return fmt.Errorf("%w: unresolvable locator %q", ErrResolutionFailure, locator)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrResolutionFailure, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrResolutionFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: gateway returned HTTP %d for %s", ErrResolutionFailure, resp.StatusCode, target)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxMetadataBytes)).Decode(v); err != nil {
		return fmt.Errorf("%w: decode %s: %w", ErrResolutionFailure, target, err)
	}
	return nil
}

// FetchJSON resolves and fetches a JSON object. It returns nil on any failure
// so callers can fall back to defaults.
func (r *Resolver) FetchJSON(ctx context.Context, locator string) map[string]any {
	var obj map[string]any
	if err := r.Fetch(ctx, locator, &obj); err != nil {
		r.logger.Debug("content resolution failed", "locator", locator, "err", err)
		return nil
	}
	return obj
}

// FetchMetadata fetches and decodes a metadata descriptor.
func (r *Resolver) FetchMetadata(ctx context.Context, locator string) (*MetadataDescriptor, error) {
	var d MetadataDescriptor
	if err := r.Fetch(ctx, locator, &d); err != nil {
		return nil, err
	}
	return &d, nil
}
