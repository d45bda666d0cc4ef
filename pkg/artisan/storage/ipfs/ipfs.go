// Package ipfs stores content on an IPFS node through its HTTP API. Content
// identifiers are the CIDs the node assigns.
package ipfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"

	"github.com/tendant/artisan-nft/pkg/artisan"
)

// Backend is an IPFS implementation of the artisan.ContentStore interface
type Backend struct {
	sh  *shell.Shell
	now func() time.Time
}

// Config options for the IPFS backend
type Config struct {
	APIURL        string        // Node API address, e.g. https://ipfs.infura.io:5001
	ProjectID     string        // Basic-auth user for hosted pinning services
	ProjectSecret string        // Basic-auth password for hosted pinning services
	Timeout       time.Duration // Per-request timeout, 0 for none
	CIDVersion    int           // CID version for added content
}

// New creates a new IPFS storage backend
func New(config Config) (*Backend, error) {
	if config.APIURL == "" {
		return nil, errors.New("ipfs api url is required")
	}
	if (config.ProjectID == "") != (config.ProjectSecret == "") {
		return nil, errors.New("ipfs project id and secret must be set together")
	}

	client := &http.Client{Transport: &authTransport{
		user:     config.ProjectID,
		password: config.ProjectSecret,
		next:     http.DefaultTransport,
	}}

	sh := shell.NewShellWithClient(config.APIURL, client)
	if config.Timeout > 0 {
		sh.SetTimeout(config.Timeout)
	}
	return &Backend{sh: sh, now: func() time.Time { return time.Now().UTC() }}, nil
}

// authTransport adds basic auth when configured and turns rejected
// credentials into ErrStorageUnavailable.
type authTransport struct {
	user, password string
	next           http.RoundTripper
}

func (a *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if a.user != "" {
		req = req.Clone(req.Context())
		req.SetBasicAuth(a.user, a.password)
	}
	resp, err := a.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: credentials rejected (%s)", artisan.ErrStorageUnavailable, resp.Status)
	}
	return resp, nil
}

// Put adds and pins content, returning its CID
func (b *Backend) Put(ctx context.Context, reader io.Reader, params artisan.PutParams) (string, error) {
	cid, err := b.sh.Add(reader, shell.Pin(true))
	if err != nil {
		return "", wrap("", "put", err)
	}
	return cid, nil
}

// Get streams the content addressed by contentID
func (b *Backend) Get(ctx context.Context, contentID string) (io.ReadCloser, error) {
	if contentID == "" {
		return nil, wrap(contentID, "get", artisan.ErrNotFound)
	}
	rc, err := b.sh.Cat("/ipfs/" + contentID)
	if err != nil {
		return nil, wrap(contentID, "get", err)
	}
	return rc, nil
}

type filesStat struct {
	Hash           string
	Size           uint64
	CumulativeSize uint64
	Type           string
}

// Stat returns the size of the content addressed by contentID. IPFS keeps no
// MIME type, so the type is always application/octet-stream.
func (b *Backend) Stat(ctx context.Context, contentID string) (*artisan.ContentMeta, error) {
	if contentID == "" {
		return nil, wrap(contentID, "stat", artisan.ErrNotFound)
	}
	var stat filesStat
	if err := b.sh.Request("files/stat", "/ipfs/"+contentID).Exec(ctx, &stat); err != nil {
		return nil, wrap(contentID, "stat", err)
	}
	return &artisan.ContentMeta{
		ContentID: contentID,
		Size:      int64(stat.Size),
		MimeType:  "application/octet-stream",
		UpdatedAt: b.now(),
	}, nil
}

func wrap(contentID, op string, err error) error {
	return &artisan.StorageError{Backend: "ipfs", ContentID: contentID, Op: op, Err: classify(err)}
}

func classify(err error) error {
	if errors.Is(err, artisan.ErrNotFound) || errors.Is(err, artisan.ErrStorageUnavailable) {
		return err
	}

	var shellErr *shell.Error
	if errors.As(err, &shellErr) {
		// The shell reports an HTTP 404 as "command not found": the endpoint
		// does not serve that part of the node API.
		msg := strings.ToLower(shellErr.Message)
		if msg == "command not found" {
			return fmt.Errorf("%w: %w", artisan.ErrStorageUnavailable, err)
		}
		if strings.Contains(msg, "not found") || strings.Contains(msg, "no link named") ||
			strings.Contains(msg, "invalid path") || strings.Contains(msg, "invalid cid") {
			return fmt.Errorf("%w: %w", artisan.ErrNotFound, err)
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", artisan.ErrStorageUnavailable, err)
	}
	return err
}
