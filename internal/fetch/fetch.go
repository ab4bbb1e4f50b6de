package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/tryrack/tryon/pkg/models"
)

// Sentinel errors for image fetch failures. Timeout and unreachable are
// transport-level and worth retrying; rejected means the source answered and
// said no (404 and friends), so retrying is pointless.
var (
	ErrFetchTimeout     = errors.New("image fetch timeout")
	ErrFetchUnreachable = errors.New("image source unreachable")
	ErrFetchRejected    = errors.New("image source rejected request")
	ErrNoSource         = errors.New("no image source")
)

// maxImageBytes caps a fetched payload; anything larger is not a garment photo.
const maxImageBytes = 20 << 20

// Retryable reports whether a fetch failure is transient.
func Retryable(err error) bool {
	return errors.Is(err, ErrFetchTimeout) || errors.Is(err, ErrFetchUnreachable)
}

// Fetcher retrieves one image from a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (models.ImagePayload, error)
}

// HTTPFetcher implements Fetcher over plain HTTP GET.
type HTTPFetcher struct {
	client *http.Client
}

func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{client: &http.Client{Timeout: timeout}}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (models.ImagePayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.ImagePayload{}, fmt.Errorf("%w: %v", ErrFetchRejected, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return models.ImagePayload{}, classifyError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return models.ImagePayload{}, fmt.Errorf("%w: status %d", ErrFetchUnreachable, resp.StatusCode)
	default:
		return models.ImagePayload{}, fmt.Errorf("%w: status %d", ErrFetchRejected, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return models.ImagePayload{}, classifyError(err)
	}
	if len(data) > maxImageBytes {
		return models.ImagePayload{}, fmt.Errorf("%w: payload exceeds %d bytes", ErrFetchRejected, maxImageBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}

	return models.ImagePayload{Data: data, ContentType: contentType}, nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrFetchTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrFetchTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrFetchUnreachable, err)
	}

	return fmt.Errorf("%w: %v", ErrFetchUnreachable, err)
}

// Compile-time check that HTTPFetcher implements Fetcher.
var _ Fetcher = (*HTTPFetcher)(nil)
