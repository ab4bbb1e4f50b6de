package generate

import (
	"context"
	"errors"

	"github.com/tryrack/tryon/pkg/models"
)

// Sentinel errors for generation failures. A service error is deterministic
// for a given input and is not retried; only transport failures are.
var (
	ErrServiceError      = errors.New("generation service error")
	ErrNoImageInResponse = errors.New("no image in generation response")
	ErrTransport         = errors.New("generation transport error")
)

// ItemImage is one garment payload plus the metadata the prompt is built from.
type ItemImage struct {
	Payload   models.ImagePayload
	Category  string
	Colors    []string
	StyleTags []string
}

// Options tune a single generation call.
type Options struct {
	CleanBackground bool
	Instruction     string
}

// Invoker shapes exactly one request to the external generation service and
// parses exactly one response.
type Invoker interface {
	Name() string
	Generate(ctx context.Context, subject models.ImagePayload, items []ItemImage, opts Options) (models.ImagePayload, error)
}
