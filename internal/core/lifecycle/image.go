package lifecycle

import (
	"time"

	"github.com/yndnr/snapfn-go/internal/storage/snapshot"
)

// Image is the captured initialization state of an environment. It holds no
// request-scoped data: capture is refused once an invocation has begun.
type Image struct {
	ID           string          `json:"id"`
	CreatedAt    time.Time       `json:"created_at"`
	BuildVersion string          `json:"build_version"`
	Fingerprint  string          `json:"fingerprint"`
	Routes       []string        `json:"routes"`
	Resources    []ImageResource `json:"resources"`
}

// ImageResource is one declared resource in an image.
type ImageResource struct {
	Name   string `json:"name"`
	Policy Policy `json:"policy"`
	State  []byte `json:"state,omitempty"`
}

func (img *Image) resource(name string) (ImageResource, bool) {
	for _, r := range img.Resources {
		if r.Name == name {
			return r, true
		}
	}
	return ImageResource{}, false
}

// ImageStore persists images. *snapshot.Manager implements it.
type ImageStore interface {
	Save(meta snapshot.Meta, payload []byte) (*snapshot.Info, error)
	Latest() ([]byte, *snapshot.Info, error)
}

var _ ImageStore = (*snapshot.Manager)(nil)
