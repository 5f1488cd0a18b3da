package transfer

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"bgremover/internal/asset"
)

// URLPrefix marks transient URLs handed out by a Registry.
const URLPrefix = "blob:bgremover/"

// Registry tracks transient preview URLs. Every URL returned by Create must
// eventually be passed to Revoke or the buffer it pins stays alive.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]asset.Image
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]asset.Image)}
}

// Create registers img and returns a transient URL referencing it.
func (r *Registry) Create(img asset.Image) string {
	url := URLPrefix + uuid.NewString()
	r.mu.Lock()
	r.entries[url] = img
	r.mu.Unlock()
	return url
}

// Revoke releases url. Unknown or empty URLs are ignored.
func (r *Registry) Revoke(url string) {
	if url == "" {
		return
	}
	r.mu.Lock()
	delete(r.entries, url)
	r.mu.Unlock()
}

// Resolve returns the image behind url while it is still registered.
func (r *Registry) Resolve(url string) (asset.Image, bool) {
	r.mu.RLock()
	img, ok := r.entries[url]
	r.mu.RUnlock()
	return img, ok
}

// Len reports how many URLs are live.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// IsTransientURL reports whether ref was minted by a Registry.
func IsTransientURL(ref string) bool {
	return strings.HasPrefix(ref, URLPrefix)
}
