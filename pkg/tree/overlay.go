package tree

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/verdantlabs/canopy/pkg/gateway"
	"github.com/verdantlabs/canopy/pkg/logging"
	"github.com/verdantlabs/canopy/pkg/models"
)

// minQueryLength is the shortest query that triggers a search; anything
// shorter restores the tree view.
const minQueryLength = 2

// Overlay is the debounced search view over the tree. An active query
// replaces the visible node list with a flat result set; the underlying
// cached tree is never mutated, so clearing the query restores the root
// view instantly when the cache is warm.
type Overlay struct {
	cache    *Cache
	gateway  *gateway.Gateway
	debounce time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	queryGen uint64
	query    string
	results  []*models.FolderNode
	active   bool
}

// NewOverlay creates a search overlay. A zero debounce defaults to 300ms.
func NewOverlay(cache *Cache, g *gateway.Gateway, debounce time.Duration) *Overlay {
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}
	return &Overlay{cache: cache, gateway: g, debounce: debounce}
}

// SetQuery updates the live query. Queries of at least two characters are
// debounced (trailing edge) before a single search request goes out;
// shorter queries deactivate the overlay, refetching the root level only
// when the cache was never populated.
func (o *Overlay) SetQuery(ctx context.Context, query string) error {
	o.mu.Lock()
	o.queryGen++
	gen := o.queryGen
	o.query = query
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}

	if utf8.RuneCountInString(query) < minQueryLength {
		o.results = nil
		o.active = false
		o.mu.Unlock()

		if !o.cache.Loaded() {
			_, err := o.cache.LoadRoot(ctx)
			return err
		}
		return nil
	}

	o.timer = time.AfterFunc(o.debounce, func() {
		o.runSearch(ctx, query, gen)
	})
	o.mu.Unlock()
	return nil
}

// runSearch issues the search request and merges the result set, dropping
// it if the query moved on while the request was in flight.
func (o *Overlay) runSearch(ctx context.Context, query string, gen uint64) {
	resp, err := o.gateway.SearchFolders(ctx, query)
	if err != nil {
		logging.Debug("search failed", zap.String("query", query), zap.Error(err))
		return
	}

	results := make([]*models.FolderNode, 0, len(resp.Results))
	for _, n := range resp.Results {
		r := n.Clone()
		r.IsSearchResult = true
		r.Children = nil
		r.HasChildren = false
		r.LoadState = models.LoadStateUnloaded
		results = append(results, r)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.queryGen != gen || o.query != query {
		// Superseded while in flight; the stale result set is dropped.
		return
	}
	o.results = results
	o.active = true
}

// Active reports whether a search result set currently replaces the tree.
func (o *Overlay) Active() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// View returns the nodes the display should show: the flat result set while
// a query is active, the cached root level otherwise.
func (o *Overlay) View() []*models.FolderNode {
	o.mu.Lock()
	if o.active {
		results := o.results
		o.mu.Unlock()
		return results
	}
	o.mu.Unlock()
	return o.cache.Roots()
}
