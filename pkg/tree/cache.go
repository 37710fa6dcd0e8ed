// Package tree maintains the client-side view of the remote folder tree.
//
// The Cache owns the node graph. Nodes are addressed by id, never by
// structural position, because a node can be reached either through normal
// expansion or through a batch-prefetch result arriving out of order. Every
// mutation is read-copy-write: the path from the root to the target node is
// cloned and republished, so in-flight updates that complete out of order
// each apply against the latest snapshot.
package tree

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/verdantlabs/canopy/pkg/gateway"
	"github.com/verdantlabs/canopy/pkg/logging"
	"github.com/verdantlabs/canopy/pkg/models"
	"github.com/verdantlabs/canopy/pkg/telemetry"
)

// ErrNodeNotFound is returned when an operation targets a node that is no
// longer part of the tree.
var ErrNodeNotFound = errors.New("node not found")

// Config holds tree cache configuration.
type Config struct {
	Gateway         *gateway.Gateway
	PrefetchDelay   time.Duration // delay before the background batch fetch
	PrefetchLimit   int           // max root folders per batch
	DisablePrefetch bool          // skip the background prefetch entirely
}

// Cache is the lazy, prefetching folder-tree cache. It lives for the whole
// session: collapse never evicts, and loaded children are kept until a full
// reload.
type Cache struct {
	gateway         *gateway.Gateway
	prefetchDelay   time.Duration
	prefetchLimit   int
	disablePrefetch bool

	mu         sync.RWMutex
	roots      []*models.FolderNode
	index      map[string]*models.FolderNode
	generation uint64
}

// NewCache creates a tree cache.
func NewCache(cfg Config) *Cache {
	if cfg.PrefetchDelay <= 0 {
		cfg.PrefetchDelay = 800 * time.Millisecond
	}
	if cfg.PrefetchLimit <= 0 {
		cfg.PrefetchLimit = 5
	}
	return &Cache{
		gateway:         cfg.Gateway,
		prefetchDelay:   cfg.PrefetchDelay,
		prefetchLimit:   cfg.PrefetchLimit,
		disablePrefetch: cfg.DisablePrefetch,
		index:           make(map[string]*models.FolderNode),
	}
}

// LoadRoot fetches the top-level nodes, replaces the whole tree, and
// schedules the background prefetch. Callers must not invoke it
// concurrently for the same cache.
func (c *Cache) LoadRoot(ctx context.Context) ([]*models.FolderNode, error) {
	resp, err := c.gateway.Folders(ctx, "")
	if err != nil {
		return nil, err
	}

	roots := make([]*models.FolderNode, 0, len(resp.Folders))
	for _, n := range resp.Folders {
		roots = append(roots, normalize(n, ""))
	}

	c.mu.Lock()
	c.roots = roots
	c.index = make(map[string]*models.FolderNode)
	for _, n := range roots {
		indexSubtree(c.index, n)
	}
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	// Full reload resets the served-from-cache counter before anything new
	// is counted against it.
	telemetry.ResetCachedResponses()
	if resp.Cached {
		telemetry.RecordCachedResponse()
	}

	if !c.disablePrefetch {
		go c.scheduledPrefetch(ctx, gen)
	}

	return roots, nil
}

// Loaded reports whether the root level has ever been populated.
func (c *Cache) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roots != nil
}

// Roots returns the current snapshot of top-level nodes.
func (c *Cache) Roots() []*models.FolderNode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roots
}

// Node returns the node with the given id from the current snapshot.
func (c *Cache) Node(id string) (*models.FolderNode, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.index[id]
	return n, ok
}

// Expand makes a folder's children visible. Already-loaded and prefetched
// folders flip instantly with no network call; unloaded folders go through
// loading and fetch their children scoped by id.
func (c *Cache) Expand(ctx context.Context, id string) error {
	c.mu.RLock()
	node, ok := c.index[id]
	gen := c.generation
	c.mu.RUnlock()

	if !ok {
		return ErrNodeNotFound
	}
	if node.IsSearchResult || !node.IsFolder() {
		return nil
	}

	if node.LoadState == models.LoadStateLoaded || node.Prefetched {
		c.transform(id, func(n *models.FolderNode) {
			n.Expanded = true
		})
		return nil
	}
	if node.LoadState == models.LoadStateLoading {
		return nil
	}

	c.transform(id, func(n *models.FolderNode) {
		n.LoadState = models.LoadStateLoading
	})

	resp, err := c.gateway.Folders(ctx, id)
	if err != nil {
		// Revert so the user can retry; siblings are untouched.
		c.transformAt(gen, id, func(n *models.FolderNode) {
			n.LoadState = models.LoadStateUnloaded
			n.Expanded = false
		})
		return fmt.Errorf("expand %s: %w", id, err)
	}

	if resp.Cached {
		telemetry.RecordCachedResponse()
	}

	if !c.transformAt(gen, id, func(n *models.FolderNode) {
		n.Children = normalizeAll(resp.Folders, id)
		n.LoadState = models.LoadStateLoaded
		n.Expanded = true
	}) {
		return ErrNodeNotFound
	}
	return nil
}

// Collapse hides a folder's children. Loaded children stay cached.
func (c *Cache) Collapse(id string) {
	c.transform(id, func(n *models.FolderNode) {
		n.Expanded = false
	})
}

// PrefetchBatch fetches children for the given folders in one call and
// merges each result into the tree, skipping any node that was loaded
// independently in the meantime. A failed batch drops silently; prefetch is
// best-effort enrichment.
func (c *Cache) PrefetchBatch(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	c.mu.RLock()
	gen := c.generation
	c.mu.RUnlock()

	resp, err := c.gateway.FoldersBatch(ctx, ids)
	if err != nil {
		logging.Debug("prefetch batch failed", zap.Int("folders", len(ids)), zap.Error(err))
		return err
	}
	if resp.Cached {
		telemetry.RecordCachedResponse()
	}

	for id, children := range resp.Results {
		c.transformIf(gen, id, func(n *models.FolderNode) bool {
			if n.LoadState == models.LoadStateLoaded {
				return false
			}
			n.Children = normalizeAll(children, id)
			n.LoadState = models.LoadStateLoaded
			n.Prefetched = true
			return true
		})
	}
	return nil
}

// scheduledPrefetch waits out the paint delay, then prefetches the top
// untouched root folders.
func (c *Cache) scheduledPrefetch(ctx context.Context, gen uint64) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(c.prefetchDelay):
	}

	c.mu.RLock()
	if c.generation != gen {
		c.mu.RUnlock()
		return
	}
	var ids []string
	for _, n := range c.roots {
		if len(ids) >= c.prefetchLimit {
			break
		}
		if n.IsFolder() && n.HasChildren && n.LoadState == models.LoadStateUnloaded {
			ids = append(ids, n.ID)
		}
	}
	c.mu.RUnlock()

	if len(ids) == 0 {
		return
	}
	_ = c.PrefetchBatch(ctx, ids)
}

// transform applies fn to a fresh copy of the node with the given id,
// republishing the cloned path from the root. Returns false if the id is
// not in the tree.
func (c *Cache) transform(id string, fn func(*models.FolderNode)) bool {
	return c.transformIf(0, id, func(n *models.FolderNode) bool {
		fn(n)
		return true
	})
}

// transformAt is transform guarded by a generation: a mutation prepared
// against an older tree (reloaded since) is dropped instead of applied.
func (c *Cache) transformAt(gen uint64, id string, fn func(*models.FolderNode)) bool {
	return c.transformIf(gen, id, func(n *models.FolderNode) bool {
		fn(n)
		return true
	})
}

// transformIf is the single generic find-and-transform operation every
// mutation goes through. fn sees a fresh clone and may decline the merge by
// returning false. gen of 0 skips the generation check.
func (c *Cache) transformIf(gen uint64, id string, fn func(*models.FolderNode) bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != 0 && c.generation != gen {
		return false
	}
	node, ok := c.index[id]
	if !ok {
		return false
	}

	fresh := node.Clone()
	if !fn(fresh) {
		return false
	}

	// Clone the path from the target up to its root before publishing
	// anything, so a broken parent chain leaves the snapshot untouched.
	ancestors := make([]*models.FolderNode, 0, 4)
	current := fresh
	for current.ParentID != "" {
		parent, ok := c.index[current.ParentID]
		if !ok {
			return false
		}
		clone := parent.Clone()
		replaceChild(clone, current)
		ancestors = append(ancestors, clone)
		current = clone
	}

	roots := make([]*models.FolderNode, len(c.roots))
	copy(roots, c.roots)
	for i, r := range roots {
		if r.ID == current.ID {
			roots[i] = current
		}
	}
	c.roots = roots

	for _, clone := range ancestors {
		c.index[clone.ID] = clone
	}
	indexSubtree(c.index, fresh)
	return true
}

func replaceChild(parent *models.FolderNode, child *models.FolderNode) {
	for i, existing := range parent.Children {
		if existing.ID == child.ID {
			parent.Children[i] = child
			return
		}
	}
}

// indexSubtree registers a node and all its descendants in the id index.
func indexSubtree(index map[string]*models.FolderNode, node *models.FolderNode) {
	index[node.ID] = node
	for _, child := range node.Children {
		indexSubtree(index, child)
	}
}

// normalize prepares a node received from the backend for the arena:
// parent linkage, and a load state consistent with the children invariant.
// Folders with nothing to fetch are born loaded with an empty child list.
func normalize(n *models.FolderNode, parentID string) *models.FolderNode {
	node := n.Clone()
	node.ParentID = parentID
	node.IsSearchResult = false

	switch {
	case !node.IsFolder():
		node.Children = []*models.FolderNode{}
		node.LoadState = models.LoadStateLoaded
	case node.Children != nil:
		node.Children = normalizeAll(node.Children, node.ID)
		node.LoadState = models.LoadStateLoaded
	case !node.HasChildren:
		node.Children = []*models.FolderNode{}
		node.LoadState = models.LoadStateLoaded
	default:
		node.Children = nil
		node.LoadState = models.LoadStateUnloaded
	}
	return node
}

func normalizeAll(nodes []*models.FolderNode, parentID string) []*models.FolderNode {
	out := make([]*models.FolderNode, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, normalize(n, parentID))
	}
	return out
}
