// Package models contains shared data types used across the client.
package models

// NodeKind distinguishes folders from files in the remote tree.
type NodeKind string

const (
	KindFolder NodeKind = "folder"
	KindFile   NodeKind = "file"
)

// LoadState tracks whether a folder's children have been fetched.
type LoadState int

const (
	LoadStateUnloaded LoadState = iota
	LoadStateLoading
	LoadStateLoaded
)

func (s LoadState) String() string {
	switch s {
	case LoadStateLoading:
		return "loading"
	case LoadStateLoaded:
		return "loaded"
	default:
		return "unloaded"
	}
}

// FolderNode represents one entry in the remote document tree.
//
// Children is non-nil if and only if LoadState is LoadStateLoaded. Nodes
// flagged IsSearchResult never own children and are never expanded.
type FolderNode struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Kind           NodeKind      `json:"kind"`
	ParentID       string        `json:"parent_id,omitempty"`
	HasChildren    bool          `json:"has_children"`
	Children       []*FolderNode `json:"children,omitempty"`
	LoadState      LoadState     `json:"-"`
	Expanded       bool          `json:"-"`
	Prefetched     bool          `json:"-"`
	IsSearchResult bool          `json:"-"`
}

// IsFolder reports whether the node can own children.
func (n *FolderNode) IsFolder() bool {
	return n.Kind == KindFolder
}

// Clone returns a shallow copy of the node with its own children slice.
// Child pointers are shared; callers copy deeper levels as needed.
func (n *FolderNode) Clone() *FolderNode {
	c := *n
	if n.Children != nil {
		c.Children = make([]*FolderNode, len(n.Children))
		copy(c.Children, n.Children)
	}
	return &c
}

// Collection is a retrieval scope the backend can answer questions over.
type Collection struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	Active      bool   `json:"active,omitempty"`
}

// CacheTelemetry holds process-wide cache counters. TotalEntries comes from
// the backend's /cache/status; CachedResponses counts responses the backend
// flagged as served-from-cache and resets only on a full reload.
type CacheTelemetry struct {
	TotalEntries    int `json:"total_entries"`
	CachedResponses int `json:"cached_responses"`
}
