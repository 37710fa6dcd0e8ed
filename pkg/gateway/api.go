package gateway

import (
	"context"
	"net/http"
	"net/url"

	"github.com/verdantlabs/canopy/pkg/models"
	"github.com/verdantlabs/canopy/pkg/protocol"
)

// Health probes the readiness endpoint once.
func (g *Gateway) Health(ctx context.Context) (protocol.HealthResponse, error) {
	var out protocol.HealthResponse
	err := g.do(ctx, http.MethodGet, g.healthPath, nil, &out, g.timeouts.Health)
	return out, err
}

// Collections enumerates the available document collections.
func (g *Gateway) Collections(ctx context.Context) (protocol.CollectionsResponse, error) {
	var out protocol.CollectionsResponse
	err := g.do(ctx, http.MethodGet, "/collections", nil, &out, 0)
	return out, err
}

// SwitchCollection changes the active retrieval scope.
func (g *Gateway) SwitchCollection(ctx context.Context, collection string) error {
	var out protocol.SwitchCollectionResponse
	return g.do(ctx, http.MethodPost, "/switch-collection",
		protocol.SwitchCollectionRequest{Collection: collection}, &out, g.timeouts.Switch)
}

// Folders lists the children of a node. An empty parentID lists the root.
func (g *Gateway) Folders(ctx context.Context, parentID string) (protocol.FoldersResponse, error) {
	path := "/folders"
	if parentID != "" {
		path += "?parent_id=" + url.QueryEscape(parentID)
	}
	var out protocol.FoldersResponse
	err := g.do(ctx, http.MethodGet, path, nil, &out, 0)
	return out, err
}

// FoldersBatch fetches children for several folders in one call.
func (g *Gateway) FoldersBatch(ctx context.Context, folderIDs []string) (protocol.BatchFoldersResponse, error) {
	var out protocol.BatchFoldersResponse
	err := g.do(ctx, http.MethodPost, "/folders/batch",
		protocol.BatchFoldersRequest{FolderIDs: folderIDs}, &out, g.timeouts.Batch)
	return out, err
}

// SearchFolders runs a flat search across the hierarchy.
func (g *Gateway) SearchFolders(ctx context.Context, query string) (protocol.SearchFoldersResponse, error) {
	var out protocol.SearchFoldersResponse
	err := g.do(ctx, http.MethodGet, "/folders/search?q="+url.QueryEscape(query), nil, &out, 0)
	return out, err
}

// CacheStatus fetches backend cache telemetry.
func (g *Gateway) CacheStatus(ctx context.Context) (protocol.CacheStatusResponse, error) {
	var out protocol.CacheStatusResponse
	err := g.do(ctx, http.MethodGet, "/cache/status", nil, &out, 0)
	return out, err
}

// Chat submits one chat turn, optionally scoped to a single file.
// A business error inside a 200 body is normalized into an APIError.
func (g *Gateway) Chat(ctx context.Context, req protocol.ChatRequest) (protocol.ChatResponse, error) {
	var out protocol.ChatResponse
	if err := g.do(ctx, http.MethodPost, "/chat", req, &out, 0); err != nil {
		return protocol.ChatResponse{}, err
	}
	if out.Error != "" {
		return protocol.ChatResponse{}, &APIError{Message: out.Error}
	}
	return out, nil
}

// Verify validates a token and returns the user identity it belongs to.
func (g *Gateway) Verify(ctx context.Context, token string) (models.Identity, error) {
	var out protocol.VerifyResponse
	if err := g.do(ctx, http.MethodPost, "/auth/verify", protocol.VerifyRequest{Token: token}, &out, 0); err != nil {
		return models.Identity{}, err
	}
	if !out.Valid {
		return models.Identity{}, ErrAuthExpired
	}
	return out.Identity, nil
}

// LoginURL obtains the provider redirect URL for interactive sign-in.
func (g *Gateway) LoginURL(ctx context.Context) (string, error) {
	var out protocol.LoginResponse
	if err := g.do(ctx, http.MethodGet, "/auth/login", nil, &out, 0); err != nil {
		return "", err
	}
	return out.RedirectURL, nil
}

// Logout tears down the server-side session. The local session is cleared
// by the caller regardless of the outcome.
func (g *Gateway) Logout(ctx context.Context) error {
	return g.do(ctx, http.MethodPost, "/auth/logout", nil, nil, 0)
}
