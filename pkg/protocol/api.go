// Package protocol defines the API request/response types.
package protocol

import "github.com/verdantlabs/canopy/pkg/models"

// HealthResponse is returned by GET /api/health.
type HealthResponse struct {
	Ready  bool   `json:"ready"`
	Status string `json:"status,omitempty"`
}

// ErrorResponse is returned on API errors, including business errors the
// backend reports inside a 200 body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// CollectionsResponse is returned by GET /collections.
type CollectionsResponse struct {
	Collections []models.Collection `json:"collections"`
	Active      string              `json:"active,omitempty"`
}

// SwitchCollectionRequest is the body for POST /switch-collection.
type SwitchCollectionRequest struct {
	Collection string `json:"collection"`
}

// SwitchCollectionResponse is returned by POST /switch-collection.
type SwitchCollectionResponse struct {
	Collection string `json:"collection"`
	Status     string `json:"status,omitempty"`
}

// FoldersResponse is returned by GET /folders?parent_id=...
// Cached is set when the backend served the listing from its cache.
type FoldersResponse struct {
	Folders []*models.FolderNode `json:"folders"`
	Cached  bool                 `json:"cached,omitempty"`
}

// BatchFoldersRequest is the body for POST /folders/batch.
type BatchFoldersRequest struct {
	FolderIDs []string `json:"folder_ids"`
}

// BatchFoldersResponse maps each requested folder id to its children.
type BatchFoldersResponse struct {
	Results map[string][]*models.FolderNode `json:"results"`
	Cached  bool                            `json:"cached,omitempty"`
}

// SearchFoldersResponse is returned by GET /folders/search?q=...
type SearchFoldersResponse struct {
	Results []*models.FolderNode `json:"results"`
}

// CacheStatusResponse is returned by GET /cache/status.
type CacheStatusResponse struct {
	TotalEntries int `json:"total_entries"`
}

// ChatRequest is the body for POST /chat.
type ChatRequest struct {
	Message    string `json:"message"`
	Collection string `json:"collection"`
	FileID     string `json:"file_id,omitempty"`
}

// ChatResponse is returned by POST /chat.
type ChatResponse struct {
	Answer       string               `json:"answer"`
	Documents    []models.DocumentRef `json:"documents,omitempty"`
	QueryType    string               `json:"query_type,omitempty"`
	FileAnalyzed string               `json:"file_analyzed,omitempty"`
	Error        string               `json:"error,omitempty"`
}

// QueryTypeWorkspace marks a chat answer produced by analyzing one
// explicitly selected file rather than the full collection.
const QueryTypeWorkspace = "workspace"

// VerifyRequest is the body for POST /auth/verify.
type VerifyRequest struct {
	Token string `json:"token"`
}

// VerifyResponse is returned by POST /auth/verify.
type VerifyResponse struct {
	Valid    bool            `json:"valid"`
	Identity models.Identity `json:"identity"`
}

// LoginResponse is returned by GET /auth/login.
type LoginResponse struct {
	RedirectURL string `json:"redirect_url"`
}

// RefreshRequest is the body for POST /auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshResponse is returned by POST /auth/refresh.
type RefreshResponse struct {
	AccessToken string `json:"access_token"`
}
