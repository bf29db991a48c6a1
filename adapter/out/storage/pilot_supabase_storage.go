// Package storage implements the blob store adapter against Supabase Storage.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"pilot_server/core/port/out"
	"pilot_server/pkg/apperr"
	"pilot_server/pkg/httputil"
	"pilot_server/pkg/logger"
)

// SupabaseConfig holds Supabase Storage configuration.
type SupabaseConfig struct {
	URL            string
	ServiceRoleKey string
	Bucket         string
}

// SupabaseAdapter implements out.BlobStore against the Supabase Storage
// API using the service-role key.
type SupabaseAdapter struct {
	baseURL string
	key     string
	bucket  string
	client  *http.Client
	log     *logger.Logger
}

// NewSupabaseAdapter creates a new Supabase storage adapter.
func NewSupabaseAdapter(cfg *SupabaseConfig) *SupabaseAdapter {
	return &SupabaseAdapter{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		key:     cfg.ServiceRoleKey,
		bucket:  cfg.Bucket,
		client:  httputil.StorageClient(),
		log:     logger.WithField("component", "supabase_storage"),
	}
}

// Remove deletes the given object paths from the bucket in one batch call.
func (a *SupabaseAdapter) Remove(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	payload, err := json.Marshal(map[string][]string{"prefixes": paths})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/storage/v1/object/%s", a.baseURL, a.bucket)
	req, err := http.NewRequest(http.MethodDelete, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.key)
	req.Header.Set("apikey", a.key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := httputil.DoWithContext(ctx, a.client, req)
	if err != nil {
		return apperr.ProviderError("supabase_storage", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return apperr.ProviderError("supabase_storage",
			fmt.Errorf("storage API returned %d: %s", resp.StatusCode, string(body)))
	}

	a.log.WithField("objects", len(paths)).Info("removed storage objects")
	return nil
}

// Ensure SupabaseAdapter implements out.BlobStore
var _ out.BlobStore = (*SupabaseAdapter)(nil)
