// Package blobstore persists audio artifacts on the local filesystem and
// serves them over HTTP behind expiring HMAC-signed URLs, so artifact links
// can be handed out without exposing the directory tree.
package blobstore

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// downloadTimeout bounds any single artifact fetch, local or remote.
const downloadTimeout = 5 * time.Minute

// Local is a filesystem-backed blob store.
type Local struct {
	root    string
	baseURL string
	secret  []byte
	ttl     time.Duration

	httpClient *http.Client
}

// New creates a store rooted at dir. baseURL is the externally reachable
// prefix under which Handler is mounted. ttl of 0 means signed URLs valid
// for 24 hours.
func New(dir, baseURL, secret string, ttl time.Duration) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &Local{
		root:    dir,
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  []byte(secret),
		ttl:     ttl,
		// The default client follows redirects, which Azure result URLs
		// and our own signed URLs both rely on.
		httpClient: &http.Client{Timeout: downloadTimeout},
	}, nil
}

// Upload writes data under key and returns a signed URL for it.
func (l *Local) Upload(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean, err := l.safePath(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(clean), 0o755); err != nil {
		return "", fmt.Errorf("failed to create blob directory: %w", err)
	}
	if err := os.WriteFile(clean, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write blob %s: %w", key, err)
	}
	return l.SignedURL(key)
}

// SignedURL returns an expiring URL for an already stored key.
func (l *Local) SignedURL(key string) (string, error) {
	if _, err := l.safePath(key); err != nil {
		return "", err
	}
	exp := time.Now().Add(l.ttl).Unix()
	return fmt.Sprintf("%s/blobs/%s?exp=%d&sig=%s", l.baseURL, key, exp, l.sign(key, exp)), nil
}

// Download fetches a URL, following redirects, with a hard timeout.
func (l *Local) Download(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: %s", url, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// Handler serves stored blobs, rejecting expired or tampered signatures.
// Mount it under /blobs/.
func (l *Local) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/blobs/")
		exp, err := strconv.ParseInt(r.URL.Query().Get("exp"), 10, 64)
		if err != nil {
			http.Error(w, "bad signature", http.StatusForbidden)
			return
		}
		sig := r.URL.Query().Get("sig")
		if !hmac.Equal([]byte(sig), []byte(l.sign(key, exp))) {
			http.Error(w, "bad signature", http.StatusForbidden)
			return
		}
		if time.Now().Unix() > exp {
			http.Error(w, "link expired", http.StatusForbidden)
			return
		}
		clean, err := l.safePath(key)
		if err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.ServeFile(w, r, clean)
	})
}

func (l *Local) sign(key string, exp int64) string {
	mac := hmac.New(sha256.New, l.secret)
	fmt.Fprintf(mac, "%s:%d", key, exp)
	return hex.EncodeToString(mac.Sum(nil))
}

// safePath resolves key inside the root, refusing traversal.
func (l *Local) safePath(key string) (string, error) {
	if key == "" || strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(l.root, filepath.FromSlash(path.Clean(key))), nil
}
