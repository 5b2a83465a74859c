// Package fetch downloads remote attachments into an on-disk cache so that a
// pasted URL can be selected like a local file.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/csheth/quill/internal/attach"
)

const (
	// CacheEnvVar overrides the cache directory.
	CacheEnvVar = "QUILL_CACHE_DIR"

	cacheSubdir        = "quill/attachments"
	defaultTTL         = 12 * time.Hour
	partialSuffix      = ".part"
	metaSuffix         = ".meta"
	defaultHTTPTimeout = 60 * time.Second
)

// ErrNotURL is returned for selections that are not http(s) URLs.
var ErrNotURL = errors.New("not an http(s) url")

// Cache stores downloaded attachments keyed by URL.
type Cache struct {
	dir     string
	client  *http.Client
	ttl     time.Duration
	maxSize int64
}

type entryMeta struct {
	URL          string    `json:"url"`
	Name         string    `json:"name"`
	MediaType    string    `json:"mediaType"`
	ETag         string    `json:"etag"`
	LastModified string    `json:"lastModified"`
	FetchedAt    time.Time `json:"fetchedAt"`
	Size         int64     `json:"size"`
}

// Dir resolves the cache directory from QUILL_CACHE_DIR or the user cache dir.
func Dir() string {
	if dir := os.Getenv(CacheEnvVar); dir != "" {
		return dir
	}
	base, err := os.UserCacheDir()
	if err != nil {
		base = filepath.Join(os.TempDir(), "quill-cache")
	}
	return filepath.Join(base, cacheSubdir)
}

// New creates the cache directory. A nil client gets a default timeout.
func New(client *http.Client) (*Cache, error) {
	dir := Dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Cache{dir: dir, client: client, ttl: defaultTTL, maxSize: attach.DefaultMaxSize}, nil
}

// IsURL reports whether raw looks like a remote attachment.
func IsURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Fetch returns the attachment behind rawURL, downloading it unless a fresh
// copy is cached. A stale copy is revalidated with the stored validators and
// served as-is when the server cannot be reached.
func (c *Cache) Fetch(ctx context.Context, rawURL string) (*attach.File, error) {
	rawURL = strings.TrimSpace(rawURL)
	if !IsURL(rawURL) {
		return nil, fmt.Errorf("%q: %w", rawURL, ErrNotURL)
	}
	dataPath, metaPath, partialPath := c.pathsFor(cacheKey(rawURL))

	meta, metaErr := readMeta(metaPath)
	info, statErr := os.Stat(dataPath)
	cached := statErr == nil && metaErr == nil && info.Size() > 0
	if cached && time.Since(meta.FetchedAt) < c.ttl {
		return c.file(dataPath, meta)
	}
	if !cached {
		info = nil
	}

	fresh, err := c.download(ctx, rawURL, dataPath, metaPath, partialPath, meta, info)
	if err == nil {
		return c.file(dataPath, fresh)
	}
	if cached {
		return c.file(dataPath, meta)
	}
	return nil, err
}

func (c *Cache) file(dataPath string, meta entryMeta) (*attach.File, error) {
	return attach.FromStored(dataPath, meta.Name, meta.MediaType, meta.URL)
}

func (c *Cache) download(ctx context.Context, rawURL, dataPath, metaPath, partialPath string, meta entryMeta, current os.FileInfo) (entryMeta, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return entryMeta{}, err
	}
	if current != nil {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}
	// An interrupted download leaves its .part file behind. Resume it; the
	// validator, when known, makes the server resend everything if the
	// resource changed in between.
	var resumeFrom int64
	if info, err := os.Stat(partialPath); err == nil && info.Size() > 0 {
		resumeFrom = info.Size()
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeFrom))
		if meta.ETag != "" {
			req.Header.Set("If-Range", meta.ETag)
		} else if meta.LastModified != "" {
			req.Header.Set("If-Range", meta.LastModified)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return entryMeta{}, fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		if current == nil {
			return entryMeta{}, fmt.Errorf("download %s: not modified without a cached copy", rawURL)
		}
		meta.FetchedAt = time.Now().UTC()
		if err := writeMeta(metaPath, meta); err != nil {
			return entryMeta{}, err
		}
		return meta, nil
	case http.StatusOK:
		return c.save(resp, rawURL, dataPath, metaPath, partialPath, 0)
	case http.StatusPartialContent:
		if start, ok := rangeStart(resp.Header.Get("Content-Range")); !ok || start != resumeFrom {
			os.Remove(partialPath)
			return entryMeta{}, fmt.Errorf("download %s: unexpected range %q", rawURL, resp.Header.Get("Content-Range"))
		}
		return c.save(resp, rawURL, dataPath, metaPath, partialPath, resumeFrom)
	case http.StatusRequestedRangeNotSatisfiable:
		// The partial no longer lines up with the resource; start over next time.
		os.Remove(partialPath)
		return entryMeta{}, fmt.Errorf("download %s: %s", rawURL, resp.Status)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return entryMeta{}, fmt.Errorf("download %s: %s (%s)", rawURL, resp.Status, strings.TrimSpace(string(body)))
	}
}

// save streams the body into the partial file, appending after offset bytes
// when offset is positive, and promotes it once complete.
func (c *Cache) save(resp *http.Response, rawURL, dataPath, metaPath, partialPath string, offset int64) (entryMeta, error) {
	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
		offset = 0
	}
	out, err := os.OpenFile(partialPath, flags, 0o644)
	if err != nil {
		return entryMeta{}, err
	}
	written, err := io.Copy(out, io.LimitReader(resp.Body, c.maxSize-offset+1))
	if err != nil {
		out.Close()
		return entryMeta{}, fmt.Errorf("download %s: %w", rawURL, err)
	}
	if err := out.Close(); err != nil {
		return entryMeta{}, err
	}
	if offset+written > c.maxSize {
		os.Remove(partialPath)
		return entryMeta{}, fmt.Errorf("download %s: %w", rawURL, attach.ErrTooLarge)
	}
	if err := os.Rename(partialPath, dataPath); err != nil {
		return entryMeta{}, err
	}

	meta := entryMeta{
		URL:          rawURL,
		Name:         nameFor(rawURL, resp.Header),
		MediaType:    mediaTypeOf(resp.Header.Get("Content-Type")),
		ETag:         resp.Header.Get("Etag"),
		LastModified: resp.Header.Get("Last-Modified"),
		FetchedAt:    time.Now().UTC(),
	}
	if info, err := os.Stat(dataPath); err == nil {
		meta.Size = info.Size()
	}
	if err := writeMeta(metaPath, meta); err != nil {
		return entryMeta{}, err
	}
	return meta, nil
}

// rangeStart reads the first byte position of a "bytes a-b/n" Content-Range.
func rangeStart(header string) (int64, bool) {
	spec, ok := strings.CutPrefix(header, "bytes ")
	if !ok {
		return 0, false
	}
	first, _, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(first, 10, 64)
	return n, err == nil
}

func (c *Cache) pathsFor(key string) (data, meta, partial string) {
	base := filepath.Join(c.dir, key)
	return base, base + metaSuffix, base + partialSuffix
}

func cacheKey(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:16])
}

// nameFor prefers the Content-Disposition filename, then the last path segment.
func nameFor(rawURL string, header http.Header) string {
	if _, params, err := mime.ParseMediaType(header.Get("Content-Disposition")); err == nil {
		if name := filepath.Base(params["filename"]); name != "." && name != "/" && name != "" {
			return name
		}
	}
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" && base != "" {
			return base
		}
		return u.Host
	}
	return "download"
}

// mediaTypeOf drops parameters; generic binary types defer to sniffing.
func mediaTypeOf(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType == "application/octet-stream" {
		return ""
	}
	return mediaType
}

func readMeta(path string) (entryMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return entryMeta{}, err
	}
	var meta entryMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return entryMeta{}, err
	}
	return meta, nil
}

func writeMeta(path string, meta entryMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
