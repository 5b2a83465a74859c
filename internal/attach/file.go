// Package attach turns user-selected files into composer attachments: it
// detects media types, reads raster images into self-contained data URLs and
// hands PDF documents to the page rasterizer.
package attach

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Accept mirrors the file-picker filter: any image subtype plus PDF.
const Accept = "image/*,application/pdf"

// DocumentMediaType is the only page-description format the composer derives pages from.
const DocumentMediaType = "application/pdf"

// DefaultMaxSize bounds how much of a single file is read into memory.
const DefaultMaxSize int64 = 20 * 1024 * 1024

var (
	// ErrUnsupported is returned when a file is neither an image nor a PDF.
	ErrUnsupported = errors.New("unsupported attachment type")
	// ErrEmptyFile is returned for zero-length files.
	ErrEmptyFile = errors.New("attachment is empty")
	// ErrTooLarge is returned when a file exceeds the read limit.
	ErrTooLarge = errors.New("attachment too large")
)

// Kind classifies a file by how the composer derives thumbnails from it.
type Kind int

const (
	KindUnsupported Kind = iota
	KindImage
	KindDocument
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindDocument:
		return "document"
	default:
		return "unsupported"
	}
}

// File is a handle on a selected file. Content is only read through Open so
// that selecting a file stays cheap.
type File struct {
	Name      string
	MediaType string
	Size      int64
	Source    string // local path, URL, or "memory"

	open func() (io.ReadCloser, error)
}

// FromPath builds a File from a local path, sniffing the media type when the
// extension is not conclusive.
func FromPath(path string) (*File, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat attachment: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", absPath)
	}
	mediaType := mediaTypeFromName(absPath)
	if mediaType == "" {
		mediaType = sniffPath(absPath)
	}
	return &File{
		Name:      filepath.Base(absPath),
		MediaType: mediaType,
		Size:      info.Size(),
		Source:    absPath,
		open: func() (io.ReadCloser, error) {
			return os.Open(absPath)
		},
	}, nil
}

// FromStored wraps a file whose display name and media type are known from
// elsewhere, such as a download cached under a hashed name.
func FromStored(path, name, mediaType, source string) (*File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat attachment: %w", err)
	}
	if mediaType == "" {
		mediaType = mediaTypeFromName(name)
	}
	if mediaType == "" {
		mediaType = sniffPath(path)
	}
	return &File{
		Name:      name,
		MediaType: mediaType,
		Size:      info.Size(),
		Source:    source,
		open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

// FromBytes wraps in-memory content. An empty mediaType is detected from the
// name and the content.
func FromBytes(name, mediaType string, data []byte) *File {
	if mediaType == "" {
		mediaType = DetectMediaType(name, data)
	}
	buf := append([]byte(nil), data...)
	return &File{
		Name:      name,
		MediaType: mediaType,
		Size:      int64(len(buf)),
		Source:    "memory",
		open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(buf)), nil
		},
	}
}

// Open returns a fresh reader over the file content.
func (f *File) Open() (io.ReadCloser, error) {
	if f == nil || f.open == nil {
		return nil, errors.New("attachment has no content")
	}
	return f.open()
}

// Kind reports how thumbnails are derived from the file.
func (f *File) Kind() Kind {
	if f == nil {
		return KindUnsupported
	}
	return KindOf(f.MediaType)
}

// KindOf classifies a media type against the Accept filter.
func KindOf(mediaType string) Kind {
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	if i := strings.Index(mediaType, ";"); i >= 0 {
		mediaType = strings.TrimSpace(mediaType[:i])
	}
	switch {
	case mediaType == DocumentMediaType:
		return KindDocument
	case strings.HasPrefix(mediaType, "image/"):
		return KindImage
	default:
		return KindUnsupported
	}
}

// ReadAll reads the whole file, refusing anything larger than maxSize bytes.
// A non-positive maxSize uses DefaultMaxSize.
func (f *File) ReadAll(maxSize int64) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	if int64(len(data)) > maxSize {
		return nil, fmt.Errorf("%s: %w (max %d bytes)", f.Name, ErrTooLarge, maxSize)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s: %w", f.Name, ErrEmptyFile)
	}
	return data, nil
}

// DetectMediaType determines the MIME type from the extension first and the
// content second.
func DetectMediaType(name string, data []byte) string {
	if mediaType := mediaTypeFromName(name); mediaType != "" {
		return mediaType
	}
	if len(data) == 0 {
		return ""
	}
	detected := http.DetectContentType(data)
	if i := strings.Index(detected, ";"); i >= 0 {
		detected = detected[:i]
	}
	return detected
}

func mediaTypeFromName(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".bmp":
		return "image/bmp"
	case ".svg":
		return "image/svg+xml"
	case ".pdf":
		return DocumentMediaType
	case ".txt", ".md":
		return "text/plain"
	}
	return ""
}

func sniffPath(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	head := make([]byte, 512)
	n, _ := io.ReadFull(f, head)
	return DetectMediaType("", head[:n])
}

// DataURL encodes data as a self-contained data URL.
func DataURL(mediaType string, data []byte) string {
	return fmt.Sprintf("data:%s;base64,%s", mediaType, base64.StdEncoding.EncodeToString(data))
}
