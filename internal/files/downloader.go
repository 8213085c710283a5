// Package files downloads message attachments (XEP-0066/0363 OOB URLs)
// into a peer's workspace.
package files

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// maxFileSize caps a single download at 25 MiB.
const maxFileSize = 25 << 20

const downloadTimeout = 30 * time.Second

// Downloaded describes one fetched attachment on disk.
type Downloaded struct {
	// Filename is the original name from the URL path.
	Filename string
	// MimeType comes from the Content-Type header, with an extension
	// fallback for servers that send application/octet-stream.
	MimeType string
	// Size in bytes.
	Size int64
	// Path is the on-disk location (UUID-prefixed to avoid collisions).
	Path string
}

// HumanSize renders the size for transcripts ("3.2 KB", "1.5 MB").
func (d *Downloaded) HumanSize() string {
	return FormatSize(d.Size)
}

// FormatSize renders a byte count in human units.
func FormatSize(size int64) string {
	switch {
	case size >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(size)/(1<<20))
	case size >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(size)/(1<<10))
	default:
		return fmt.Sprintf("%d B", size)
	}
}

// Downloader fetches OOB URLs with a size cap, a timeout, and a
// concurrency limit. Failures degrade to metadata-only attachments
// upstream; they never fail the message turn.
type Downloader struct {
	client *http.Client
	sem    chan struct{}
	log    *slog.Logger
}

// NewDownloader builds a downloader allowing maxConcurrent parallel
// fetches. tlsVerify false accepts self-signed upload servers
// (dev setups).
func NewDownloader(maxConcurrent int, tlsVerify bool, log *slog.Logger) *Downloader {
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	if log == nil {
		log = slog.Default()
	}
	transport := &http.Transport{}
	if !tlsVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &Downloader{
		client: &http.Client{Timeout: downloadTimeout, Transport: transport},
		sem:    make(chan struct{}, maxConcurrent),
		log:    log,
	}
}

// Download fetches rawURL into destDir under a UUID-prefixed name.
// Only HTTPS is accepted, except for localhost (dev servers).
func (d *Downloader) Download(ctx context.Context, rawURL, destDir string) (*Downloaded, error) {
	select {
	case d.sem <- struct{}{}:
		defer func() { <-d.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("files: invalid URL: %w", err)
	}
	host := parsed.Hostname()
	isLocal := host == "localhost" || host == "127.0.0.1" || host == "::1"
	if parsed.Scheme != "https" && !isLocal {
		return nil, fmt.Errorf("files: only HTTPS URLs are allowed (got %s://)", parsed.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("files: download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("files: download failed: HTTP %d", resp.StatusCode)
	}
	if resp.ContentLength > maxFileSize {
		return nil, fmt.Errorf("files: file too large: %d bytes (max %d)", resp.ContentLength, maxFileSize)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("files: read body: %w", err)
	}
	if len(body) > maxFileSize {
		return nil, fmt.Errorf("files: file too large: exceeds %d bytes", maxFileSize)
	}

	filename := path.Base(parsed.Path)
	if filename == "/" || filename == "." || filename == "" {
		filename = "file"
	}
	filename = sanitizeFilename(filename)

	mimeType := resp.Header.Get("Content-Type")
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = mimeFromExtension(filename)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("files: create dir: %w", err)
	}
	diskName := uuid.New().String() + "_" + filename
	fullPath := filepath.Join(destDir, diskName)
	if err := os.WriteFile(fullPath, body, 0o644); err != nil {
		return nil, fmt.Errorf("files: write: %w", err)
	}

	dl := &Downloaded{
		Filename: filename,
		MimeType: mimeType,
		Size:     int64(len(body)),
		Path:     fullPath,
	}
	d.log.Info("downloaded attachment", "name", filename, "mime", mimeType, "size", dl.HumanSize())
	return dl, nil
}

// sanitizeFilename strips path separators and control characters so a
// hostile URL cannot escape the files directory.
func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == '/' || r == '\\' || r < 0x20:
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" || out == "." || out == ".." {
		return "file"
	}
	return out
}

// mimeFromExtension maps common extensions when the server did not
// send a usable Content-Type.
func mimeFromExtension(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	case ".txt", ".md":
		return "text/plain"
	case ".mp3":
		return "audio/mpeg"
	case ".ogg", ".oga":
		return "audio/ogg"
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	default:
		return "application/octet-stream"
	}
}
