package files

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDownloadLocalHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("not really a png"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := NewDownloader(2, true, nil)
	// httptest binds 127.0.0.1, which is allowed without HTTPS.
	dl, err := d.Download(context.Background(), srv.URL+"/photos/x.png", dir)
	if err != nil {
		t.Fatal(err)
	}
	if dl.Filename != "x.png" || dl.MimeType != "image/png" {
		t.Errorf("download = %+v", dl)
	}
	if dl.Size != int64(len("not really a png")) {
		t.Errorf("size = %d", dl.Size)
	}
	data, err := os.ReadFile(dl.Path)
	if err != nil || string(data) != "not really a png" {
		t.Errorf("content = %q, %v", data, err)
	}
	// UUID prefix keeps repeated downloads from colliding.
	if filepath.Base(dl.Path) == "x.png" {
		t.Error("missing uuid prefix")
	}
	if !strings.HasSuffix(dl.Path, "_x.png") {
		t.Errorf("path = %q", dl.Path)
	}
}

func TestDownloadRejectsPlainHTTPRemote(t *testing.T) {
	d := NewDownloader(1, true, nil)
	_, err := d.Download(context.Background(), "http://files.example.com/x.png", t.TempDir())
	if err == nil {
		t.Error("plain HTTP to a remote host accepted")
	}
}

func TestDownloadRejectsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()
	d := NewDownloader(1, true, nil)
	if _, err := d.Download(context.Background(), srv.URL+"/gone", t.TempDir()); err == nil {
		t.Error("404 accepted")
	}
}

func TestDownloadMimeFallbackFromExtension(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte("x"))
	}))
	defer srv.Close()
	d := NewDownloader(1, true, nil)
	dl, err := d.Download(context.Background(), srv.URL+"/a.jpg", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if dl.MimeType != "image/jpeg" {
		t.Errorf("mime = %q", dl.MimeType)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"ok.png":         "ok.png",
		"..":             "file",
		"a/b\\c.png":     "a_b_c.png",
		"":               "file",
		"ctrl\x01x.bin":  "ctrl_x.bin",
	}
	for in, want := range tests {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatSize(t *testing.T) {
	tests := map[int64]string{
		12:        "12 B",
		2048:      "2.0 KB",
		5 << 20:   "5.0 MB",
		1536:      "1.5 KB",
	}
	for in, want := range tests {
		if got := FormatSize(in); got != want {
			t.Errorf("FormatSize(%d) = %q, want %q", in, got, want)
		}
	}
}
