/*
	This file contains functions useful for testing visus servers in other
	packages.  Functions in *_test.go files are unavailable to test files in
	external packages, so these are exported and contain the "Test" keyword.
*/

package server

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/janelia-flyem/visus/dataset"
	"github.com/janelia-flyem/visus/idx"
)

// NewTestServer creates the given datasets in a temporary directory and
// returns a server loaded from a TOML file publishing them.  Accesses use
// the default engine for the descriptor location.
func NewTestServer(t *testing.T, files map[string]*idx.File, origins ...string) *Server {
	t.Helper()
	dir := t.TempDir()
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("[server]\nmaxConcurrentBlocks = 8\n")
	if len(origins) > 0 {
		sb.WriteString("allowedOrigins = [")
		for i, origin := range origins {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%q", origin)
		}
		sb.WriteString("]\n")
	}
	for _, name := range names {
		rel := filepath.Join(name, "visus.idx")
		if err := os.MkdirAll(filepath.Join(dir, name), 0755); err != nil {
			t.Fatalf("Unable to make dataset directory: %v\n", err)
		}
		if _, err := dataset.CreateDataset(filepath.Join(dir, rel), files[name]); err != nil {
			t.Fatalf("Unable to create test dataset %q: %v\n", name, err)
		}
		fmt.Fprintf(&sb, "\n[dataset.%s]\npath = %q\n", name, rel)
	}
	configPath := filepath.Join(dir, "visus.toml")
	if err := os.WriteFile(configPath, []byte(sb.String()), 0644); err != nil {
		t.Fatalf("Unable to write test config: %v\n", err)
	}
	config, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("Unable to load test config: %v\n", err)
	}
	s, err := New(config)
	if err != nil {
		t.Fatalf("Unable to create test server: %v\n", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestHTTPResponse returns a response from a test run of the server.
// Use TestHTTP if you just want the response body bytes.
func TestHTTPResponse(t *testing.T, h http.Handler, method, urlStr string, payload io.Reader) *httptest.ResponseRecorder {
	req, err := http.NewRequest(method, urlStr, payload)
	if err != nil {
		t.Fatalf("Unsuccessful %s on %q: %v\n", method, urlStr, err)
	}
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

// TestHTTP returns the response body bytes for a test request, making sure any response has
// status OK.
func TestHTTP(t *testing.T, h http.Handler, method, urlStr string, payload io.Reader) []byte {
	resp := TestHTTPResponse(t, h, method, urlStr, payload)
	if resp.Code != http.StatusOK {
		t.Fatalf("Bad server response (%d) to %s on %q: %s\n", resp.Code, method, urlStr, resp.Body.String())
	}
	return resp.Body.Bytes()
}

// TestBadHTTP expects a HTTP response with the given error status code.
func TestBadHTTP(t *testing.T, h http.Handler, method, urlStr string, payload io.Reader, status int) {
	resp := TestHTTPResponse(t, h, method, urlStr, payload)
	if resp.Code != status {
		t.Fatalf("Expected status %d to %s on %q, got %d instead.\n", status, method, urlStr, resp.Code)
	}
}
