package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/netpulse/netpulse/pkg/types"
)

const defaultFetchTimeout = 10 * time.Second

// ErrNotFound is returned when a source has no network with the requested id.
var ErrNotFound = errors.New("catalog: network not found")

// Source fetches network definitions by id.
type Source interface {
	Fetch(ctx context.Context, id string) (*types.Network, error)
}

// extensions maps supported file extensions to their format, in lookup order.
var extensions = []struct {
	ext    string
	format Format
}{
	{".json", FormatJSON},
	{".yaml", FormatYAML},
	{".yml", FormatYAML},
}

// formatOf returns the format for a file name with a supported extension.
func formatOf(name string) (Format, bool) {
	ext := filepath.Ext(name)
	for _, e := range extensions {
		if e.ext == ext {
			return e.format, true
		}
	}
	return "", false
}

// DirSource reads network files from a directory.
type DirSource struct {
	dir string
}

// NewDirSource returns a Source backed by dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

// Dir returns the directory the source reads from.
func (s *DirSource) Dir() string { return s.dir }

// Fetch reads <dir>/<id>.json, .yaml or .yml, first match wins. A file
// without an id takes the file name.
func (s *DirSource) Fetch(_ context.Context, id string) (*types.Network, error) {
	if !validID(id) {
		return nil, fmt.Errorf("catalog: invalid network id %q: %w", id, ErrNotFound)
	}
	for _, e := range extensions {
		path := filepath.Join(s.dir, id+e.ext)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("catalog: read %q: %w", path, err)
		}
		n, err := Decode(data, e.format)
		if err != nil {
			return nil, fmt.Errorf("%w (file %q)", err, path)
		}
		if n.Metadata.ID == "" {
			n.Metadata.ID = id
		}
		return n, nil
	}
	return nil, fmt.Errorf("catalog: %q in %q: %w", id, s.dir, ErrNotFound)
}

func validID(id string) bool {
	return id != "" && !strings.HasPrefix(id, ".") && !strings.ContainsAny(id, `/\`)
}

// HTTPSource fetches networks from a remote backend at GET <base>/<id>.
type HTTPSource struct {
	base   string
	client *http.Client
}

// NewHTTPSource returns a Source for the backend rooted at base.
func NewHTTPSource(base string) *HTTPSource {
	return &HTTPSource{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: defaultFetchTimeout},
	}
}

// Fetch performs the GET and decodes the JSON body.
func (s *HTTPSource) Fetch(ctx context.Context, id string) (*types.Network, error) {
	if id == "" {
		return nil, fmt.Errorf("catalog: empty network id: %w", ErrNotFound)
	}
	u := s.base + "/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog: http get: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("catalog: %q at %q: %w", id, s.base, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("catalog: %q: unexpected status %d", id, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("catalog: read body: %w", err)
	}
	n, err := Decode(data, FormatJSON)
	if err != nil {
		return nil, err
	}
	if n.Metadata.ID == "" {
		n.Metadata.ID = id
	}
	return n, nil
}
