package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileLoader reads a JSON or YAML catalog from disk.
type FileLoader struct {
	path string
}

func NewFileLoader(path string) *FileLoader {
	return &FileLoader{path: path}
}

func (l *FileLoader) Load(_ context.Context) ([]Environment, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, unavailable(l.path, err)
	}

	var envs []Environment
	switch strings.ToLower(filepath.Ext(l.path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &envs)
	default:
		err = decodeJSON(data, &envs)
	}
	if err != nil {
		return nil, unavailable(l.path, fmt.Errorf("parsing: %w", err))
	}

	if err := Validate(envs); err != nil {
		return nil, unavailable(l.path, err)
	}
	return envs, nil
}

// HTTPLoader fetches a JSON catalog over HTTP.
type HTTPLoader struct {
	url    string
	client *http.Client
}

// NewHTTPLoader creates an HTTPLoader. A nil client uses http.DefaultClient.
func NewHTTPLoader(url string, client *http.Client) *HTTPLoader {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPLoader{url: url, client: client}
}

func (l *HTTPLoader) Load(ctx context.Context) ([]Environment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, unavailable(l.url, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, unavailable(l.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, unavailable(l.url, fmt.Errorf("unexpected status %s", resp.Status))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, unavailable(l.url, err)
	}

	var envs []Environment
	if err := decodeJSON(data, &envs); err != nil {
		return nil, unavailable(l.url, fmt.Errorf("parsing: %w", err))
	}
	if err := Validate(envs); err != nil {
		return nil, unavailable(l.url, err)
	}
	return envs, nil
}

// decodeJSON ignores fields outside the definition, such as the status and
// address columns older catalog files carried.
func decodeJSON(data []byte, envs *[]Environment) error {
	return json.Unmarshal(data, envs)
}
