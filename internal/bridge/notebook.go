package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPNotebook talks to a notebook service exposing GET /health and
// POST /query.
type HTTPNotebook struct {
	URL    string
	Client *http.Client
}

// NewHTTPNotebook returns nil when url is empty so callers can pass the
// result straight into Request.Notebook.
func NewHTTPNotebook(url string) Notebook {
	url = strings.TrimRight(strings.TrimSpace(url), "/")
	if url == "" {
		return nil
	}
	return &HTTPNotebook{URL: url, Client: &http.Client{Timeout: 2 * time.Minute}}
}

func (n *HTTPNotebook) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.URL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := n.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func (n *HTTPNotebook) Query(ctx context.Context, specID, brief string) (string, error) {
	body, err := json.Marshal(map[string]string{"spec_id": specID, "brief": brief})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL+"/query", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	var out struct {
		Answer string `json:"answer"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding answer: %w", err)
	}
	return out.Answer, nil
}
