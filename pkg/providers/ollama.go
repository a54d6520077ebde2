package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultOllamaBase = "http://localhost:11434"

// OllamaProvider talks to a local Ollama daemon through its OpenAI-compatible
// endpoint. Model discovery uses the native /api/tags route and is best
// effort: a daemon that is down just yields an empty model list.
type OllamaProvider struct {
	*HTTPProvider
	baseURL string
}

func NewOllamaProvider(apiBase, defaultModel string, timeout time.Duration) *OllamaProvider {
	base := strings.TrimRight(strings.TrimSpace(apiBase), "/")
	if base == "" {
		base = defaultOllamaBase
	}
	inner := NewHTTPProvider("ollama", "ollama", base+"/v1", "", timeout)
	inner.SetDefaultModel(defaultModel)

	p := &OllamaProvider{HTTPProvider: inner, baseURL: base}
	p.SetModels(p.discoverModels())
	return p
}

func (p *OllamaProvider) discoverModels() []string {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(p.baseURL + "/api/tags")
	if err != nil {
		slog.Debug("ollama model discovery failed", "error", err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		slog.Debug("ollama model discovery failed", "status", resp.StatusCode)
		return nil
	}

	var payload struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		slog.Debug("ollama model discovery failed", "error", err)
		return nil
	}

	names := make([]string, 0, len(payload.Models))
	for _, m := range payload.Models {
		if m.Name != "" {
			names = append(names, m.Name)
		}
	}
	return names
}

// Pull asks the daemon to fetch a model. It blocks until the pull finishes
// or the context is cancelled.
func (p *OllamaProvider) Pull(ctx context.Context, model string) error {
	body := strings.NewReader(fmt.Sprintf(`{"model":%q,"stream":false}`, model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/pull", body)
	if err != nil {
		return fmt.Errorf("ollama pull request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return fmt.Errorf("ollama pull %s: %w", model, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama pull %s: status %d", model, resp.StatusCode)
	}

	p.SetModels(p.discoverModels())
	return nil
}
