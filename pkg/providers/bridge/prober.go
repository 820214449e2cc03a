package bridge

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jeffersonwarrior/aimux-sub000/pkg/providers"
)

// Probe checks that a provider answers HTTP. Any status below 500 counts as
// reachable; authentication failures still prove the endpoint is up.
func (b *HTTP) Probe(ctx context.Context, e providers.Entry) error {
	url := endpoint(e.BaseURL, e.HealthPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create probe request: %w", err)
	}
	setHeaders(req.Header, e.APIKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("probe returned status %d", resp.StatusCode)
	}
	return nil
}

var _ providers.Prober = (*HTTP)(nil)
