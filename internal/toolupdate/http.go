package toolupdate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/openframe/agent/internal/net/ssrf"
)

const downloadTimeout = 2 * time.Minute

// httpGet fetches rawURL directly — download_configurations links point
// outside the control plane (CDN/artifact storage), so this bypasses
// controlplane.Client's base-URL-relative request builders.
func httpGet(ctx context.Context, rawURL string) ([]byte, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse download link: %w", err)
	}
	if err := ssrf.ValidatePublicHostname(parsed.Hostname()); err != nil {
		return nil, fmt.Errorf("download link rejected: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return io.ReadAll(resp.Body)
}
