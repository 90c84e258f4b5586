package network

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"chatsync/internal/constants"
)

// HTTPProbe checks reachability by hitting a lightweight backend endpoint.
type HTTPProbe struct {
	url    string
	client *http.Client
}

func NewHTTPProbe(url string, client *http.Client) *HTTPProbe {
	if client == nil {
		client = &http.Client{Timeout: time.Duration(constants.DefaultProbeTimeoutSec) * time.Second}
	}
	return &HTTPProbe{url: url, client: client}
}

func (p *HTTPProbe) Check(ctx context.Context) (State, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return State{}, fmt.Errorf("failed to create probe request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return State{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		// The link is up but the backend is not usable.
		return State{Connected: true, InternetReachable: false, ConnectionType: "http"}, nil
	}

	return State{Connected: true, InternetReachable: true, ConnectionType: "http"}, nil
}
