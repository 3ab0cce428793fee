// Package scheduler runs one Temporal workflow per subscription's
// billing cycle, grounded on the teacher's temporal client/worker
// wiring, generalized from a single worker-registration call site into
// the cycle materialize -> finalize -> reconcile -> collect pipeline.
package scheduler

import (
	"context"
	"crypto/tls"

	"github.com/flexprice/flexcore/internal/config"
	"github.com/flexprice/flexcore/internal/logger"
	"go.temporal.io/sdk/client"
)

// apiKeyProvider attaches Temporal Cloud's API-key auth headers to every
// client call, mirroring the teacher's APIKeyProvider.
type apiKeyProvider struct {
	apiKey    string
	namespace string
}

func (p *apiKeyProvider) GetHeaders(_ context.Context) (map[string]string, error) {
	return map[string]string{
		"Authorization":      "Bearer " + p.apiKey,
		"temporal-namespace": p.namespace,
	}, nil
}

// Client wraps the Temporal SDK client.
type Client struct {
	SDK client.Client
}

func NewClient(cfg config.TemporalConfig, log *logger.Logger) (*Client, error) {
	options := client.Options{
		HostPort:  cfg.Address,
		Namespace: cfg.Namespace,
	}
	if cfg.APIKey != "" {
		options.HeadersProvider = &apiKeyProvider{apiKey: cfg.APIKey, namespace: cfg.Namespace}
	}
	if cfg.TLS {
		options.ConnectionOptions.TLS = &tls.Config{}
	}

	c, err := client.Dial(options)
	if err != nil {
		log.Errorf("failed to dial temporal: %v", err)
		return nil, err
	}
	log.Info("temporal client connected")
	return &Client{SDK: c}, nil
}

func (c *Client) Close() {
	c.SDK.Close()
}
