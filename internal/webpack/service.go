package webpack

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// WatchDelayMs is the debounce delay sent with every request.
const WatchDelayMs = 200

// Transport dispatches a payload to a named service and returns the raw
// response body.
type Transport interface {
	Call(ctx context.Context, service string, payload []byte) ([]byte, error)
}

// BundleRequest describes one bundling call. The debounce delay and the
// cache flag are not part of it: every call sends WatchDelayMs with caching
// off.
type BundleRequest struct {
	ConfigPath  string
	WatchConfig bool
	WatchSource bool
	FullStats   bool
	OutputDir   string
}

// ServiceRequest is the JSON body sent to the compiler service.
type ServiceRequest struct {
	Config      string `json:"config"`
	Watch       bool   `json:"watch"`
	WatchDelay  int    `json:"watchDelay"`
	WatchConfig bool   `json:"watchConfig"`
	Cache       bool   `json:"cache"`
	FullStats   bool   `json:"fullStats"`
	BundleDir   string `json:"bundleDir"`
}

// ServiceClient talks to the long running compiler service.
type ServiceClient struct {
	transport Transport
	service   string
	logger    zerolog.Logger
}

// NewServiceClient creates a client for the named compiler service.
func NewServiceClient(transport Transport, service string) *ServiceClient {
	if service == "" {
		service = DefaultServiceName
	}
	return &ServiceClient{
		transport: transport,
		service:   service,
		logger:    log.Logger,
	}
}

// newServiceRequest builds the wire payload. Caching is always disabled at
// this layer.
func newServiceRequest(req BundleRequest) ServiceRequest {
	return ServiceRequest{
		Config:      req.ConfigPath,
		Watch:       req.WatchSource,
		WatchDelay:  WatchDelayMs,
		WatchConfig: req.WatchConfig,
		Cache:       false,
		FullStats:   req.FullStats,
		BundleDir:   req.OutputDir,
	}
}

// Compile sends req to the compiler service. Transport and decoding failures
// are returned as KindTransport bundling errors, compiler-reported errors as
// KindCompiler. Warnings are left on the returned stats for the caller.
func (c *ServiceClient) Compile(ctx context.Context, req BundleRequest) (*CompilerStats, error) {
	payload, err := json.Marshal(newServiceRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bundle request: %w", err)
	}

	c.logger.Debug().
		Str("service", c.service).
		Str("config", req.ConfigPath).
		Bool("watch", req.WatchSource).
		Bool("watch_config", req.WatchConfig).
		Msg("Dispatching bundle request")

	body, err := c.transport.Call(ctx, c.service, payload)
	if err != nil {
		return nil, &BundlingError{Kind: KindTransport, ConfigPath: req.ConfigPath, Cause: err}
	}

	var stats CompilerStats
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil, &BundlingError{
			Kind:       KindTransport,
			ConfigPath: req.ConfigPath,
			Cause:      fmt.Errorf("malformed compiler response: %w", err),
		}
	}

	if len(stats.Errors) > 0 {
		return nil, &BundlingError{Kind: KindCompiler, ConfigPath: req.ConfigPath, Errors: stats.Errors}
	}

	return &stats, nil
}
