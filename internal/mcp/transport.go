package mcp

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/haasonsaas/conductor/internal/extensions"
)

// TransportFactory creates the go-sdk transport used to reach an extension.
type TransportFactory func(ctx context.Context, cfg extensions.Config) (sdkmcp.Transport, error)

// DefaultTransport builds a stdio, streamable HTTP or SSE transport from cfg.
func DefaultTransport(ctx context.Context, cfg extensions.Config) (sdkmcp.Transport, error) {
	switch cfg.Kind {
	case extensions.KindStdio:
		return stdioTransport(ctx, cfg), nil
	case extensions.KindStreamableHTTP:
		return &sdkmcp.StreamableClientTransport{
			Endpoint:   cfg.URL,
			HTTPClient: httpClient(cfg.Headers),
		}, nil
	case extensions.KindSSE:
		return &sdkmcp.SSEClientTransport{
			Endpoint:   cfg.URL,
			HTTPClient: httpClient(cfg.Headers),
		}, nil
	default:
		return nil, fmt.Errorf("extension %s: no transport for type %q", cfg.Name, cfg.Kind)
	}
}

// stdioTransport launches cfg.Command. A non-empty Env is layered over the
// parent environment so PATH and HOME stay visible to the child.
func stdioTransport(ctx context.Context, cfg extensions.Config) *sdkmcp.CommandTransport {
	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	if len(cfg.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	if cfg.WorkDir != "" {
		cmd.Dir = cfg.WorkDir
	}
	return &sdkmcp.CommandTransport{Command: cmd}
}

func httpClient(headers map[string]string) *http.Client {
	if len(headers) == 0 {
		return http.DefaultClient
	}
	return &http.Client{Transport: &headerTransport{headers: headers, base: http.DefaultTransport}}
}

// headerTransport adds static headers, such as an Authorization token, to
// every request.
type headerTransport struct {
	headers map[string]string
	base    http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}
