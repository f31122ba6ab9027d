package builtin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/spinje/pflow-sub005/capability"
	"github.com/spinje/pflow-sub005/ir"
)

const maxResponseBody = 10 << 20

type httpRequest struct{ opts Options }

func (c httpRequest) Invoke(ctx context.Context, inv *capability.Invocation) (map[string]any, error) {
	url := inv.String("url")
	if url == "" {
		return nil, fmt.Errorf("http-request: url is required")
	}
	method := strings.ToUpper(inv.String("method"))
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if b := inv.String("body"); b != "" {
		body = strings.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("http-request: %w", err)
	}
	if headers, ok := inv.Params["headers"].(map[string]any); ok {
		keys := make([]string, 0, len(headers))
		for k := range headers {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			req.Header.Set(k, ir.Stringify(headers[k]))
		}
	}

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http-request %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("http-request: read body: %w", err)
	}
	return map[string]any{"status": resp.StatusCode, "body": string(data)}, nil
}
