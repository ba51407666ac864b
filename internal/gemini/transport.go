package gemini

import (
	"bytes"
	"crypto/tls"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"chatwithai-backend/pkg/logger"
)

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// inlineDataPattern matches the base64 payload of an inline image part.
var inlineDataPattern = regexp.MustCompile(`("data"\s*:\s*")[^"]*(")`)

// debugTransport 调试用的传输层，记录请求但隐藏 key 和图片数据
type debugTransport struct {
	base http.RoundTripper
}

func newDebugTransport(base http.RoundTripper) *debugTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &debugTransport{base: base}
}

// RoundTrip 实现http.RoundTripper接口
func (t *debugTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method == http.MethodPost {
		t.logRequest(req)
	}

	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		logger.Errorf("[gemini debug] request failed after %s: %v", time.Since(start), stripKey(err))
		return nil, err
	}

	logger.Infof("[gemini debug] %s %d in %s", redactURL(req.URL), resp.StatusCode, time.Since(start))
	return resp, nil
}

func (t *debugTransport) logRequest(req *http.Request) {
	logger.Infof("[gemini debug] %s %s", req.Method, redactURL(req.URL))

	for name, values := range req.Header {
		if isSensitiveHeader(name) {
			logger.Infof("[gemini debug]   %s: [REDACTED]", name)
		} else {
			logger.Infof("[gemini debug]   %s: %s", name, strings.Join(values, ", "))
		}
	}

	if req.Body == nil || req.GetBody == nil {
		return
	}

	// 从副本读取，不影响实际请求体
	body, err := req.GetBody()
	if err != nil {
		logger.Errorf("[gemini debug] failed to copy request body: %v", err)
		return
	}
	defer body.Close()

	bodyBytes, err := io.ReadAll(body)
	if err != nil {
		logger.Errorf("[gemini debug] failed to read request body: %v", err)
		return
	}

	logger.Infof("[gemini debug] body (%d bytes): %s", len(bodyBytes), sanitizeBody(bodyBytes))
}

// redactURL hides the key query parameter.
func redactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	q := c.Query()
	if q.Has("key") {
		q.Set("key", "REDACTED")
		c.RawQuery = q.Encode()
	}
	return c.String()
}

// sanitizeBody elides inline image payloads.
func sanitizeBody(body []byte) string {
	return string(inlineDataPattern.ReplaceAll(bytes.TrimSpace(body), []byte(`${1}[elided]${2}`)))
}

func isSensitiveHeader(name string) bool {
	for _, sensitive := range []string{"authorization", "x-goog-api-key", "cookie"} {
		if strings.EqualFold(name, sensitive) {
			return true
		}
	}
	return false
}
