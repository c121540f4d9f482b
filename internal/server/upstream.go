package server

import (
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/plughub/internal/config"
)

const defaultUpstreamTimeout = 30 * time.Second

// NewUpstreamClient 返回插件共享的 http.Client：Lua 的 app.fetch 与 HCL 的 upstream 转发都经由它发出。
// 整体超时取自 UpstreamTimeout，同时作为等待响应头的上限。
func NewUpstreamClient(cfg *config.Config) *http.Client {
	timeout := defaultUpstreamTimeout
	if cfg != nil && cfg.Global.UpstreamTimeout.DurationValue() > 0 {
		timeout = cfg.Global.UpstreamTimeout.DurationValue()
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: newUpstreamTransport(timeout),
	}
}

func newUpstreamTransport(timeout time.Duration) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
	}
}

// hopByHopHeaders 是 RFC 7230 规定只在单跳有效的头部，转发时一律丢弃。
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Proxy-Connection":    {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// CopyHeaders 将 src 中可转发的头追加到 dst。
// 除固定的 hop-by-hop 列表外，src 的 Connection 头点名的字段同样视为单跳字段。
func CopyHeaders(dst, src http.Header) {
	skip := connectionTokens(src)
	for key, values := range src {
		canonical := textproto.CanonicalMIMEHeaderKey(key)
		if isHopByHop(canonical) {
			continue
		}
		if _, listed := skip[canonical]; listed {
			continue
		}
		for _, value := range values {
			dst.Add(canonical, value)
		}
	}
}

// RequestHeaders 把 Fiber 请求头转换为 http.Header，重复字段按出现顺序保留。
func RequestHeaders(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

// CopyResponseHeaders 将上游响应头写回客户端，过滤规则与 CopyHeaders 相同。
func CopyResponseHeaders(c fiber.Ctx, headers http.Header) {
	filtered := http.Header{}
	CopyHeaders(filtered, headers)
	for key, values := range filtered {
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}
}

func isHopByHop(canonical string) bool {
	_, ok := hopByHopHeaders[canonical]
	return ok
}

func connectionTokens(header http.Header) map[string]struct{} {
	values := header.Values("Connection")
	if len(values) == 0 {
		return nil
	}
	tokens := make(map[string]struct{})
	for _, value := range values {
		for _, token := range strings.Split(value, ",") {
			if token = strings.TrimSpace(token); token != "" {
				tokens[textproto.CanonicalMIMEHeaderKey(token)] = struct{}{}
			}
		}
	}
	return tokens
}
