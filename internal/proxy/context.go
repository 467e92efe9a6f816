package proxy

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/cloudrive/drive-stream-proxy/internal/resolver"
)

// requestState names the stage an in-flight proxied request is in. Each
// request runs the machine RECEIVED → RESOLVING → CONNECTING → STREAMING →
// CLOSED, with ERROR absorbing failures in RESOLVING or CONNECTING.
type requestState string

const (
	stateReceived   requestState = "received"
	stateResolving  requestState = "resolving"
	stateConnecting requestState = "connecting"
	stateStreaming  requestState = "streaming"
	stateClosed     requestState = "closed"
	stateError      requestState = "error"
)

// requestContext carries the parsed parameters of one inbound proxy request.
// It lives exactly as long as the request/response cycle.
type requestContext struct {
	method   string
	identity resolver.FileIdentity
	fileSize int64
	encType  string
	password string
	weifa    bool
	proxyURL string
}

// parseProxyRequest extracts the proxy query parameters. Absent values stay
// zero; validation happens where the values are needed.
func parseProxyRequest(r *http.Request) *requestContext {
	q := r.URL.Query()
	rc := &requestContext{
		method: r.Method,
		identity: resolver.FileIdentity{
			UserID:  q.Get("user_id"),
			DriveID: q.Get("drive_id"),
			FileID:  q.Get("file_id"),
		},
		encType:  q.Get("encType"),
		password: q.Get("password"),
		weifa:    q.Get("weifa") == "1" || q.Get("weifa") == "true",
		proxyURL: q.Get("proxy_url"),
	}
	if size, err := strconv.ParseInt(q.Get("file_size"), 10, 64); err == nil {
		rc.fileSize = size
	}
	return rc
}

// fileInfo rebuilds the URL-builder input from the request parameters.
func (rc *requestContext) fileInfo() resolver.FileInfo {
	return resolver.FileInfo{
		UserID:   rc.identity.UserID,
		DriveID:  rc.identity.DriveID,
		FileID:   rc.identity.FileID,
		FileSize: rc.fileSize,
		EncType:  rc.encType,
		Password: rc.password,
		Weifa:    rc.weifa,
		ProxyURL: rc.proxyURL,
	}
}

// rangeStart parses the byte offset of a "bytes=N-" range header. Multi-part
// and suffix ranges are not produced by the players this proxy serves; they
// fall back to offset zero.
func rangeStart(rangeHeader string) int64 {
	if !strings.HasPrefix(rangeHeader, "bytes=") {
		return 0
	}
	spec := strings.TrimPrefix(rangeHeader, "bytes=")
	if i := strings.IndexByte(spec, '-'); i >= 0 {
		spec = spec[:i]
	}
	start, err := strconv.ParseInt(spec, 10, 64)
	if err != nil || start < 0 {
		return 0
	}
	return start
}
