package proxy

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"path"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cloudrive/drive-stream-proxy/internal/monitoring"
	"github.com/cloudrive/drive-stream-proxy/internal/resolver"
	"github.com/cloudrive/drive-stream-proxy/pkg/flowcipher"
)

// Forward relays r to urlAddr and streams the response back, optionally
// encrypting the outbound body and decrypting the inbound one. When the
// upstream redirects and decryption is active, the Location header is
// rewritten to a fresh /redirect URL carrying the redirect target, so the
// client keeps flowing through the proxy instead of reading ciphertext off
// the CDN.
func (s *Server) Forward(w http.ResponseWriter, r *http.Request, urlAddr string, encrypt, decrypt *flowcipher.Transform, fi resolver.FileInfo) {
	log := s.logger.WithField("upstream", urlAddr)

	var body io.Reader
	var sent *countingReader
	if r.Body != nil && r.Body != http.NoBody {
		body = r.Body
		if encrypt != nil {
			body = encrypt.Reader(r.Body)
		}
		sent = &countingReader{src: body}
		body = sent
		defer func() {
			monitoring.RecordBytesStreamed("upstream", sent.n)
		}()
	}

	upReq, err := http.NewRequestWithContext(r.Context(), r.Method, urlAddr, body)
	if err != nil {
		log.WithError(err).Warn("Invalid forward URL")
		http.Error(w, "invalid upstream URL", http.StatusBadGateway)
		return
	}
	copyRequestHeaders(upReq.Header, r.Header)

	resp, err := s.pools.clientFor(urlAddr).Do(upReq)
	if err != nil {
		log.WithError(err).Warn("Forward connect failed")
		http.Error(w, "upstream connect failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	overrideLocation := ""
	if isRedirect(status) && decrypt != nil {
		if location := resp.Header.Get("Location"); location != "" {
			overrideLocation = s.urls.RedirectURL(uuid.NewString(), location, fi)
		}
	}

	if status == http.StatusOK && resp.Header.Get("Content-Range") != "" {
		status = http.StatusPartialContent
	}

	overrideDisposition := ""
	if decrypt != nil && s.config.Security.FileNameAutoDecrypt &&
		r.Method == http.MethodGet && status == http.StatusOK {
		name := resolver.UpstreamFileName(urlAddr)
		if name == "" {
			if u, perr := url.Parse(urlAddr); perr == nil {
				name = path.Base(u.Path)
			}
		}
		if decoded := s.decodeFileNameFor(fi, name); decoded != "" {
			overrideDisposition = "attachment; filename*=UTF-8''" + url.PathEscape(decoded)
		}
	}

	copyResponseHeaders(w.Header(), resp.Header, overrideLocation != "", overrideDisposition != "")
	if overrideLocation != "" {
		w.Header().Set("Location", overrideLocation)
	}
	if overrideDisposition != "" {
		w.Header().Set("Content-Disposition", overrideDisposition)
	}
	w.WriteHeader(status)

	if r.Method == http.MethodHead {
		return
	}

	reader := io.Reader(resp.Body)
	if decrypt != nil {
		reader = decrypt.Reader(resp.Body)
	}

	monitoring.ActiveStreams.Inc()
	defer monitoring.ActiveStreams.Dec()

	written, err := io.Copy(w, reader)
	monitoring.RecordBytesStreamed("downstream", written)
	if err != nil {
		log.WithFields(logrus.Fields{"bytes": written, "error": err}).Debug("Forward stream ended early")
		return
	}
	log.WithField("bytes", written).Debug("Forward complete")
}

// countingReader counts the bytes the transport pulls through it, so the
// outbound leg of a forwarded upload shows up in the streaming metrics.
type countingReader struct {
	src io.Reader
	n   int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.src.Read(p)
	c.n += int64(n)
	return n, err
}

// decodeFileNameFor is decodeFileName over a FileInfo instead of a parsed
// request.
func (s *Server) decodeFileNameFor(fi resolver.FileInfo, name string) string {
	rc := &requestContext{
		identity: resolver.FileIdentity{UserID: fi.UserID, DriveID: fi.DriveID, FileID: fi.FileID},
		encType:  fi.EncType,
		password: fi.Password,
	}
	return s.decodeFileName(rc, name)
}

// SimpleRequest performs a small buffered request through the proxy's
// connection pools and returns the body as a string. Meant for control-plane
// calls, never media streams.
func (s *Server) SimpleRequest(ctx context.Context, method, urlAddr string, headers map[string]string, body io.Reader) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, urlAddr, body)
	if err != nil {
		return "", 0, err
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := s.pools.clientFor(urlAddr).Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, err
	}
	return string(data), resp.StatusCode, nil
}
