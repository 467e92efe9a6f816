package proxy

import (
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/cloudrive/drive-stream-proxy/internal/monitoring"
	"github.com/cloudrive/drive-stream-proxy/internal/resolver"
	"github.com/cloudrive/drive-stream-proxy/pkg/flowcipher"
)

// handleProxy serves /proxy: resolve the file's upstream URL, connect, and
// stream the body back, decrypting on the fly when the file is encrypted.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	rc := parseProxyRequest(r)
	log := s.logger.WithFields(logrus.Fields{
		"file":    rc.identity.String(),
		"encType": rc.encType,
	})
	log.WithField("state", stateReceived).Debug("Proxy request received")

	if !rc.identity.Valid() {
		http.Error(w, "user_id, drive_id and file_id are required", http.StatusBadRequest)
		return
	}

	log.WithField("state", stateResolving).Debug("Resolving upstream URL")
	resolved, err := s.resolveUpstream(r, rc)
	if err != nil {
		// The error text is the response body: players surface it and the
		// desktop client pattern-matches vendor messages out of it.
		log.WithFields(logrus.Fields{"state": stateError, "error": err}).Warn("Failed to resolve upstream URL")
		s.cache.Invalidate(rc.identity)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	upstreamURL := resolved.UpstreamURL

	// Some CDN hosts refuse proxied connections; plain files hosted there
	// are handed straight to the client instead.
	if rc.encType == "" && s.cdnDirect(upstreamURL) {
		log.Debug("Redirecting client directly to CDN")
		http.Redirect(w, r, upstreamURL, http.StatusFound)
		return
	}

	fc, err := s.newFlowCipher(rc.identity.UserID, rc.fileSize, rc.encType, rc.password)
	if err != nil {
		log.WithFields(logrus.Fields{"state": stateError, "error": err}).Error("Failed to build cipher")
		http.Error(w, "cipher setup failed", http.StatusInternalServerError)
		return
	}
	var transform *flowcipher.Transform
	if fc != nil {
		transform = fc.DecryptTransform()
		if err := transform.SetPosition(rangeStart(r.Header.Get("Range"))); err != nil {
			log.WithFields(logrus.Fields{"state": stateError, "error": err}).Error("Failed to position cipher")
			http.Error(w, "cipher setup failed", http.StatusInternalServerError)
			return
		}
		defer transform.Close()
	}

	log.WithField("state", stateConnecting).Debug("Connecting upstream")
	upReq, err := http.NewRequestWithContext(r.Context(), rc.method, upstreamURL, nil)
	if err != nil {
		log.WithFields(logrus.Fields{"state": stateError, "error": err}).Warn("Invalid upstream URL")
		s.cache.Invalidate(rc.identity)
		http.Error(w, "invalid upstream URL", http.StatusBadGateway)
		return
	}
	copyRequestHeaders(upReq.Header, r.Header)

	resp, err := s.pools.clientFor(upstreamURL).Do(upReq)
	if err != nil {
		log.WithFields(logrus.Fields{"state": stateError, "error": err}).Warn("Upstream connect failed")
		s.cache.Invalidate(rc.identity)
		http.Error(w, "upstream connect failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	overrideLocation := ""
	if isRedirect(status) && resp.Header.Get("Location") != "" && transform != nil {
		// The signed URL moved; the client must come back through the proxy
		// or it would receive ciphertext. The stale cache entry goes too.
		s.cache.Invalidate(rc.identity)
		overrideLocation = s.urls.ProxyURL(rc.fileInfo())
	}

	// Some upstreams answer a range request with 200 + Content-Range, which
	// players reject. Normalize to a proper partial response.
	if status == http.StatusOK && resp.Header.Get("Content-Range") != "" {
		status = http.StatusPartialContent
	}

	overrideDisposition := ""
	if transform != nil && s.config.Security.FileNameAutoDecrypt &&
		rc.method == http.MethodGet && status == http.StatusOK {
		if name := s.decodeFileName(rc, resolver.UpstreamFileName(upstreamURL)); name != "" {
			overrideDisposition = "attachment; filename*=UTF-8''" + url.PathEscape(name)
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

	if rc.method == http.MethodHead {
		log.WithField("state", stateClosed).Debug("HEAD request complete")
		return
	}

	log.WithFields(logrus.Fields{"state": stateStreaming, "status": status}).Debug("Streaming upstream body")
	reader := io.Reader(resp.Body)
	if transform != nil {
		reader = transform.Reader(resp.Body)
		monitoring.RecordCipherOperation("decrypt", string(fc.Kind()))
	}

	monitoring.ActiveStreams.Inc()
	defer monitoring.ActiveStreams.Dec()

	written, err := io.Copy(w, reader)
	monitoring.RecordBytesStreamed("downstream", written)
	if err != nil {
		// The client hanging up mid-stream is the normal end of a seek.
		log.WithFields(logrus.Fields{"state": stateClosed, "bytes": written, "error": err}).Debug("Stream ended early")
		return
	}
	log.WithFields(logrus.Fields{"state": stateClosed, "bytes": written}).Debug("Stream complete")
}

// resolveUpstream produces the upstream URL for the request: cache first,
// then the client-supplied URL, then a fresh vendor resolution.
func (s *Server) resolveUpstream(r *http.Request, rc *requestContext) (*resolver.ResolvedURL, error) {
	if resolved, ok := s.cache.Get(rc.identity, s.config.VideoMode); ok {
		return resolved, nil
	}

	if rc.proxyURL != "" {
		// The client handed over the upstream URL (a redirect/lastUrl chain
		// hand-off); follow it as given instead of resolving.
		resolved := &resolver.ResolvedURL{
			UpstreamURL: rc.proxyURL,
			Size:        rc.fileSize,
			ExpiresAt:   resolver.ExpiresTime(rc.proxyURL),
			Mode:        resolver.ModeRedirectFollow,
			VideoMode:   s.config.VideoMode,
		}
		// Without a readable expiry the URL cannot be trusted across
		// requests; serve it once and resolve next time.
		if !resolved.ExpiresAt.IsZero() {
			s.cache.Put(rc.identity, resolved)
		}
		return resolved, nil
	}

	// Preview is always on for the proxy route: flagged content and online
	// video mode must resolve to a transcoded preview, never a direct
	// download. encType stays empty here so the result is never re-wrapped
	// into another proxy URL.
	resolved, err := s.resolver.Resolve(r.Context(), rc.identity, resolver.Options{
		Password:  rc.password,
		Weifa:     rc.weifa,
		Preview:   true,
		VideoMode: s.config.VideoMode,
	})
	if err != nil {
		return nil, err
	}
	s.cache.Put(rc.identity, resolved)
	return resolved, nil
}

// handleRedirect serves /redirect/{key}: re-enter the proxy after an
// upstream redirect, continuing decryption at the client's range offset.
func (s *Server) handleRedirect(w http.ResponseWriter, r *http.Request) {
	rc := parseProxyRequest(r)
	q := r.URL.Query()
	lastURL := q.Get("lastUrl")
	if lastURL == "" {
		http.Error(w, "lastUrl is required", http.StatusBadRequest)
		return
	}

	var decrypt *flowcipher.Transform
	if q.Get("decode") == "1" && rc.encType != "" {
		fc, err := s.newFlowCipher(rc.identity.UserID, rc.fileSize, rc.encType, rc.password)
		if err != nil {
			s.logger.WithError(err).Error("Failed to build cipher for redirect")
			http.Error(w, "cipher setup failed", http.StatusInternalServerError)
			return
		}
		decrypt = fc.DecryptTransform()
		if err := decrypt.SetPosition(rangeStart(r.Header.Get("Range"))); err != nil {
			s.logger.WithError(err).Error("Failed to position cipher for redirect")
			http.Error(w, "cipher setup failed", http.StatusInternalServerError)
			return
		}
		defer decrypt.Close()
		monitoring.RecordCipherOperation("decrypt", string(fc.Kind()))
	}

	s.Forward(w, r, lastURL, nil, decrypt, rc.fileInfo())
}

// cdnDirect reports whether the upstream host is on a CDN that must be
// contacted by the client directly.
func (s *Server) cdnDirect(upstreamURL string) bool {
	u, err := url.Parse(upstreamURL)
	if err != nil {
		return false
	}
	host := u.Hostname()
	for _, suffix := range s.config.Vendor.CDNDirectSuffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}

// decodeFileName recovers the plaintext filename from an encrypted one,
// keeping the container extension intact. Returns "" when the name does not
// decode, in which case the upstream disposition stands.
func (s *Server) decodeFileName(rc *requestContext, name string) string {
	if name == "" {
		return ""
	}
	kind, err := flowcipher.ParseKind(s.config.Security.EncKind)
	if err != nil {
		return ""
	}
	ext := path.Ext(name)
	encoded := strings.TrimSuffix(name, ext)
	password := s.encPassword(rc.identity.UserID, rc.encType, rc.password)
	decoded := flowcipher.DecodeName(password, kind, encoded)
	if decoded == "" {
		return ""
	}
	return decoded + ext
}

func isRedirect(status int) bool {
	return status >= http.StatusMultipleChoices && status <= http.StatusNotModified
}

// hop-by-hop and trust-sensitive request headers never travel upstream. The
// signed CDN URLs carry their own authorization; a leaked local Referer or
// Authorization header gets requests rejected outright.
var strippedRequestHeaders = map[string]bool{
	"Host":          true,
	"Referer":       true,
	"Authorization": true,
	"Connection":    true,
}

func copyRequestHeaders(dst, src http.Header) {
	for key, values := range src {
		if strippedRequestHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func copyResponseHeaders(dst, src http.Header, skipLocation, skipDisposition bool) {
	for key, values := range src {
		canonical := http.CanonicalHeaderKey(key)
		if skipLocation && canonical == "Location" {
			continue
		}
		if skipDisposition && canonical == "Content-Disposition" {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}
