package safety

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

// ErrBodyTooLarge indicates a response body exceeded the configured read limit.
var ErrBodyTooLarge = errors.New("response body too large")

const (
	defaultConnectTimeout  = 5 * time.Second
	defaultDownloadTimeout = 5 * time.Second
)

// NewHTTPClient creates the client shared by the metadata fetch and every
// pull-style probe. connectTimeout bounds dialing and the TLS handshake;
// downloadTimeout bounds the whole exchange including the body read.
// The returned client is safe for concurrent use.
func NewHTTPClient(connectTimeout, downloadTimeout time.Duration) *http.Client {
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	if downloadTimeout <= 0 {
		downloadTimeout = defaultDownloadTimeout
	}
	return &http.Client{
		Timeout: downloadTimeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: connectTimeout}).DialContext,
			TLSHandshakeTimeout:   connectTimeout,
			ResponseHeaderTimeout: downloadTimeout,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   2,
		},
	}
}

// ReadAllWithLimit reads from r and fails if content exceeds limit bytes.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("invalid read limit: %d", limit)
	}
	lr := io.LimitReader(r, limit+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrBodyTooLarge
	}
	return data, nil
}

// ValidateHTTPURL ensures the URL parses as HTTP(S) and contains no userinfo.
func ValidateHTTPURL(raw string) (*url.URL, error) {
	return validateURL(raw, "http", "https")
}

// ValidateMirrorURL ensures the URL parses with one of the mirror transport
// schemes (http, https, rsync) and has a host.
func ValidateMirrorURL(raw string) (*url.URL, error) {
	return validateURL(raw, "http", "https", "rsync")
}

func validateURL(raw string, schemes ...string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	allowed := false
	for _, s := range schemes {
		if u.Scheme == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("URL host is required")
	}
	if u.User != nil {
		return nil, fmt.Errorf("URL userinfo is not allowed")
	}
	return u, nil
}

// ResolveProbeURL joins a probe object path onto a mirror base URL. Mirror
// URLs in the status feed end with a slash; one is added when missing so the
// last path segment of the base is kept.
func ResolveProbeURL(base, probePath string) (string, error) {
	u, err := ValidateMirrorURL(base)
	if err != nil {
		return "", err
	}
	rel, err := CleanProbePath(probePath)
	if err != nil {
		return "", fmt.Errorf("invalid probe path: %w", err)
	}
	if u.Path == "" || u.Path[len(u.Path)-1] != '/' {
		u.Path += "/"
	}
	ref := &url.URL{Path: rel}
	return u.ResolveReference(ref).String(), nil
}
