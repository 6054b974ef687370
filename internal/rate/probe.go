package rate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/BadgerOps/reflector/internal/mirror"
	"github.com/BadgerOps/reflector/internal/safety"
)

// DefaultProbePath is the probe object fetched from every mirror, relative to
// the mirror base URL.
const DefaultProbePath = "extra/os/x86_64/extra.db"

// DefaultMaxProbeBytes bounds the body read by HTTPProber. The probe object
// is a few megabytes.
const DefaultMaxProbeBytes int64 = 256 * 1024 * 1024

// rsyncWaitDelay is how long Probe waits for rsync's children to release its
// output pipes after the process was killed.
const rsyncWaitDelay = time.Second

// ErrInvalidSample is returned for samples that cannot produce a positive,
// finite rate.
var ErrInvalidSample = errors.New("invalid rate sample")

// Sample is one timed transfer of the probe object.
type Sample struct {
	Bytes   int64
	Elapsed time.Duration
}

// Rate returns the sample's throughput in bytes per second.
func (s Sample) Rate() (float64, error) {
	if s.Elapsed <= 0 {
		return 0, fmt.Errorf("%w: non-positive elapsed time %v", ErrInvalidSample, s.Elapsed)
	}
	if s.Bytes <= 0 {
		return 0, fmt.Errorf("%w: transferred %d bytes", ErrInvalidSample, s.Bytes)
	}
	r := float64(s.Bytes) / s.Elapsed.Seconds()
	if math.IsInf(r, 0) || math.IsNaN(r) || r <= 0 {
		return 0, fmt.Errorf("%w: rate %v", ErrInvalidSample, r)
	}
	return r, nil
}

// Prober times the retrieval of the probe object from one mirror.
type Prober interface {
	Probe(ctx context.Context, m mirror.Mirror) (Sample, error)
}

// Probers holds one strategy per transport family.
type Probers struct {
	Pull Prober
	Sync Prober
}

// For selects the prober for a transport scheme.
func (p Probers) For(proto mirror.Protocol) (Prober, error) {
	var pr Prober
	switch {
	case proto.Pull():
		pr = p.Pull
	case proto == mirror.ProtocolRsync:
		pr = p.Sync
	default:
		return nil, fmt.Errorf("no prober for protocol %q", proto)
	}
	if pr == nil {
		return nil, fmt.Errorf("prober for protocol %q is not configured", proto)
	}
	return pr, nil
}

// HTTPProber fetches the probe object with a direct GET through a shared client.
type HTTPProber struct {
	Client    *http.Client
	ProbePath string
	UserAgent string
	// MaxBytes bounds the probe body; zero uses DefaultMaxProbeBytes.
	MaxBytes int64
}

// Probe measures the time from sending the request to reading the full body.
func (p *HTTPProber) Probe(ctx context.Context, m mirror.Mirror) (Sample, error) {
	target, err := safety.ResolveProbeURL(m.URL, p.probePath())
	if err != nil {
		return Sample{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Sample{}, fmt.Errorf("creating request: %w", err)
	}
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}

	start := time.Now()
	resp, err := p.Client.Do(req)
	if err != nil {
		return Sample{}, fmt.Errorf("executing request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Sample{}, fmt.Errorf("unexpected status %s for %s", resp.Status, target)
	}

	limit := p.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxProbeBytes
	}
	n, err := io.Copy(io.Discard, io.LimitReader(resp.Body, limit+1))
	elapsed := time.Since(start)
	if err != nil {
		return Sample{}, fmt.Errorf("reading response body: %w", err)
	}
	if n > limit {
		return Sample{}, fmt.Errorf("probe object from %s exceeded %d bytes: %w", target, limit, safety.ErrBodyTooLarge)
	}
	return Sample{Bytes: n, Elapsed: elapsed}, nil
}

func (p *HTTPProber) probePath() string {
	if p.ProbePath == "" {
		return DefaultProbePath
	}
	return p.ProbePath
}

// RsyncProber copies the probe object with an external rsync process into a
// private temporary directory that is removed when the probe returns.
type RsyncProber struct {
	// Binary defaults to "rsync" looked up in PATH.
	Binary         string
	ProbePath      string
	ConnectTimeout time.Duration
	// Timeout bounds the whole subprocess and is also passed to rsync as its
	// I/O timeout. Zero leaves it unbounded apart from the connection timeout.
	Timeout time.Duration
	// TempRoot is the parent of the per-probe directories; empty uses os.TempDir.
	TempRoot string
}

// Args returns the rsync command line used to fetch src into dest.
func (p *RsyncProber) Args(src, dest string) []string {
	contimeout := int(p.ConnectTimeout / time.Second)
	if contimeout < 1 {
		contimeout = 1
	}
	args := []string{
		"-avL",
		"--no-perms",
		"--no-h",
		"--no-motd",
		fmt.Sprintf("--contimeout=%d", contimeout),
	}
	if p.Timeout > 0 {
		args = append(args, fmt.Sprintf("--timeout=%d", max(int(p.Timeout/time.Second), 1)))
	}
	return append(args, src, dest)
}

// Probe measures the wall time of the whole rsync invocation and the size of
// the file it produced.
func (p *RsyncProber) Probe(ctx context.Context, m mirror.Mirror) (Sample, error) {
	probePath := p.ProbePath
	if probePath == "" {
		probePath = DefaultProbePath
	}
	src, err := safety.ResolveProbeURL(m.URL, probePath)
	if err != nil {
		return Sample{}, err
	}

	dir, err := os.MkdirTemp(p.TempRoot, "reflector-")
	if err != nil {
		return Sample{}, fmt.Errorf("creating probe directory: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(dir)
	}()

	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	binary := p.Binary
	if binary == "" {
		binary = "rsync"
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, p.Args(src, dir)...)
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr
	// rsync forks; a killed parent can leave a child holding the pipes open.
	cmd.WaitDelay = rsyncWaitDelay

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)
	if runErr != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return Sample{}, fmt.Errorf("%s %s: %w: %s", binary, src, runErr, lastLine(msg))
		}
		return Sample{}, fmt.Errorf("%s %s: %w", binary, src, runErr)
	}

	local, err := safety.FileUnder(dir, probePath)
	if err != nil {
		return Sample{}, err
	}
	info, err := os.Stat(local)
	if err != nil {
		return Sample{}, fmt.Errorf("stat probe object: %w", err)
	}
	return Sample{Bytes: info.Size(), Elapsed: elapsed}, nil
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
