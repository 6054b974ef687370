package output

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BadgerOps/reflector/internal/mirror"
	"github.com/BadgerOps/reflector/internal/rate"
	"github.com/google/go-cmp/cmp"
)

func TestRender(t *testing.T) {
	when := time.Date(2026, 10, 19, 12, 30, 0, 0, time.UTC)
	prov := Provenance{
		Command:   "reflector --sort rate --country FR",
		When:      when,
		Origin:    "https://archlinux.org/mirrors/status/json/",
		Retrieved: when.Add(-2 * time.Minute),
		LastCheck: when.Add(-time.Hour),
	}
	mirrors := []mirror.Mirror{
		{URL: "https://a.example.fr/archlinux/"},
		{URL: "rsync://b.example.fr/archlinux/"},
	}

	var buf bytes.Buffer
	if err := Render(&buf, prov, mirrors); err != nil {
		t.Fatalf("Render returned error: %v", err)
	}

	want := banner + `
# With:       reflector --sort rate --country FR
# When:       2026-10-19 12:30:00 UTC
# From:       https://archlinux.org/mirrors/status/json/
# Retrieved:  2026-10-19 12:28:00 UTC
# Last Check: 2026-10-19 11:30:00 UTC

Server = https://a.example.fr/archlinux/$repo/os/$arch
Server = rsync://b.example.fr/archlinux/$repo/os/$arch
`
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("rendered output mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("CEST", 2*60*60)
	var buf bytes.Buffer
	err := Render(&buf, Provenance{When: time.Date(2026, 10, 19, 14, 0, 0, 0, loc)}, nil)
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if !strings.Contains(buf.String(), "# When:       2026-10-19 12:00:00 UTC") {
		t.Errorf("expected UTC timestamp, got:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), "# Retrieved:  unknown") {
		t.Errorf("expected zero time rendered as unknown, got:\n%s", buf.String())
	}
}

type failingWriter struct {
	after int
	n     int
}

var errDiskFull = errors.New("no space left on device")

func (f *failingWriter) Write(p []byte) (int, error) {
	if f.n >= f.after {
		return 0, errDiskFull
	}
	f.n++
	return len(p), nil
}

func TestRenderPropagatesSinkErrors(t *testing.T) {
	mirrors := []mirror.Mirror{{URL: "https://a.example.org/"}, {URL: "https://b.example.org/"}}
	w := &failingWriter{after: 3}
	err := Render(w, Provenance{}, mirrors)
	if !errors.Is(err, errDiskFull) {
		t.Fatalf("expected sink error, got %v", err)
	}
	if w.n != 3 {
		t.Errorf("expected writing to stop after the failure, got %d successful writes", w.n)
	}
}

func TestRenderInfo(t *testing.T) {
	sync := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	completion := 0.987
	delay := int64(1800)
	score := 1.25
	mirrors := []mirror.Mirror{
		{URL: "https://a.example.fr/", Protocol: mirror.ProtocolHTTPS, LastSync: &sync, CompletionPct: &completion, Delay: &delay, Score: &score, Country: "France", CountryCode: "FR", Active: true, IPv4: true},
		{URL: "rsync://b.example.org/", Protocol: mirror.ProtocolRsync},
	}
	rates := rate.Measurement{"https://a.example.fr/": 2_500_000}

	var buf bytes.Buffer
	if err := RenderInfo(&buf, mirrors, rates); err != nil {
		t.Fatalf("RenderInfo returned error: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"https://a.example.fr/\n",
		"  protocol:        https\n",
		"  country:         France (FR)\n",
		"  last sync:       2026-10-19 10:00:00 UTC\n",
		"  completion:      98.7%\n",
		"  delay:           30m0s\n",
		"  score:           1.25\n",
		"  active:          yes\n",
		"  ipv6:            no\n",
		"  rate:            2.5 MB/s\n",
		"rsync://b.example.org/\n",
		"  last sync:       never\n",
		"  country:         unknown\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("info output missing %q:\n%s", want, out)
		}
	}
	if strings.Count(out, "rate:") != 1 {
		t.Errorf("rate should only be listed for measured mirrors:\n%s", out)
	}
}

func TestRenderCountries(t *testing.T) {
	counts := []mirror.CountryCount{
		{Country: "Germany", Code: "DE", Count: 120},
		{Country: "United Kingdom", Code: "GB", Count: 7},
	}

	var buf bytes.Buffer
	if err := RenderCountries(&buf, counts); err != nil {
		t.Fatalf("RenderCountries returned error: %v", err)
	}

	want := `Country        Code Count
============== ==== =====
Germany        DE     120
United Kingdom GB       7
`
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("country table mismatch (-want +got):\n%s", diff)
	}
}
