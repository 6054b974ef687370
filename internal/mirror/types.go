package mirror

import (
	"fmt"
	"strings"
	"time"
)

// Protocol is the transport scheme a mirror URL is served over.
type Protocol string

const (
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
	ProtocolRsync Protocol = "rsync"
)

// Protocols lists every protocol the status feed publishes.
var Protocols = []Protocol{ProtocolHTTP, ProtocolHTTPS, ProtocolRsync}

// ParseProtocol converts user input into a Protocol. Case is ignored.
func ParseProtocol(s string) (Protocol, error) {
	p := Protocol(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case ProtocolHTTP, ProtocolHTTPS, ProtocolRsync:
		return p, nil
	}
	return "", fmt.Errorf("can't parse %q to a valid protocol", s)
}

// Pull reports whether the protocol belongs to the web-retrievable family,
// whose probe objects are fetched with a direct request.
func (p Protocol) Pull() bool {
	return p == ProtocolHTTP || p == ProtocolHTTPS
}

func (p Protocol) String() string {
	return string(p)
}

// UnmarshalText rejects protocols outside the closed set.
func (p *Protocol) UnmarshalText(text []byte) error {
	switch v := Protocol(text); v {
	case ProtocolHTTP, ProtocolHTTPS, ProtocolRsync:
		*p = v
		return nil
	}
	return fmt.Errorf("can't parse %q to a valid protocol", string(text))
}

// MarshalText implements encoding.TextMarshaler.
func (p Protocol) MarshalText() ([]byte, error) {
	return []byte(p), nil
}

// Mirror is a single mirror URL and the statistics the status service keeps
// for it. Optional statistics are nil when the service has no value.
type Mirror struct {
	URL      string   `json:"url"`
	Protocol Protocol `json:"protocol"`
	// LastSync is nil for mirrors that were never observed synchronized.
	LastSync *time.Time `json:"last_sync"`
	// CompletionPct is the fraction [0,1] of checks that succeeded.
	CompletionPct *float64 `json:"completion_pct"`
	// Delay is the mean mirroring delay in seconds.
	Delay          *int64   `json:"delay"`
	DurationAvg    *float64 `json:"duration_avg"`
	DurationStddev *float64 `json:"duration_stddev"`
	// Score is lower-is-better.
	Score       *float64 `json:"score"`
	Active      bool     `json:"active"`
	Country     string   `json:"country"`
	CountryCode string   `json:"country_code"`
	ISOs        bool     `json:"isos"`
	IPv4        bool     `json:"ipv4"`
	IPv6        bool     `json:"ipv6"`
	Details     string   `json:"details"`
}

// Status is one snapshot of the mirror status service.
type Status struct {
	Cutoff         int64     `json:"cutoff"`
	LastCheck      time.Time `json:"last_check"`
	NumChecks      int64     `json:"num_checks"`
	CheckFrequency int64     `json:"check_frequency"`
	URLs           []Mirror  `json:"urls"`
	Version        int64     `json:"version"`
}
