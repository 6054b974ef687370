// Package output renders ranked mirrors as a pacman mirrorlist, as a
// per-mirror info listing, or as a country table.
package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/BadgerOps/reflector/internal/mirror"
	"github.com/BadgerOps/reflector/internal/rate"
	"github.com/dustin/go-humanize"
)

// PathTemplate is appended to each mirror base URL in the mirrorlist.
const PathTemplate = "$repo/os/$arch"

// TimeLayout is used for every timestamp in the provenance block.
const TimeLayout = "2006-01-02 15:04:05 UTC"

const banner = `################################################################################
################# Arch Linux mirrorlist generated by Reflector #################
################################################################################
`

// Provenance describes how and when a mirrorlist was produced.
type Provenance struct {
	Command   string
	When      time.Time
	Origin    string
	Retrieved time.Time
	LastCheck time.Time
}

// Render writes the banner, the provenance block and one Server line per
// mirror. Only errors from w are returned.
func Render(w io.Writer, prov Provenance, mirrors []mirror.Mirror) error {
	ew := &errWriter{w: w}
	ew.printf("%s\n", banner)
	ew.printf("# With:       %s\n", prov.Command)
	ew.printf("# When:       %s\n", formatTime(prov.When))
	ew.printf("# From:       %s\n", prov.Origin)
	ew.printf("# Retrieved:  %s\n", formatTime(prov.Retrieved))
	ew.printf("# Last Check: %s\n\n", formatTime(prov.LastCheck))
	for _, m := range mirrors {
		ew.printf("Server = %s%s\n", m.URL, PathTemplate)
	}
	return ew.err
}

// RenderInfo writes one block per mirror listing every known field. Rates,
// when measured, are shown human readable.
func RenderInfo(w io.Writer, mirrors []mirror.Mirror, rates rate.Measurement) error {
	ew := &errWriter{w: w}
	for i, m := range mirrors {
		if i > 0 {
			ew.printf("\n")
		}
		ew.printf("%s\n", m.URL)
		field := func(name, value string) {
			ew.printf("  %-16s %s\n", name+":", value)
		}
		field("protocol", m.Protocol.String())
		field("country", countryLabel(m))
		field("last sync", optionalTime(m.LastSync))
		field("completion", optionalPercent(m.CompletionPct))
		field("delay", optionalDelay(m.Delay))
		field("duration avg", optionalFloat(m.DurationAvg, "%.3f s"))
		field("duration stddev", optionalFloat(m.DurationStddev, "%.3f s"))
		field("score", optionalFloat(m.Score, "%.2f"))
		field("active", yesNo(m.Active))
		field("isos", yesNo(m.ISOs))
		field("ipv4", yesNo(m.IPv4))
		field("ipv6", yesNo(m.IPv6))
		if m.Details != "" {
			field("details", m.Details)
		}
		if r, ok := rates.Get(m.URL); ok {
			field("rate", humanize.Bytes(uint64(r))+"/s")
		}
	}
	return ew.err
}

// RenderCountries writes an aligned table of mirror counts per country.
func RenderCountries(w io.Writer, counts []mirror.CountryCount) error {
	countryWidth, codeWidth, countWidth := len("Country"), len("Code"), len("Count")
	for _, c := range counts {
		countryWidth = max(countryWidth, len(c.Country))
		codeWidth = max(codeWidth, len(c.Code))
		countWidth = max(countWidth, len(fmt.Sprint(c.Count)))
	}

	ew := &errWriter{w: w}
	row := func(country, code, count string) {
		ew.printf("%-*s %-*s %*s\n", countryWidth, country, codeWidth, code, countWidth, count)
	}
	row("Country", "Code", "Count")
	row(strings.Repeat("=", countryWidth), strings.Repeat("=", codeWidth), strings.Repeat("=", countWidth))
	for _, c := range counts {
		row(c.Country, c.Code, fmt.Sprint(c.Count))
	}
	return ew.err
}

// errWriter stops writing after the first failure and remembers it.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.UTC().Format(TimeLayout)
}

func countryLabel(m mirror.Mirror) string {
	if m.CountryCode == "" {
		return "unknown"
	}
	return fmt.Sprintf("%s (%s)", m.Country, m.CountryCode)
}

func optionalTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return formatTime(*t)
}

func optionalPercent(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", *v*100)
}

func optionalDelay(v *int64) string {
	if v == nil {
		return "n/a"
	}
	return (time.Duration(*v) * time.Second).String()
}

func optionalFloat(v *float64, format string) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf(format, *v)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
