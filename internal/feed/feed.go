// Package feed parses the upstream Mozilla CA certificate feed published by curl.se.
package feed

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	rootcaerrors "github.com/princespaghetti/rootca/internal/errors"
)

const (
	// BeginDelimiter opens a certificate block.
	BeginDelimiter = "-----BEGIN CERTIFICATE-----"

	// EndDelimiter closes a certificate block.
	EndDelimiter = "-----END CERTIFICATE-----"

	// AsOfMarker introduces the upstream "as of" date in the feed header.
	// Example: ## Certificate data from Mozilla as of: Tue Oct 11 03:12:05 2022 GMT
	AsOfMarker = "## Certificate data from Mozilla as of: "

	// UpstreamTimeLayout is the layout of the date following AsOfMarker.
	UpstreamTimeLayout = "Mon Jan _2 15:04:05 2006 MST"

	// NormalizedTimeLayout is the ISO-8601 UTC layout stored in metadata.
	NormalizedTimeLayout = "2006-01-02T15:04:05Z"
)

// Record is a single certificate block in its original PEM text, including
// the delimiter lines, each terminated by a newline.
type Record struct {
	Index int
	Data  []byte
}

// Feed is the parsed form of an upstream document.
type Feed struct {
	Records []Record

	// AsOf is the raw upstream date text, empty if the marker was not found.
	AsOf string

	// Unterminated is set when the document ended inside a certificate block.
	// The partial block is not part of Records.
	Unterminated bool
}

// Parse scans data line by line and extracts every certificate block and the
// upstream "as of" date. A trailing carriage return on a line is tolerated.
// END lines outside a block are ignored. Returns ErrEmptyFeed when no block
// was found.
func Parse(data []byte) (*Feed, error) {
	result := &Feed{}

	var current []byte
	inCert := false

	for _, raw := range bytes.Split(data, []byte("\n")) {
		line := string(bytes.TrimSuffix(raw, []byte("\r")))

		if line == BeginDelimiter {
			inCert = true
		}

		if !inCert {
			if idx := strings.Index(line, AsOfMarker); idx >= 0 {
				result.AsOf = line[idx+len(AsOfMarker):]
			}
			continue
		}

		current = append(current, line...)
		current = append(current, '\n')

		if line == EndDelimiter {
			result.Records = append(result.Records, Record{
				Index: len(result.Records),
				Data:  current,
			})
			current = nil
			inCert = false
		}
	}

	result.Unterminated = inCert

	if len(result.Records) == 0 {
		return nil, &rootcaerrors.RootcaError{
			Op:  "parse feed",
			Err: rootcaerrors.ErrEmptyFeed,
		}
	}

	return result, nil
}

// NormalizeTimestamp converts the upstream date text (for example
// "Tue Oct 11 03:12:05 2022 GMT") into ISO-8601 UTC with second precision
// ("2022-10-11T03:12:05Z"). The zone abbreviation is treated as UTC.
func NormalizeTimestamp(asOf string) (string, error) {
	// Collapse the double space upstream uses before single digit days.
	cleaned := strings.Join(strings.Fields(asOf), " ")

	parsed, err := time.Parse(UpstreamTimeLayout, cleaned)
	if err != nil {
		return "", &rootcaerrors.RootcaError{
			Op:  "normalize timestamp",
			Err: fmt.Errorf("%w: %q: %v", rootcaerrors.ErrTimestampParse, asOf, err),
		}
	}

	// Drop whatever offset a known abbreviation carried; upstream is always UTC.
	utc := time.Date(parsed.Year(), parsed.Month(), parsed.Day(),
		parsed.Hour(), parsed.Minute(), parsed.Second(), 0, time.UTC)

	return utc.Format(NormalizedTimeLayout), nil
}
