// Package connstring parses ingestion connection strings of the form
// "InstrumentationKey=...;IngestionEndpoint=https://...".
package connstring

import (
	"strings"
)

// DefaultIngestionEndpoint is used when a connection string parses but names
// no endpoint.
const DefaultIngestionEndpoint = "https://dc.services.visualstudio.com"

// Recognized keys, lower-cased.
const (
	KeyInstrumentationKey = "instrumentationkey"
	KeyIngestionEndpoint  = "ingestionendpoint"
	KeyEndpointSuffix     = "endpointsuffix"
	KeyLocation           = "location"
)

// Fields is a parsed connection string. Keys are lower-cased; values are kept
// verbatim.
type Fields map[string]string

// IngestionEndpoint returns the ingestion endpoint, if any.
func (f Fields) IngestionEndpoint() string { return f[KeyIngestionEndpoint] }

// InstrumentationKey returns the instrumentation key, if any.
func (f Fields) InstrumentationKey() string { return f[KeyInstrumentationKey] }

// Parse splits s into key/value pairs. Pairs that are not exactly one
// "key=value" are ignored, so Parse never fails; an unusable string yields an
// empty result.
//
// When EndpointSuffix is present without IngestionEndpoint the endpoint is
// derived as https://[location.]dc.<suffix>. When anything parsed at all and
// still no endpoint is known, DefaultIngestionEndpoint is used.
func Parse(s string) Fields {
	fields := Fields{}
	if s == "" {
		return fields
	}

	for _, pair := range strings.Split(s, ";") {
		kv := strings.Split(pair, "=")
		if len(kv) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(kv[0]))
		if key == "" {
			continue
		}
		fields[key] = strings.TrimSpace(kv[1])
	}

	if len(fields) == 0 {
		return fields
	}

	if suffix, ok := fields[KeyEndpointSuffix]; ok && fields[KeyIngestionEndpoint] == "" {
		location := ""
		if loc := fields[KeyLocation]; loc != "" {
			location = loc + "."
		}
		fields[KeyIngestionEndpoint] = "https://" + location + "dc." + suffix
	}

	if fields[KeyIngestionEndpoint] == "" {
		fields[KeyIngestionEndpoint] = DefaultIngestionEndpoint
	}

	return fields
}
