// Package fingerprint derives a stable target identity from captured HTTP
// traffic by rule-based extraction (spec §4.1). No language model is
// involved; every rule is deterministic.
package fingerprint

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"autograph.dev/capture"
	"autograph.dev/model"
)

var versionPattern = regexp.MustCompile(`\d+\.\d+`)

var sessionCookieNames = map[string]bool{
	"session":      true,
	"connect.sid":  true,
	"jsessionid":   true,
	"phpsessid":    true,
}

// Build derives a Fingerprint from a sequence of flows, with Hash already
// computed. It fails with capture.EmptyCaptureError when flows is empty —
// callers that read flows via capture.Open never see an empty slice (Open
// itself returns that error), but Build re-checks so it is safe to call
// directly against an already-parsed flow list (spec §4.1: "or an
// already-parsed list of request/response pairs").
func Build(flows []capture.Flow) (model.Fingerprint, error) {
	if len(flows) == 0 {
		return model.Fingerprint{}, &capture.EmptyCaptureError{}
	}

	fp := model.Fingerprint{
		TechStack:       techStack(flows),
		AuthModel:       authModel(flows),
		EndpointPattern: endpointPattern(flows),
		SecuritySignals: securitySignals(flows),
	}
	fp.ObservationText = fp.CanonicalSerialization()
	return fp.WithHash(), nil
}

func techStack(flows []capture.Flow) string {
	var poweredBy, server string
	for _, f := range flows {
		if poweredBy == "" {
			if v := headerValue(f.ResponseHeaders, "X-Powered-By"); v != "" {
				poweredBy = v
			}
		}
		if server == "" {
			if v := headerValue(f.ResponseHeaders, "Server"); v != "" {
				server = v
			}
		}
	}
	switch {
	case poweredBy != "" && server != "" && poweredBy != server:
		return poweredBy + " + " + server
	case poweredBy != "":
		return poweredBy
	case server != "":
		return server
	default:
		return "Unknown"
	}
}

func authModel(flows []capture.Flow) string {
	for _, f := range flows {
		if strings.HasPrefix(headerValue(f.RequestHeaders, "Authorization"), "Bearer ") {
			return "bearer_token"
		}
	}
	for _, f := range flows {
		if strings.HasPrefix(headerValue(f.RequestHeaders, "Authorization"), "Basic ") {
			return "basic_auth"
		}
	}
	for _, f := range flows {
		setCookie := headerValue(f.ResponseHeaders, "Set-Cookie")
		if setCookie == "" {
			continue
		}
		name := strings.ToLower(strings.SplitN(setCookie, "=", 2)[0])
		if sessionCookieNames[name] {
			return "session_cookie"
		}
	}
	return "none"
}

func endpointPattern(flows []capture.Flow) string {
	counts := make(map[string]int)
	for _, f := range flows {
		seg := firstPathSegment(f.URL)
		if seg == "" {
			continue
		}
		counts[seg]++
	}
	if len(counts) == 0 {
		return "/*"
	}

	segments := make([]string, 0, len(counts))
	for seg := range counts {
		segments = append(segments, seg)
	}
	sort.Strings(segments)

	modal := segments[0]
	for _, seg := range segments {
		if counts[seg] > counts[modal] {
			modal = seg
		}
	}
	return "/" + modal + "/*"
}

func firstPathSegment(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	path := strings.TrimPrefix(u.Path, "/")
	if path == "" {
		return ""
	}
	parts := strings.SplitN(path, "/", 2)
	return parts[0]
}

func securitySignals(flows []capture.Flow) []string {
	signals := make(map[string]bool)
	for _, f := range flows {
		if headerValue(f.ResponseHeaders, "Access-Control-Allow-Origin") == "*" {
			signals["cors_wildcard"] = true
		}
		if headerValue(f.ResponseHeaders, "Content-Security-Policy") != "" {
			signals["csp_present"] = true
		}
		if headerValue(f.ResponseHeaders, "Strict-Transport-Security") != "" {
			signals["hsts_present"] = true
		}
		if headerValue(f.ResponseHeaders, "X-Frame-Options") != "" {
			signals["xframe_present"] = true
		}
		if versionPattern.MatchString(headerValue(f.ResponseHeaders, "Server")) {
			signals["server_version_leaked"] = true
		}
	}

	out := make([]string, 0, len(signals))
	for s := range signals {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func headerValue(headers map[string][]string, name string) string {
	for k, vs := range headers {
		if strings.EqualFold(k, name) && len(vs) > 0 {
			return vs[0]
		}
	}
	return ""
}
