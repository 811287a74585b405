// Package recon implements the four pure-function recon tools spec §4.5
// exposes as sandbox-callable closures to the Compiler's Recon agent. None
// of them call a language model; each reduces a capture file to a compact
// textual summary the agent reasons over.
package recon

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"autograph.dev/capture"
)

// FlowSummary is one row of a response_inspect table.
type FlowSummary struct {
	Method      string
	URL         string
	Status      int
	HasAuth     bool
	ContentType string
}

// ResponseInspect returns, with no filter, a one-line summary per flow;
// with endpointFilter set, full request/response detail for flows whose URL
// path contains the filter substring (spec §4.5).
func ResponseInspect(flows []capture.Flow, endpointFilter string) (string, error) {
	var sb strings.Builder
	for _, f := range flows {
		if endpointFilter != "" && !strings.Contains(firstPath(f.URL), endpointFilter) {
			continue
		}
		if endpointFilter == "" {
			sb.WriteString(fmt.Sprintf("%s %s -> %d auth=%v content_type=%s\n",
				f.Method, f.URL, f.ResponseStatus, hasAuth(f), headerValue(f.RequestHeaders, "Content-Type")))
			continue
		}
		sb.WriteString(fmt.Sprintf("=== %s %s ===\n", f.Method, f.URL))
		sb.WriteString(fmt.Sprintf("status: %d\n", f.ResponseStatus))
		sb.WriteString(fmt.Sprintf("request headers: %v\n", f.RequestHeaders))
		sb.WriteString(fmt.Sprintf("response headers: %v\n", f.ResponseHeaders))
		if len(f.RequestBody) > 0 {
			sb.WriteString(fmt.Sprintf("request body: %s\n", string(f.RequestBody)))
		}
		if len(f.ResponseBody) > 0 {
			sb.WriteString(fmt.Sprintf("response body: %s\n", string(f.ResponseBody)))
		}
	}
	return sb.String(), nil
}

func hasAuth(f capture.Flow) bool {
	return headerValue(f.RequestHeaders, "Authorization") != "" ||
		headerValue(f.RequestHeaders, "Cookie") != ""
}

// JWTDecode extracts every Bearer token across flows, base64-decodes the
// payload segment, and returns the claim set per token as formatted text.
// Malformed tokens are skipped rather than aborting the whole scan.
func JWTDecode(flows []capture.Flow) (string, error) {
	var sb strings.Builder
	seen := make(map[string]bool)
	for _, f := range flows {
		auth := headerValue(f.RequestHeaders, "Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			continue
		}
		token := strings.TrimPrefix(auth, "Bearer ")
		if seen[token] {
			continue
		}
		seen[token] = true

		parts := strings.Split(token, ".")
		if len(parts) != 3 {
			continue
		}
		payload, err := base64.RawURLEncoding.DecodeString(parts[1])
		if err != nil {
			continue
		}
		var claims map[string]any
		if err := json.Unmarshal(payload, &claims); err != nil {
			continue
		}
		encoded, _ := json.Marshal(claims)
		sb.WriteString(fmt.Sprintf("token %s...: %s\n", token[:minInt(12, len(token))], string(encoded)))
	}
	return sb.String(), nil
}

// HeaderAudit reports per-endpoint presence/absence of the security headers
// spec §4.1/§4.5 care about, plus server-version leaks.
func HeaderAudit(flows []capture.Flow) (string, error) {
	var sb strings.Builder
	for _, f := range flows {
		path := firstPath(f.URL)
		sb.WriteString(fmt.Sprintf("%s: csp=%v hsts=%v xframe=%v cors_wildcard=%v server=%q\n",
			path,
			headerValue(f.ResponseHeaders, "Content-Security-Policy") != "",
			headerValue(f.ResponseHeaders, "Strict-Transport-Security") != "",
			headerValue(f.ResponseHeaders, "X-Frame-Options") != "",
			headerValue(f.ResponseHeaders, "Access-Control-Allow-Origin") == "*",
			headerValue(f.ResponseHeaders, "Server")))
	}
	return sb.String(), nil
}

// ResponseDiff structurally diffs headers and JSON bodies between two flows
// by index.
func ResponseDiff(flows []capture.Flow, flowIndexA, flowIndexB int) (string, error) {
	if flowIndexA < 0 || flowIndexA >= len(flows) || flowIndexB < 0 || flowIndexB >= len(flows) {
		return "", fmt.Errorf("recon: flow index out of range (len=%d)", len(flows))
	}
	a, b := flows[flowIndexA], flows[flowIndexB]

	var sb strings.Builder
	sb.WriteString("header differences:\n")
	diffHeaders(&sb, a.ResponseHeaders, b.ResponseHeaders)

	sb.WriteString("body differences:\n")
	var bodyA, bodyB map[string]any
	errA := json.Unmarshal(a.ResponseBody, &bodyA)
	errB := json.Unmarshal(b.ResponseBody, &bodyB)
	if errA != nil || errB != nil {
		sb.WriteString("(one or both bodies are not JSON objects; raw byte lengths: ")
		sb.WriteString(fmt.Sprintf("%d vs %d)\n", len(a.ResponseBody), len(b.ResponseBody)))
		return sb.String(), nil
	}
	diffJSONKeys(&sb, bodyA, bodyB)
	return sb.String(), nil
}

func diffHeaders(sb *strings.Builder, a, b map[string][]string) {
	keys := make(map[string]bool)
	for k := range a {
		keys[k] = true
	}
	for k := range b {
		keys[k] = true
	}
	for k := range keys {
		av, bv := headerValue(a, k), headerValue(b, k)
		if av != bv {
			sb.WriteString(fmt.Sprintf("  %s: %q vs %q\n", k, av, bv))
		}
	}
}

func diffJSONKeys(sb *strings.Builder, a, b map[string]any) {
	keys := make(map[string]bool)
	for k := range a {
		keys[k] = true
	}
	for k := range b {
		keys[k] = true
	}
	for k := range keys {
		av, aok := a[k]
		bv, bok := b[k]
		if !aok {
			sb.WriteString(fmt.Sprintf("  %s: missing vs %v\n", k, bv))
		} else if !bok {
			sb.WriteString(fmt.Sprintf("  %s: %v vs missing\n", k, av))
		} else if fmt.Sprint(av) != fmt.Sprint(bv) {
			sb.WriteString(fmt.Sprintf("  %s: %v vs %v\n", k, av, bv))
		}
	}
}

func headerValue(headers map[string][]string, name string) string {
	for k, vs := range headers {
		if strings.EqualFold(k, name) && len(vs) > 0 {
			return vs[0]
		}
	}
	return ""
}

func firstPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Path
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
