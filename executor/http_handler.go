package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"autograph.dev/model"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTPRequestHandler implements the HTTP_REQUEST step type (spec §4.3).
type HTTPRequestHandler struct {
	Client *http.Client
}

// NewHTTPRequestHandler builds a handler with a 30s default timeout and
// redirect-following enabled.
func NewHTTPRequestHandler() *HTTPRequestHandler {
	return &HTTPRequestHandler{Client: &http.Client{Timeout: defaultHTTPTimeout}}
}

func (h *HTTPRequestHandler) Execute(ctx context.Context, step model.Step, ec *model.ExecutionContext) model.StepResult {
	method := stringParam(step.Parameters, "method", "GET")

	target, err := resolveURL(step.Parameters, ec.TargetURL)
	if err != nil {
		return model.StepResult{Stderr: fmt.Sprintf("http_request: %v", err)}
	}

	var bodyReader io.Reader
	switch body := step.Parameters["body"].(type) {
	case map[string]any:
		encoded, err := json.Marshal(body)
		if err != nil {
			return model.StepResult{Stderr: fmt.Sprintf("http_request: encode body: %v", err)}
		}
		bodyReader = bytes.NewReader(encoded)
	case string:
		if body != "" {
			bodyReader = strings.NewReader(body)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return model.StepResult{Stderr: fmt.Sprintf("http_request: build request: %v", err)}
	}
	if bodyReader != nil {
		if _, isMap := step.Parameters["body"].(map[string]any); isMap {
			req.Header.Set("Content-Type", "application/json")
		}
	}

	if headers, ok := step.Parameters["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}
	if token, ok := ec.SessionTokens["Authorization"]; ok && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", token)
	}

	skipCookies, _ := step.Parameters["skip_cookies"].(bool)
	if !skipCookies {
		for name, value := range ec.Cookies {
			req.AddCookie(&http.Cookie{Name: name, Value: value})
		}
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return model.StepResult{Stderr: fmt.Sprintf("http_request: %v", err)}
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.StepResult{Stderr: fmt.Sprintf("http_request: read response body: %v", err)}
	}

	for _, c := range resp.Cookies() {
		ec.Cookies[c.Name] = c.Value
	}

	if extractPath, ok := step.Parameters["extract_token_path"].(string); ok && extractPath != "" {
		if token, err := extractJSONPath(responseBody, extractPath); err == nil {
			ec.SessionTokens["Authorization"] = "Bearer " + token
		}
	}

	result := model.StepResult{
		Stdout:     string(responseBody),
		StatusCode: intPtr(resp.StatusCode),
	}
	if step.OutputFile != "" {
		if err := os.WriteFile(step.OutputFile, responseBody, 0o644); err != nil {
			result.Stderr = fmt.Sprintf("http_request: write output file: %v", err)
			return result
		}
	}
	if resp.StatusCode >= 400 {
		result.Stderr = fmt.Sprintf("http_request: status %d from %s", resp.StatusCode, target)
		return result
	}
	if criteriaMatched(step.SuccessCriteria, resp.StatusCode) {
		result.SuccessCriteriaMatched = true
	}
	return result
}

func resolveURL(params map[string]any, targetBaseURL string) (string, error) {
	if u, ok := params["url"].(string); ok && u != "" {
		return u, nil
	}
	path, _ := params["path"].(string)
	if path == "" {
		return "", fmt.Errorf("neither url nor path set")
	}
	base, err := url.Parse(targetBaseURL)
	if err != nil {
		return "", fmt.Errorf("parse target_url: %w", err)
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse path: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

// extractJSONPath implements the subset of JSONPath spec §4.3 actually
// needs: a leading "$." (optional) followed by dot-separated object keys,
// e.g. "$.token" or "data.accessToken".
func extractJSONPath(body []byte, path string) (string, error) {
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", err
	}
	trimmed := strings.TrimPrefix(path, "$.")
	parts := strings.Split(trimmed, ".")
	var cur any = decoded
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return "", fmt.Errorf("extract_token_path: %q not an object at %q", path, part)
		}
		cur, ok = m[part]
		if !ok {
			return "", fmt.Errorf("extract_token_path: key %q not found", part)
		}
	}
	s, ok := cur.(string)
	if !ok {
		return "", fmt.Errorf("extract_token_path: value at %q is not a string", path)
	}
	return s, nil
}

func stringParam(params map[string]any, key, def string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return def
}

func intPtr(v int) *int { return &v }

// criteriaMatched gives a best-effort reading of a SuccessCriteria
// expression of the shape "status_code == N" against the observed status.
// Anything else is left to the caller's own post-processing (e.g. a
// REGEX_MATCH step downstream).
func criteriaMatched(criteria string, statusCode int) bool {
	criteria = strings.TrimSpace(criteria)
	if criteria == "" {
		return false
	}
	const op = "status_code =="
	if !strings.HasPrefix(criteria, op) {
		return false
	}
	want, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(criteria, op)))
	if err != nil {
		return false
	}
	return statusCode == want
}
