package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"agentcore/internal/domain"
	"agentcore/internal/llm"
)

const (
	webFetchTimeout  = 15 * time.Second
	maxWebFetchBytes = 50_000
)

// WebFetchParams fetches a single URL.
type WebFetchParams struct {
	URL string `json:"url" jsonschema:"required,description=Absolute http(s) URL to fetch"`
}

// RegisterWebFetchTool wires the web_fetch tool, the only tool requiring
// domain.PermissionWeb. It is the sole consumer of
// domain.NetworkProfile.AllowedDomains outside of the sandbox package,
// since bash commands are network-restricted by the OS-level sandbox
// wrapper but a direct HTTP fetch has no shell to wrap.
func RegisterWebFetchTool(reg *Registry, client *http.Client) error {
	if client == nil {
		client = &http.Client{Timeout: webFetchTimeout}
	}

	return reg.Register(Definition{
		Name: "web_fetch",
		Description: `Fetch the text content of a single URL.

Examples:
  web_fetch(url="https://pkg.go.dev/context")

Only domains in the agent's allowed-domains list can be fetched; everything
else is rejected before any request is made.`,
		Parameters:         llm.GenerateSchemaFrom(WebFetchParams{}),
		RequiredPermission: domain.PermissionWeb,
	}, func(ctx context.Context, arguments string, profile domain.AgentProfile) (string, error) {
		return executeWebFetch(ctx, client, profile, arguments)
	})
}

func executeWebFetch(ctx context.Context, client *http.Client, profile domain.AgentProfile, arguments string) (string, error) {
	params, err := llm.ParseToolArguments[WebFetchParams](arguments)
	if err != nil {
		return "", fmt.Errorf("parse web_fetch params: %w", err)
	}
	if params.URL == "" {
		return "Error: url is required", nil
	}

	parsed, err := url.Parse(params.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Sprintf("Error: invalid URL %q", params.URL), nil
	}

	if !domainAllowed(profile.Sandbox.Network, parsed.Hostname()) {
		return fmt.Sprintf("Error: domain %s is not in the allowed-domains list for this agent", parsed.Hostname()), nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, webFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return fmt.Sprintf("Error building request: %s", err), nil
	}

	resp, err := client.Do(req)
	if err != nil {
		if timeoutCtx.Err() == context.DeadlineExceeded {
			return "Fetch timed out.", nil
		}
		return fmt.Sprintf("Error fetching %s: %s", params.URL, err), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxWebFetchBytes+1))
	if err != nil {
		return fmt.Sprintf("Error reading response body: %s", err), nil
	}

	truncated := len(body) > maxWebFetchBytes
	if truncated {
		body = body[:maxWebFetchBytes]
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%d %s]\n", resp.StatusCode, parsed.String()))
	sb.Write(body)
	if truncated {
		sb.WriteString(fmt.Sprintf("\n\n[Truncated at %d bytes]", maxWebFetchBytes))
	}

	return withTokenEstimate(sb.String()), nil
}

func domainAllowed(profile domain.NetworkProfile, host string) bool {
	if profile.Unrestricted() {
		return true
	}
	host = strings.ToLower(host)
	for _, d := range profile.AllowedDomains {
		d = strings.ToLower(d)
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
