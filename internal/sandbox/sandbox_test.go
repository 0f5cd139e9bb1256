package sandbox

import (
	"strings"
	"testing"

	"agentcore/internal/domain"
)

func TestWrapDisabledPassesThrough(t *testing.T) {
	t.Parallel()

	w := New(HostLinux, false)
	got := w.Wrap("ls -la", domain.SandboxProfile{})
	if got != "ls -la" {
		t.Fatalf("expected passthrough, got %q", got)
	}
}

func TestWrapMacOSDeniesSecretPaths(t *testing.T) {
	t.Parallel()

	w := New(HostMacOS, true)
	got := w.Wrap("cat file.txt", domain.SandboxProfile{
		Filesystem: domain.FilesystemProfile{DenyWrite: []string{"*"}},
	})

	if !strings.Contains(got, "sandbox-exec") {
		t.Fatalf("expected sandbox-exec wrapper, got %q", got)
	}
	if !strings.Contains(got, ".ssh") {
		t.Fatalf("expected well-known secret path denial, got %q", got)
	}
}

func TestWrapLinuxUnshareNetWhenRestricted(t *testing.T) {
	t.Parallel()

	w := New(HostLinux, true)
	got := w.Wrap("curl example.com", domain.SandboxProfile{
		Network: domain.NetworkProfile{AllowedDomains: []string{"example.com"}},
	})

	if !strings.Contains(got, "--unshare-net") {
		t.Fatalf("expected --unshare-net for restricted network profile, got %q", got)
	}
}

func TestWrapLinuxAllowsUnrestrictedNetwork(t *testing.T) {
	t.Parallel()

	w := New(HostLinux, true)
	got := w.Wrap("curl example.com", domain.SandboxProfile{
		Network: domain.NetworkProfile{AllowedDomains: []string{"*"}},
	})

	if strings.Contains(got, "--unshare-net") {
		t.Fatalf("expected no --unshare-net for unrestricted network profile, got %q", got)
	}
}
