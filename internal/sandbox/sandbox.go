// Package sandbox wraps a shell command string into a host-native
// isolation invocation, applied to shell-executing tools only (§4.5). Two
// host variants are supported: a macOS sandbox-exec policy string, and a
// Linux bind-mount/tmpfs/network-unshare flag list. When disabled, the
// command passes through unchanged.
package sandbox

import (
	"fmt"
	"strings"

	"agentcore/internal/domain"
)

// Host is the closed set of host sandbox primitives this package knows
// how to target.
type Host string

const (
	HostMacOS Host = "macos"
	HostLinux Host = "linux"
)

// Wrapper rewrites a shell command into its sandboxed form for one Host.
type Wrapper struct {
	Host    Host
	Enabled bool
}

func New(host Host, enabled bool) *Wrapper {
	return &Wrapper{Host: host, Enabled: enabled}
}

// Wrap rewrites command to run under profile's restrictions. If the
// wrapper is disabled, command passes through unchanged.
func (w *Wrapper) Wrap(command string, profile domain.SandboxProfile) string {
	if !w.Enabled {
		return command
	}

	profile = withSecretDenials(profile)

	switch w.Host {
	case HostMacOS:
		return w.wrapMacOS(command, profile)
	case HostLinux:
		return w.wrapLinux(command, profile)
	default:
		return command
	}
}

// withSecretDenials returns a copy of profile with WellKnownSecretPaths
// merged into DenyRead, honoring the invariant that every sandbox profile
// must deny read of well-known secret paths regardless of configuration.
func withSecretDenials(profile domain.SandboxProfile) domain.SandboxProfile {
	denyRead := append([]string{}, profile.Filesystem.DenyRead...)
	denyRead = append(denyRead, domain.WellKnownSecretPaths...)
	profile.Filesystem.DenyRead = denyRead
	return profile
}

// wrapMacOS builds a `(version 1) (allow default) (deny file-read* ...)`
// sandbox-exec policy string wrapping `/bin/sh -c <escaped>`.
func (w *Wrapper) wrapMacOS(command string, profile domain.SandboxProfile) string {
	var rules []string
	rules = append(rules, "(version 1)", "(allow default)")

	for _, g := range profile.Filesystem.DenyRead {
		rules = append(rules, fmt.Sprintf("(deny file-read* (subpath %s))", shellQuote(g)))
	}
	if profile.Filesystem.ReadOnly() {
		rules = append(rules, `(deny file-write* (subpath "/"))`)
	} else {
		for _, g := range profile.Filesystem.DenyWrite {
			if g == "*" {
				continue
			}
			rules = append(rules, fmt.Sprintf("(deny file-write* (subpath %s))", shellQuote(g)))
		}
	}
	if !profile.Network.Unrestricted() {
		rules = append(rules, "(deny network*)")
		for _, d := range profile.Network.AllowedDomains {
			rules = append(rules, fmt.Sprintf("(allow network* (remote tcp %s))", shellQuote(d)))
		}
	}

	policy := strings.Join(rules, " ")
	return fmt.Sprintf("sandbox-exec -p %s /bin/sh -c %s", shellQuote(policy), shellQuote(command))
}

// wrapLinux builds a bwrap-style flag list: read-only root, per-profile
// writable bindings, tmpfs over denied directories, optional
// network unshare.
func (w *Wrapper) wrapLinux(command string, profile domain.SandboxProfile) string {
	args := []string{"bwrap", "--ro-bind", "/", "/", "--proc", "/proc", "--dev", "/dev"}

	for _, g := range profile.Filesystem.AllowWrite {
		args = append(args, "--bind", g, g)
	}
	for _, g := range profile.Filesystem.DenyRead {
		args = append(args, "--tmpfs", g)
	}
	if !profile.Network.Unrestricted() {
		args = append(args, "--unshare-net")
	}

	args = append(args, "/bin/sh", "-c", shellQuote(command))

	return strings.Join(args, " ")
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
