package tools

import (
	"context"
	"testing"

	"agentcore/internal/domain"
	"agentcore/internal/permission"
)

func registerEcho(t *testing.T, reg *Registry, name string, perm domain.Permission) {
	t.Helper()
	if err := reg.Register(Definition{Name: name, Description: "echoes arguments", RequiredPermission: perm}, func(ctx context.Context, arguments string, profile domain.AgentProfile) (string, error) {
		return arguments, nil
	}); err != nil {
		t.Fatalf("Register(%s): %v", name, err)
	}
}

func TestDefinitionsFiltersByPermissionAndAllowedTools(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(AutoApprove)
	registerEcho(t, reg, "read_only", domain.PermissionRead)
	registerEcho(t, reg, "write_only", domain.PermissionWrite)

	profile := domain.AgentProfile{Kind: domain.AgentSearch, Permissions: domain.PermissionSet{Read: true}}
	defs := reg.Definitions(profile)
	if len(defs) != 1 || defs[0].Name != "read_only" {
		t.Fatalf("expected only read_only, got %+v", defs)
	}

	restricted := domain.AgentProfile{
		Kind:         domain.AgentCode,
		Permissions:  domain.PermissionSet{Read: true, Write: true},
		AllowedTools: []string{"write_only"},
	}
	defs = reg.Definitions(restricted)
	if len(defs) != 1 || defs[0].Name != "write_only" {
		t.Fatalf("expected AllowedTools to narrow list, got %+v", defs)
	}
}

func TestDefinitionsCacheInvalidatedOnMutation(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(AutoApprove)
	profile := domain.AgentProfile{Kind: domain.AgentSearch, Permissions: domain.PermissionSet{Read: true, Write: true}}

	if got := reg.Definitions(profile); len(got) != 0 {
		t.Fatalf("expected empty list before registration, got %+v", got)
	}

	registerEcho(t, reg, "read_only", domain.PermissionRead)
	if got := reg.Definitions(profile); len(got) != 1 {
		t.Fatalf("expected cache to refresh after Register, got %+v", got)
	}

	reg.Unregister("read_only")
	if got := reg.Definitions(profile); len(got) != 0 {
		t.Fatalf("expected cache to refresh after Unregister, got %+v", got)
	}
}

func TestExecuteDeniesMissingPermission(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(AutoApprove)
	registerEcho(t, reg, "write_only", domain.PermissionWrite)

	profile := domain.AgentProfile{Kind: domain.AgentSearch, Permissions: domain.PermissionSet{Read: true}}
	out, err := reg.Execute(context.Background(), "write_only", "{}", profile, permission.ModeAuto)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "ERROR: "+(&permission.DeniedError{Tool: "write_only", Required: domain.PermissionWrite}).Error() {
		t.Fatalf("expected denial message, got %q", out)
	}
}

func TestExecutePromptDeclinedByApprover(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(AlwaysDeny)
	registerEcho(t, reg, "write_only", domain.PermissionWrite)

	profile := domain.AgentProfile{Kind: domain.AgentCode, Permissions: domain.PermissionSet{Write: true}}
	out, err := reg.Execute(context.Background(), "write_only", "{}", profile, permission.ModeAsk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out == "{}" {
		t.Fatalf("expected decline message, tool body ran instead")
	}
}

func TestExecuteRunsToolWhenAllowed(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(AutoApprove)
	registerEcho(t, reg, "write_only", domain.PermissionWrite)

	profile := domain.AgentProfile{Kind: domain.AgentCode, Permissions: domain.PermissionSet{Write: true}}
	out, err := reg.Execute(context.Background(), "write_only", `{"x":1}`, profile, permission.ModeAsk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"x":1}` {
		t.Fatalf("expected tool body to run and echo arguments, got %q", out)
	}
}

func TestExecuteUnknownToolIsError(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(AutoApprove)
	profile := domain.AgentProfile{Kind: domain.AgentSearch}
	if _, err := reg.Execute(context.Background(), "nope", "{}", profile, permission.ModeAuto); err == nil {
		t.Fatalf("expected error for unknown tool")
	}
}
