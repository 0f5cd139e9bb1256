package permission

import (
	"testing"

	"agentcore/internal/domain"
)

func TestDecide(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		agent    domain.PermissionSet
		required domain.Permission
		mode     Mode
		want     Outcome
	}{
		{name: "missing permission always denies", agent: domain.PermissionSet{Read: true}, required: domain.PermissionWrite, mode: ModeAuto, want: OutcomeDeny},
		{name: "auto mode allows granted permission", agent: domain.PermissionSet{Write: true}, required: domain.PermissionWrite, mode: ModeAuto, want: OutcomeAllow},
		{name: "read never prompts even outside auto mode", agent: domain.PermissionSet{Read: true}, required: domain.PermissionRead, mode: ModeAsk, want: OutcomeAllow},
		{name: "non-read prompts in ask mode", agent: domain.PermissionSet{Execute: true}, required: domain.PermissionExecute, mode: ModeAsk, want: OutcomePrompt},
		{name: "non-read prompts in suggest mode", agent: domain.PermissionSet{Execute: true}, required: domain.PermissionExecute, mode: ModeSuggest, want: OutcomePrompt},
	}

	m := New()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := m.Decide(tc.agent, tc.required, tc.mode); got != tc.want {
				t.Fatalf("Decide() = %v, want %v", got, tc.want)
			}
		})
	}
}
