package permission

import "testing"

func TestCheck_LevelDefaults(t *testing.T) {
	c := NewPolicyChecker(Policy{})

	if got := c.Check("read_file", LevelRead, nil); got != Allowed {
		t.Errorf("read default = %v, want allowed", got)
	}
	if got := c.Check("write_file", LevelWrite, nil); got != NeedsApproval {
		t.Errorf("write default = %v, want needs_approval", got)
	}
	if got := c.Check("exec", LevelExecute, nil); got != NeedsApproval {
		t.Errorf("execute default = %v, want needs_approval", got)
	}
}

func TestCheck_Patterns(t *testing.T) {
	c := NewPolicyChecker(Policy{
		Allow:           []string{"write_file", "git_*"},
		Deny:            []string{"exec", "rm_*"},
		RequireApproval: []string{"read_secrets"},
	})

	tests := []struct {
		tool  string
		level Level
		want  Decision
	}{
		{"write_file", LevelWrite, Allowed},
		{"git_commit", LevelExecute, Allowed},
		{"exec", LevelExecute, Denied},
		{"rm_rf", LevelExecute, Denied},
		{"read_secrets", LevelRead, NeedsApproval},
		{"list_dir", LevelRead, Allowed},
	}
	for _, tt := range tests {
		if got := c.Check(tt.tool, tt.level, nil); got != tt.want {
			t.Errorf("Check(%q) = %v, want %v", tt.tool, got, tt.want)
		}
	}
}

func TestCheck_DenyBeatsAllow(t *testing.T) {
	c := NewPolicyChecker(Policy{Allow: []string{"*"}, Deny: []string{"exec"}})

	if got := c.Check("exec", LevelExecute, nil); got != Denied {
		t.Errorf("got %v, deny must win over allow", got)
	}
	if got := c.Check("anything", LevelExecute, nil); got != Allowed {
		t.Errorf("got %v, wildcard allow should cover the rest", got)
	}
}

func TestRemember_ScopedToConversation(t *testing.T) {
	c := NewPolicyChecker(Policy{})
	args := map[string]interface{}{"conversation_id": "conv-1"}

	if got := c.Check("write_file", LevelWrite, args); got != NeedsApproval {
		t.Fatalf("before remember: %v", got)
	}

	c.Remember("write_file", LevelWrite, "conv-1")

	if got := c.Check("write_file", LevelWrite, args); got != Allowed {
		t.Errorf("after remember: %v, want allowed", got)
	}
	other := map[string]interface{}{"conversation_id": "conv-2"}
	if got := c.Check("write_file", LevelWrite, other); got != NeedsApproval {
		t.Errorf("other conversation: %v, remembered grant must not leak", got)
	}
	if got := c.Check("read_secrets", LevelWrite, args); got != NeedsApproval {
		t.Errorf("other tool: %v, remembered grant is per tool", got)
	}
}

func TestDecisionString(t *testing.T) {
	if Allowed.String() != "allowed" || Denied.String() != "denied" || NeedsApproval.String() != "needs_approval" {
		t.Error("decision strings changed")
	}
}
