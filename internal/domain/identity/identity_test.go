package identity

import "testing"

func TestCanonicalIdentifier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"bare name gets corporate domain", "alice", "alice@pace.in"},
		{"full email untouched", "alice@pace.in", "alice@pace.in"},
		{"external email untouched", "bob@example.com", "bob@example.com"},
		{"uppercase lowered", "ALICE@PACE.IN", "alice@pace.in"},
		{"whitespace trimmed", "  alice  ", "alice@pace.in"},
		{"empty stays empty", "   ", ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := CanonicalIdentifier(tt.raw); got != tt.want {
				t.Errorf("CanonicalIdentifier(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestRoleRank(t *testing.T) {
	t.Parallel()

	tests := []struct {
		role Role
		want int
	}{
		{RoleEmployee, 1},
		{RoleManager, 2},
		{RoleAdmin, 3},
		{RoleSuperAdmin, 4},
		{Role("INTERN"), 0},
		{Role(""), 0},
	}
	for _, tt := range tests {
		tt := tt
		if got := tt.role.Rank(); got != tt.want {
			t.Errorf("Role(%q).Rank() = %d, want %d", tt.role, got, tt.want)
		}
	}
	if TopRank() != RoleSuperAdmin.Rank() {
		t.Errorf("TopRank() = %d, want %d", TopRank(), RoleSuperAdmin.Rank())
	}
}
