package rbac

import "testing"

func TestCan(t *testing.T) {
	tests := []struct {
		role   Role
		action Action
		want   bool
	}{
		{RoleAdmin, ActionAdmin, true},
		{RoleAdmin, ActionGrant, true},
		{RoleSupervisor, ActionGrant, true},
		{RoleSupervisor, ActionAdmin, false},
		{RoleOfficer, ActionWrite, true},
		{RoleOfficer, ActionMeet, true},
		{RoleOfficer, ActionGrant, false},
		{RoleViewer, ActionRead, true},
		{RoleViewer, ActionWrite, false},
		{RoleViewer, ActionMeet, false},
		{Role("unknown"), ActionRead, false},
	}

	for _, tt := range tests {
		if got := Can(tt.role, tt.action); got != tt.want {
			t.Errorf("Can(%s, %s) = %v, want %v", tt.role, tt.action, got, tt.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("supervisor"); got != RoleSupervisor {
		t.Errorf("Normalize(supervisor) = %s", got)
	}
	if got := Normalize("root"); got != RoleViewer {
		t.Errorf("Normalize(root) = %s, want viewer fallback", got)
	}
	if got := Normalize(""); got != RoleViewer {
		t.Errorf("Normalize(empty) = %s, want viewer fallback", got)
	}
}

func TestAllows(t *testing.T) {
	tests := []struct {
		accessType AccessType
		capability Capability
		want       bool
	}{
		{AccessFull, CapabilityRead, true},
		{AccessFull, CapabilityWrite, true},
		{AccessFull, CapabilityIncidents, true},
		{AccessReadOnly, CapabilityRead, true},
		{AccessReadOnly, CapabilityWrite, false},
		{AccessReadOnly, CapabilityIncidents, true},
		{AccessIncidentsOnly, CapabilityIncidents, true},
		{AccessIncidentsOnly, CapabilityRead, false},
		{AccessIncidentsOnly, CapabilityWrite, false},
		{AccessType("bogus"), CapabilityRead, false},
	}

	for _, tt := range tests {
		if got := Allows(tt.accessType, tt.capability); got != tt.want {
			t.Errorf("Allows(%s, %s) = %v, want %v", tt.accessType, tt.capability, got, tt.want)
		}
	}
}

func TestValidAccessType(t *testing.T) {
	for _, valid := range []string{"full", "read_only", "incidents_only"} {
		if !ValidAccessType(valid) {
			t.Errorf("ValidAccessType(%s) = false", valid)
		}
	}
	for _, invalid := range []string{"", "admin", "FULL"} {
		if ValidAccessType(invalid) {
			t.Errorf("ValidAccessType(%s) = true", invalid)
		}
	}
}
