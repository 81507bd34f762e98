package rbac

type Role string
type Action string

const (
	RoleViewer     Role = "viewer"
	RoleOfficer    Role = "officer"
	RoleSupervisor Role = "supervisor"
	RoleAdmin      Role = "admin"
)

const (
	ActionRead  Action = "read"
	ActionWrite Action = "write"
	ActionGrant Action = "grant"
	ActionMeet  Action = "meet"
	ActionAdmin Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleSupervisor:
		return action == ActionRead || action == ActionWrite || action == ActionGrant || action == ActionMeet
	case RoleOfficer:
		return action == ActionRead || action == ActionWrite || action == ActionMeet
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleOfficer, RoleSupervisor, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}

// AccessType is the capability level carried by an incident report grant.
type AccessType string

const (
	AccessFull          AccessType = "full"
	AccessReadOnly      AccessType = "read_only"
	AccessIncidentsOnly AccessType = "incidents_only"
)

// ValidAccessType reports whether the given string is a known grant capability.
func ValidAccessType(value string) bool {
	switch AccessType(value) {
	case AccessFull, AccessReadOnly, AccessIncidentsOnly:
		return true
	default:
		return false
	}
}

// Capability is what a grant holder is trying to do with a report.
type Capability string

const (
	CapabilityRead      Capability = "read"
	CapabilityWrite     Capability = "write"
	CapabilityIncidents Capability = "incidents"
)

// Allows reports whether a grant with the given access type covers a capability.
// full covers everything; read_only covers reading the whole report;
// incidents_only covers only the incident fields of a report.
func Allows(accessType AccessType, capability Capability) bool {
	switch accessType {
	case AccessFull:
		return true
	case AccessReadOnly:
		return capability == CapabilityRead || capability == CapabilityIncidents
	case AccessIncidentsOnly:
		return capability == CapabilityIncidents
	default:
		return false
	}
}
