package enums

import "fmt"

// MemberRole is the platform role carried in access tokens.
type MemberRole string

const (
	MemberRoleLearner    MemberRole = "learner"
	MemberRoleInstructor MemberRole = "instructor"
	MemberRoleAdmin      MemberRole = "admin"
)

func (r MemberRole) IsValid() bool {
	switch r {
	case MemberRoleLearner, MemberRoleInstructor, MemberRoleAdmin:
		return true
	}
	return false
}

func ParseMemberRole(value string) (MemberRole, error) {
	if r := MemberRole(value); r.IsValid() {
		return r, nil
	}
	return "", fmt.Errorf("invalid member role %q", value)
}
