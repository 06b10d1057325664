package auth

import (
	"regexp"
	"strings"

	"github.com/tranqk/schoolhub/internal/models"
)

// Staff mailboxes follow a firstname.lastname shape; student mailboxes are a
// single letter followed by an enrollment number.
var (
	staffLocalPattern   = regexp.MustCompile(`^[a-z]+\.[a-z]+$`)
	studentLocalPattern = regexp.MustCompile(`^[a-z][0-9]+$`)
)

// DetectRoleFromEmail infers the role to provision for a first-time Google
// sign-in from the shape of the email local part. The mapping is policy:
// keep it here as a pure function rather than folding it into the OAuth flow.
func DetectRoleFromEmail(email string) models.RoleName {
	local := strings.ToLower(strings.TrimSpace(email))
	if at := strings.Index(local, "@"); at >= 0 {
		local = local[:at]
	}

	switch {
	case staffLocalPattern.MatchString(local):
		return models.RoleTeacher
	case studentLocalPattern.MatchString(local):
		return models.RoleStudent
	default:
		return models.RoleStudent
	}
}
