package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// StaffRole scopes what support staff may do through the API.
type StaffRole string

const (
	// RoleSupport works tickets: forced actions, reprocessing, job status.
	RoleSupport StaffRole = "support"
	// RoleAdmin additionally runs the maintenance endpoints.
	RoleAdmin StaffRole = "admin"
)

// ParseStaffRole accepts a role name in any case.
func ParseStaffRole(s string) (StaffRole, error) {
	switch r := StaffRole(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleSupport, RoleAdmin:
		return r, nil
	}
	return "", fmt.Errorf("unknown staff role %q: want support or admin", s)
}

// RequireReporter lets only end users through; staff do not file tickets.
func RequireReporter() fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok || principal.SubjectType != domain.SubjectTypeUser || principal.User == nil {
			return fiber.NewError(http.StatusForbidden, "only end users can file tickets")
		}
		return c.Next()
	}
}

// RequireStaff lets through staff holding one of roles, or any staff role
// when none are given.
func RequireStaff(roles ...StaffRole) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok || !principal.IsStaff() || principal.Role == nil {
			return fiber.NewError(http.StatusForbidden, "support staff only")
		}
		if len(roles) == 0 {
			return c.Next()
		}
		for _, role := range roles {
			if *principal.Role == role {
				return c.Next()
			}
		}
		return fiber.NewError(http.StatusForbidden, fmt.Sprintf("role %s cannot do this", *principal.Role))
	}
}

// RequireAuthenticated rejects requests the middleware did not attach a
// principal to.
func RequireAuthenticated() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := PrincipalFromContext(c); !ok {
			return fiber.NewError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
		}
		return c.Next()
	}
}
