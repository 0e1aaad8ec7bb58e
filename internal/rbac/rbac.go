package rbac

import (
	"github.com/expo-payments/backend/internal/models"
	"github.com/google/uuid"
)

// Role constants
const (
	RolePayer      = "payer"
	RoleFreelancer = "freelancer"
	RoleNone       = ""
)

// Permission constants, one per contract transition.
const (
	PermDeliver = "deliver"
	PermRelease = "release"
	PermDispute = "dispute"
	PermRefund  = "refund"
	PermView    = "view"
	PermFund    = "fund"
)

// RolePermissions defines what each party can do on a contract.
var RolePermissions = map[string][]string{
	RolePayer: {
		PermRelease, PermDispute, PermRefund, PermView, PermFund,
	},
	RoleFreelancer: {
		PermDeliver, PermView,
		// Freelancer CANNOT: PermRelease, PermDispute, PermRefund
	},
}

// deniedMessages are shown when a caller lacks the permission.
var deniedMessages = map[string]string{
	PermDeliver: "Only freelancer can mark work as delivered",
	PermRelease: "Only payer can release funds",
	PermDispute: "Only buyer/payer can raise a dispute",
	PermRefund:  "Only buyer/payer can request a refund",
	PermView:    "Only contract parties can view this contract",
	PermFund:    "Only payer can access this contract",
}

// RoleOf returns the caller's party role on the contract.
func RoleOf(c *models.Contract, userID uuid.UUID) string {
	switch userID {
	case c.PayerID:
		return RolePayer
	case c.FreelancerID:
		return RoleFreelancer
	}
	return RoleNone
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role, permission string) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == permission {
			return true
		}
	}
	return false
}

// Can reports whether userID may perform permission on the contract.
func Can(c *models.Contract, userID uuid.UUID, permission string) bool {
	return HasPermission(RoleOf(c, userID), permission)
}

func DeniedMessage(permission string) string {
	if msg, ok := deniedMessages[permission]; ok {
		return msg
	}
	return "forbidden"
}

// RequiresPin reports whether the permission moves funds and must be
// confirmed with the caller's PIN when one is set. Dispute is not included.
func RequiresPin(permission string) bool {
	return permission == PermRelease || permission == PermRefund
}
