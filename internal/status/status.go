// Package status canonicalizes order lifecycle statuses.
package status

import "strings"

// Status is a member of the canonical order lifecycle vocabulary.
type Status string

const (
	Pending           Status = "pending"
	InProgress        Status = "in-progress"
	Approved          Status = "approved"
	Rejected          Status = "rejected"
	Cancelled         Status = "cancelled"
	Delivered         Status = "delivered"
	Completed         Status = "completed"
	Archived          Status = "archived"
	PendingCustomer   Status = "pending-customer"
	PendingContractor Status = "pending-contractor"
	PendingManager    Status = "pending-manager"
	ManagerAccepted   Status = "manager-accepted"
	CrewRequested     Status = "crew-requested"
	CrewAssigned      Status = "crew-assigned"
	ServiceCreated    Status = "service-created"
)

var canonical = []Status{
	Pending, InProgress, Approved, Rejected, Cancelled, Delivered, Completed, Archived,
	PendingCustomer, PendingContractor, PendingManager, ManagerAccepted,
	CrewRequested, CrewAssigned, ServiceCreated,
}

var canonicalSet = func() map[Status]bool {
	m := make(map[Status]bool, len(canonical))
	for _, s := range canonical {
		m[s] = true
	}
	return m
}()

// All returns the canonical set in declaration order.
func All() []Status {
	out := make([]Status, len(canonical))
	copy(out, canonical)
	return out
}

// Normalize trims, lower-cases and hyphenates raw. Anything outside the
// canonical set becomes Pending.
func Normalize(raw string) Status {
	token := Status(strings.Join(strings.Fields(strings.ToLower(raw)), "-"))
	if canonicalSet[token] {
		return token
	}
	return Pending
}

// IsCanonical reports whether raw is already a canonical token.
func IsCanonical(raw string) bool {
	return canonicalSet[Status(raw)]
}

// IsTerminal reports whether no further lifecycle action is allowed.
func (s Status) IsTerminal() bool {
	switch s {
	case Delivered, Completed, Cancelled, Rejected, Archived:
		return true
	}
	return false
}

// IsPending covers pending and every pending-<role> variant.
func (s Status) IsPending() bool {
	return s == Pending || strings.HasPrefix(string(s), string(Pending)+"-")
}

// Label renders a status for display, e.g. "in-progress" -> "In Progress".
func (s Status) Label() string {
	parts := strings.Split(string(s), "-")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}

func (s Status) String() string { return string(s) }
