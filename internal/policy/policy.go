// Package policy holds the authorization rules gating payment confirmations
// and closing batch stamps. The two policies are deliberately independent:
// the ledger gate works over allowlisted emails while the closing gate mixes
// a generic permission with per-channel admin allowlists. They model two
// different risk profiles and must not be merged without a product decision.
package policy

import (
	"strings"

	"github.com/expedio-erp/expedio/internal/shared"
)

// LedgerAction names a confirmation ledger stage.
type LedgerAction string

const (
	LedgerReceipt           LedgerAction = "receipt"
	LedgerHandover          LedgerAction = "handover"
	LedgerFinalVerification LedgerAction = "final_verification"
)

// ClosingStage names a closing batch confirmation stage.
type ClosingStage string

const (
	StageAuxiliar ClosingStage = "auxiliar"
	StageAdmin    ClosingStage = "admin"
)

type emailSet map[string]struct{}

func newEmailSet(emails []string) emailSet {
	set := make(emailSet, len(emails))
	for _, e := range emails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		set[e] = struct{}{}
	}
	return set
}

func (s emailSet) contains(email string) bool {
	_, ok := s[strings.ToLower(strings.TrimSpace(email))]
	return ok
}

// LedgerPolicy gates confirmation ledger actions. Receipt and handover may be
// attested by auxiliar or admin operators; final verification is admin only.
type LedgerPolicy struct {
	auxiliar emailSet
	admin    emailSet
}

// NewLedgerPolicy builds a policy from the org-scoped allowlists.
func NewLedgerPolicy(auxiliarEmails, adminEmails []string) LedgerPolicy {
	return LedgerPolicy{
		auxiliar: newEmailSet(auxiliarEmails),
		admin:    newEmailSet(adminEmails),
	}
}

// CanConfirm reports whether the actor may append the given confirmation.
func (p LedgerPolicy) CanConfirm(actor shared.Actor, action LedgerAction) bool {
	switch action {
	case LedgerReceipt, LedgerHandover:
		return p.auxiliar.contains(actor.Email) || p.admin.contains(actor.Email)
	case LedgerFinalVerification:
		return p.admin.contains(actor.Email)
	default:
		return false
	}
}

// ClosingPolicy gates closing batch stamps. The auxiliar stage is open to any
// operator holding the reports permission; the admin stage requires membership
// in the allowlist of the closing's channel.
type ClosingPolicy struct {
	adminsByChannel map[string]emailSet
}

// NewClosingPolicy builds a policy from per-channel admin allowlists keyed by
// closing type (pickup/motoboy/carrier).
func NewClosingPolicy(adminsByChannel map[string][]string) ClosingPolicy {
	sets := make(map[string]emailSet, len(adminsByChannel))
	for channel, emails := range adminsByChannel {
		sets[strings.ToLower(strings.TrimSpace(channel))] = newEmailSet(emails)
	}
	return ClosingPolicy{adminsByChannel: sets}
}

// CanConfirm reports whether the actor may stamp the given stage on a closing
// of the given channel.
func (p ClosingPolicy) CanConfirm(actor shared.Actor, stage ClosingStage, closingType string) bool {
	switch stage {
	case StageAuxiliar:
		return actor.HasPermission(shared.PermReportsView)
	case StageAdmin:
		set, ok := p.adminsByChannel[strings.ToLower(strings.TrimSpace(closingType))]
		return ok && set.contains(actor.Email)
	default:
		return false
	}
}
