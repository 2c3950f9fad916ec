package policy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/expedio-erp/expedio/internal/shared"
)

func TestLedgerPolicyCanConfirm(t *testing.T) {
	gate := NewLedgerPolicy(
		[]string{"Aux@Expedio.com.br", " aux2@expedio.com.br "},
		[]string{"admin@expedio.com.br"},
	)

	aux := shared.Actor{Email: "aux@expedio.com.br"}
	admin := shared.Actor{Email: "admin@expedio.com.br"}
	stranger := shared.Actor{Email: "nobody@example.com"}

	require.True(t, gate.CanConfirm(aux, LedgerReceipt))
	require.True(t, gate.CanConfirm(aux, LedgerHandover))
	require.False(t, gate.CanConfirm(aux, LedgerFinalVerification), "final verification is admin only")

	require.True(t, gate.CanConfirm(admin, LedgerReceipt))
	require.True(t, gate.CanConfirm(admin, LedgerHandover))
	require.True(t, gate.CanConfirm(admin, LedgerFinalVerification))

	require.False(t, gate.CanConfirm(stranger, LedgerReceipt))
	require.False(t, gate.CanConfirm(aux, LedgerAction("unknown")))
}

func TestLedgerPolicyNormalizesEmails(t *testing.T) {
	gate := NewLedgerPolicy([]string{"AUX@Expedio.com.br"}, nil)

	require.True(t, gate.CanConfirm(shared.Actor{Email: "aux@expedio.com.br"}, LedgerReceipt))
	require.True(t, gate.CanConfirm(shared.Actor{Email: " AUX@EXPEDIO.COM.BR "}, LedgerReceipt))
}

func TestClosingPolicyAuxiliarStage(t *testing.T) {
	gate := NewClosingPolicy(nil)

	withPerm := shared.Actor{Email: "ops@expedio.com.br", Permissions: []string{shared.PermReportsView}}
	withoutPerm := shared.Actor{Email: "ops@expedio.com.br"}

	require.True(t, gate.CanConfirm(withPerm, StageAuxiliar, "motoboy"))
	require.False(t, gate.CanConfirm(withoutPerm, StageAuxiliar, "motoboy"))
}

func TestClosingPolicyAdminStagePerChannel(t *testing.T) {
	gate := NewClosingPolicy(map[string][]string{
		"motoboy": {"moto@expedio.com.br"},
		"pickup":  {"pickup@expedio.com.br"},
	})

	moto := shared.Actor{Email: "moto@expedio.com.br", Permissions: []string{shared.PermReportsView}}
	pickup := shared.Actor{Email: "pickup@expedio.com.br"}

	require.True(t, gate.CanConfirm(moto, StageAdmin, "motoboy"))
	require.False(t, gate.CanConfirm(moto, StageAdmin, "pickup"), "admin allowlists are per channel")
	require.True(t, gate.CanConfirm(pickup, StageAdmin, "pickup"))
	require.False(t, gate.CanConfirm(pickup, StageAdmin, "carrier"), "channel without allowlist admits nobody")
	require.False(t, gate.CanConfirm(moto, ClosingStage("unknown"), "motoboy"))
}

func TestClosingPolicyGatesAreIndependent(t *testing.T) {
	gate := NewClosingPolicy(map[string][]string{"motoboy": {"moto@expedio.com.br"}})

	// Channel admin without the reports permission still cannot stamp
	// the auxiliar stage, and the permission alone never unlocks admin.
	admin := shared.Actor{Email: "moto@expedio.com.br"}
	reporter := shared.Actor{Email: "reporter@expedio.com.br", Permissions: []string{shared.PermReportsView}}

	require.False(t, gate.CanConfirm(admin, StageAuxiliar, "motoboy"))
	require.False(t, gate.CanConfirm(reporter, StageAdmin, "motoboy"))
}
