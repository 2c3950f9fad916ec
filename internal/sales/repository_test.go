package sales

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// The members table keys batches by batch_id; the eligibility subquery must
// join on the same column the closing repository writes.
func TestEligibleForClosingQueryJoinsOnBatchID(t *testing.T) {
	require.Contains(t, eligibleForClosingQuery, "JOIN closing_batches b ON b.id = m.batch_id")
	require.NotContains(t, eligibleForClosingQuery, "closing_id")
}

func TestEligibleForClosingQueryBindsAllArguments(t *testing.T) {
	for _, placeholder := range []string{"$1", "$2", "$3", "$4"} {
		require.Contains(t, eligibleForClosingQuery, placeholder)
	}
	require.NotContains(t, eligibleForClosingQuery, "$5")
}

func TestSaleColumnsMatchScanTargets(t *testing.T) {
	// scanSale reads ten fields; the shared column list must stay in step.
	require.Len(t, strings.Split(saleColumns, ", "), 10)
}
