package taxonomy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tiger/agent-lifecycle-governor/api/lifecycle"
)

func TestParseRegistry(t *testing.T) {
	t.Parallel()

	doc := `
version: "2.0"
codes:
  - code: D1_instruction
    status: canonical
  - code: D9_unspecified
    status: provisional
  - code: D5_memory_drift
    status: pending
`
	reg, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	require.Equal(t, "2.0", reg.Version())
	require.Equal(t, StatusCanonical, reg.Status("D1_instruction"))
	require.Equal(t, StatusProvisional, reg.Status("D9_unspecified"))
	require.Equal(t, StatusPending, reg.Status("D5_memory_drift"))
	require.Equal(t, StatusUnknown, reg.Status("D7_never_seen"))
}

func TestParseRegistryRejectsMalformedEntries(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"missing version": "codes: [{code: D1_instruction, status: canonical}]",
		"bad status":      "version: \"2.0\"\ncodes: [{code: D1_instruction, status: stable}]",
		"bad code syntax": "version: \"2.0\"\ncodes: [{code: d1_lower, status: canonical}]",
		"duplicate code":  "version: \"2.0\"\ncodes: [{code: D1_instruction, status: canonical}, {code: D1_instruction, status: pending}]",
	}
	for name, doc := range cases {
		_, err := Parse(strings.NewReader(doc))
		require.Error(t, err, name)
	}
}

func TestCheckTiers(t *testing.T) {
	t.Parallel()

	reg := Default()

	require.Empty(t, reg.Check("D4_tool_error"))
	require.Empty(t, reg.Check("D9_unspecified"), "provisional codes are flagged, not violated")

	pending := reg.Check("D5_memory_drift")
	require.Len(t, pending, 1)
	require.Equal(t, lifecycle.RuleTaxonomyPending, pending[0].RuleID)
	require.Equal(t, lifecycle.SeverityMust, pending[0].Severity)

	unknown := reg.Check("Z7_made_up")
	require.Len(t, unknown, 1)
	require.Equal(t, lifecycle.RuleTaxonomyUnknown, unknown[0].RuleID)
	require.Equal(t, lifecycle.SeverityShould, unknown[0].Severity)
}
