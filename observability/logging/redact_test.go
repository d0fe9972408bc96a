package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMaskFieldRedactsNonAllowlistedKeys(t *testing.T) {
	attr := MaskField("proposer", "0xdeadbeef")
	require.Equal(t, "proposer", attr.Key)
	require.Equal(t, RedactedValue, attr.Value.String())
}

func TestMaskFieldPassesThroughAllowlistedKeys(t *testing.T) {
	attr := MaskField("reason", "qc_timeout")
	require.Equal(t, "reason", attr.Key)
	require.Equal(t, "qc_timeout", attr.Value.String())
}

func TestMaskFieldLeavesEmptyValuesUnredacted(t *testing.T) {
	attr := MaskField("voter", "")
	require.Equal(t, "", attr.Value.String())
}

func TestRedactionAllowlistCoversLoggingSetupFields(t *testing.T) {
	allowlist := RedactionAllowlist()
	for _, key := range []string{"service", "env", "message", "severity", "timestamp"} {
		require.True(t, IsAllowlisted(key), "expected %q to be allowlisted", key)
		require.Contains(t, allowlist, key)
	}
	require.False(t, IsAllowlisted("proposer"))
}
