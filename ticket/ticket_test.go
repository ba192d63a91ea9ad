package ticket

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_ParseID(t *testing.T) {
	id, err := ParseID("aB3xY9")
	require.NoError(t, err)
	assert.Equal(t, ID("aB3xY9"), id)

	for _, bad := range []string{"", "abc", "abcdefg", "../etc", "ab_cde", "ab cde"} {
		_, err := ParseID(bad)
		assert.Error(t, err, bad)
	}
}

func Test_ParseIDProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("ids only ever contain the id alphabet", prop.ForAll(
		func(s string) bool {
			id, err := ParseID(s)
			if err != nil {
				return true
			}
			return len(id) == IDLength && strings.Trim(string(id), IDAlphabet) == ""
		},
		gen.AnyString(),
	))

	properties.Property("alphanumeric strings of the right length are ids", prop.ForAll(
		func(s string) bool {
			if len(s) < IDLength {
				return true
			}
			_, err := ParseID(s[:IDLength])
			return err == nil
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func Test_ParseIDList(t *testing.T) {
	ids, err := ParseIDList("abc123, def456,,")
	require.NoError(t, err)
	assert.Equal(t, []ID{"abc123", "def456"}, ids)

	ids, err = ParseIDList("")
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = ParseIDList("abc123,nope")
	assert.Error(t, err)
}

func Test_JobTypeNames(t *testing.T) {
	for _, jt := range JobTypes() {
		byPrefix, err := ParseJobType(jt.String())
		require.NoError(t, err)
		assert.Equal(t, jt, byPrefix)

		byName, err := ParseJobType(strings.ToLower(jt.Name()))
		require.NoError(t, err)
		assert.Equal(t, jt, byName)
	}
	assert.Equal(t, "model", CreateModel.String())
	assert.Equal(t, "Evaluate", Evaluate.Name())
	assert.Equal(t, "unknown", JobType(42).String())

	_, err := ParseJobType("unknown")
	assert.Error(t, err)
}

func Test_StageNames(t *testing.T) {
	assert.Equal(t, "pend", Pending.String())
	assert.Equal(t, "req", Runnable.String())
	assert.Equal(t, "proc", Processed.String())
}

func Test_FailureCodes(t *testing.T) {
	assert.True(t, IsFailureCode(ProgressAborted))
	assert.True(t, IsFailureCode(ProgressCancelled))
	assert.True(t, IsFailureCode(ProgressUnknown))
	assert.False(t, IsFailureCode(ProgressQueued))
	assert.False(t, IsFailureCode(0))
	assert.False(t, IsFailureCode(ProgressDone))
}
