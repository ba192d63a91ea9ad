package worker

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmodeller/omws/ticket"
)

func shellExecutor(t *testing.T, script string) *CommandExecutor {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	// sh -c script req resp binds the request file to $0 and the result file to $1.
	return &CommandExecutor{Command: "/bin/sh", Args: []string{"-c", script}, TempDir: t.TempDir()}
}

func noProgress(int) {}

func TestCommandExecutorRoundTrip(t *testing.T) {
	e := shellExecutor(t, `case "$0" in */samp_req.samp1) ;; *) exit 9 ;; esac; sed 's/in/out/' "$0" > "$1"`)
	result, err := e.Execute(context.Background(), &Job{ID: "samp1", Type: ticket.Sampling, Request: []byte(`{"in":1}`)}, noProgress)
	require.NoError(t, err)
	assert.Equal(t, `{"out":1}`, strings.TrimSpace(string(result)))
}

func TestCommandExecutorFailure(t *testing.T) {
	e := shellExecutor(t, `echo "algorithm GARP diverged" >&2; exit 3`)
	_, err := e.Execute(context.Background(), &Job{ID: "model1", Type: ticket.CreateModel, Request: []byte(`{}`)}, noProgress)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "algorithm GARP diverged")
}

func TestCommandExecutorMissingResult(t *testing.T) {
	e := shellExecutor(t, `true`)
	_, err := e.Execute(context.Background(), &Job{ID: "proj1", Type: ticket.ProjectModel, Request: []byte(`{}`)}, noProgress)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading result file")
}

func TestCommandExecutorCancelled(t *testing.T) {
	e := shellExecutor(t, `sleep 10`)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := e.Execute(ctx, &Job{ID: "test1", Type: ticket.TestModel, Request: []byte(`{}`)}, noProgress)
	require.Error(t, err)
	assert.True(t, time.Since(start) < 5*time.Second)
}

func TestNewCommandExecutor(t *testing.T) {
	e, err := NewCommandExecutor("  om_model --log-level debug ")
	require.NoError(t, err)
	assert.Equal(t, "om_model", e.Command)
	assert.Equal(t, []string{"--log-level", "debug"}, e.Args)

	_, err = NewCommandExecutor("   ")
	assert.Error(t, err)
}
