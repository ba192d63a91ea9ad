package worker

import (
	"bytes"
	"context"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// how much of a failed command's stderr is kept in the error
const stderrTail = 2048

// CommandExecutor runs an external program as
//
//	<command> <args...> <requestFile> <resultFile>
//
// The request document is written to requestFile; the program writes its
// result document to resultFile and exits 0 on success.
type CommandExecutor struct {
	Command string
	Args    []string
	// TempDir holds the per job files. Empty means the system default.
	TempDir string
}

// NewCommandExecutor splits commandLine on white space.
func NewCommandExecutor(commandLine string) (*CommandExecutor, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil, errors.New("empty executor command")
	}
	return &CommandExecutor{Command: fields[0], Args: fields[1:]}, nil
}

func (e *CommandExecutor) Execute(ctx context.Context, job *Job, progress func(int)) ([]byte, error) {
	dir, err := ioutil.TempDir(e.TempDir, "omws-"+string(job.ID)+"-")
	if err != nil {
		return nil, errors.Wrap(err, "creating job directory")
	}
	defer os.RemoveAll(dir)

	requestFile := filepath.Join(dir, job.Type.String()+"_req."+string(job.ID))
	resultFile := filepath.Join(dir, job.Type.String()+"_resp."+string(job.ID))
	if err := ioutil.WriteFile(requestFile, job.Request, 0644); err != nil {
		return nil, errors.Wrap(err, "writing request file")
	}

	args := append(append([]string{}, e.Args...), requestFile, resultFile)
	cmd := exec.CommandContext(ctx, e.Command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	log.WithFields(log.Fields{"ticket": job.ID, "command": e.Command}).Debug("running executor command")
	progress(0)
	if err := cmd.Run(); err != nil {
		tail := stderr.String()
		if len(tail) > stderrTail {
			tail = tail[len(tail)-stderrTail:]
		}
		return nil, errors.Wrapf(err, "%s failed: %s", e.Command, strings.TrimSpace(tail))
	}

	result, err := ioutil.ReadFile(resultFile)
	if err != nil {
		return nil, errors.Wrap(err, "reading result file")
	}
	return result, nil
}
