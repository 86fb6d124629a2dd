// Package remote runs the cluster side of the job lifecycle. Shell commands
// go over an ssh session, file sync shells out to rsync. Every operation
// returns the raw combined output; deciding what the output means is left to
// the classify package.
package remote

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rescale/simwatch/internal/models"
)

// Gateway is the set of remote operations the lifecycle controller needs.
type Gateway interface {
	// PollQueue returns the output of "qstat -a".
	PollQueue(ctx context.Context) (string, error)
	// SyncIn copies matching files of the remote job directory into dir.
	SyncIn(ctx context.Context, dir string, include, exclude []string) (string, error)
	// SyncOut copies matching files of dir into the remote job directory.
	SyncOut(ctx context.Context, dir string, include, exclude []string) (string, error)
	// Submit runs qsub on the remote pbs.sh and returns the job id output.
	Submit(ctx context.Context, dir string) (string, error)
	// RemoveRemoteDir deletes the remote job directory.
	RemoveRemoteDir(ctx context.Context, dir string) (string, error)
	// CopyExecutable copies the fluidity binary into the remote job directory.
	CopyExecutable(ctx context.Context, dir string) (string, error)
	// RunRemote runs an arbitrary shell command on the cluster.
	RunRemote(ctx context.Context, cmd string) (string, error)
}

// ErrNoAnswer is returned by PollQueue when the cluster does not answer the
// trial command. It is worth retrying.
var ErrNoAnswer = errors.New("cluster did not answer")

// Runner executes a local command and returns its combined output. A
// non-zero exit status is not an error: the output is what gets classified.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner runs local commands with os/exec. It drives rsync.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			return string(out), nil
		}
		return string(out), fmt.Errorf("failed to run %s: %w", name, err)
	}
	return string(out), nil
}

// SSH is the Gateway for one cluster account.
type SSH struct {
	target models.ClusterTarget
	root   string
	runner Runner
	cmd    Commander
	shell  string
	logger zerolog.Logger
}

// NewSSH creates a gateway for target. Local job directories are resolved
// below root. A nil runner uses ExecRunner; a nil cmd uses an SSHClient with
// the default keys and known_hosts.
func NewSSH(target models.ClusterTarget, root string, runner Runner, cmd Commander, logger zerolog.Logger) *SSH {
	if runner == nil {
		runner = ExecRunner{}
	}
	if cmd == nil {
		cmd = NewSSHClient(ClientOptions{Host: target.ClusterName, User: target.Username}, logger)
	}
	return &SSH{target: target, root: root, runner: runner, cmd: cmd, shell: "ssh", logger: logger}
}

// SetRsyncShell sets the remote shell rsync uses, for example from RsyncShell.
func (g *SSH) SetRsyncShell(shell string) {
	if shell != "" {
		g.shell = shell
	}
}

// RsyncShell builds the "-e" argument of rsync for a non-default port or
// identity file.
func RsyncShell(port int, identityFile string) string {
	shell := "ssh"
	if port > 0 && port != 22 {
		shell += " -p " + strconv.Itoa(port)
	}
	if identityFile != "" {
		shell += " -i " + expandHome(identityFile)
	}
	return shell
}

func (g *SSH) localDir(dir string) string {
	return filepath.Join(g.root, dir) + "/"
}

func (g *SSH) host() string {
	return g.target.Username + "@" + g.target.ClusterName
}

func (g *SSH) remoteDir(dir string) string {
	return strings.TrimRight(g.target.ClusterDir, "/") + "/" + dir
}

func (g *SSH) ssh(ctx context.Context, cmd string) (string, error) {
	g.logger.Debug().Str("host", g.target.ClusterName).Str("cmd", cmd).Msg("ssh")
	return g.cmd.Exec(ctx, cmd)
}

// PollQueue runs "qstat -a" once a trial "ls .bashrc" has answered. When the
// trial fails its output is returned with ErrNoAnswer.
func (g *SSH) PollQueue(ctx context.Context) (string, error) {
	trial, err := g.ssh(ctx, "ls .bashrc")
	if err != nil {
		return trial, err
	}
	if strings.TrimSpace(trial) != ".bashrc" {
		return trial, fmt.Errorf("%w: %q", ErrNoAnswer, strings.TrimSpace(trial))
	}
	return g.ssh(ctx, "qstat -a")
}

func rsyncArgs(shell string, include, exclude []string, src, dst string) []string {
	args := []string{"-e", shell, "-arvq"}
	for _, p := range include {
		args = append(args, "--include="+p)
	}
	for _, p := range exclude {
		args = append(args, "--exclude="+p)
	}
	return append(args, src, dst)
}

// SyncIn implements Gateway.
func (g *SSH) SyncIn(ctx context.Context, dir string, include, exclude []string) (string, error) {
	src := g.host() + ":" + g.remoteDir(dir) + "/"
	return g.runner.Run(ctx, "rsync", rsyncArgs(g.shell, include, exclude, src, g.localDir(dir))...)
}

// SyncOut implements Gateway.
func (g *SSH) SyncOut(ctx context.Context, dir string, include, exclude []string) (string, error) {
	dst := g.host() + ":" + g.remoteDir(dir) + "/"
	return g.runner.Run(ctx, "rsync", rsyncArgs(g.shell, include, exclude, g.localDir(dir), dst)...)
}

// Submit implements Gateway.
func (g *SSH) Submit(ctx context.Context, dir string) (string, error) {
	return g.ssh(ctx, "cd "+g.remoteDir(dir)+"; qsub pbs.sh")
}

// RemoveRemoteDir implements Gateway.
func (g *SSH) RemoveRemoteDir(ctx context.Context, dir string) (string, error) {
	return g.ssh(ctx, "rm -rf "+g.remoteDir(dir))
}

// CopyExecutable implements Gateway.
func (g *SSH) CopyExecutable(ctx context.Context, dir string) (string, error) {
	bin := strings.TrimRight(g.target.ClusterFluidityDir, "/") + "/bin/fluidity"
	return g.ssh(ctx, "cp "+bin+" "+g.remoteDir(dir)+"/")
}

// RunRemote implements Gateway.
func (g *SSH) RunRemote(ctx context.Context, cmd string) (string, error) {
	return g.ssh(ctx, cmd)
}
