package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/rescale/simwatch/internal/models"
)

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	calls []call
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	f.calls = append(f.calls, call{name: name, args: args})
	return "", nil
}

type fakeCommander struct {
	cmds    []string
	outputs map[string]string
	err     error
}

func (f *fakeCommander) Exec(_ context.Context, cmd string) (string, error) {
	f.cmds = append(f.cmds, cmd)
	return f.outputs[cmd], f.err
}

func newGateway(r Runner, c Commander) *SSH {
	target := models.ClusterTarget{
		ClusterName:        "cx1.hpc.ic.ac.uk",
		ClusterDir:         "/work/jdoe/study/",
		ClusterFluidityDir: "/home/jdoe/fluidity",
		Username:           "jdoe",
	}
	return NewSSH(target, "/data/study", r, c, zerolog.Nop())
}

func TestSSH_Commands(t *testing.T) {
	c := &fakeCommander{}
	r := &fakeRunner{}
	g := newGateway(r, c)
	ctx := context.Background()

	g.Submit(ctx, "run1")
	g.RemoveRemoteDir(ctx, "run1")
	g.CopyExecutable(ctx, "run1")
	g.RunRemote(ctx, "ls")

	want := []string{
		"cd /work/jdoe/study/run1; qsub pbs.sh",
		"rm -rf /work/jdoe/study/run1",
		"cp /home/jdoe/fluidity/bin/fluidity /work/jdoe/study/run1/",
		"ls",
	}
	if strings.Join(c.cmds, "|") != strings.Join(want, "|") {
		t.Errorf("remote commands = %q, want %q", c.cmds, want)
	}
	if len(r.calls) != 0 {
		t.Errorf("shell commands ran locally: %v", r.calls)
	}
}

func TestSSH_SyncArgs(t *testing.T) {
	r := &fakeRunner{}
	g := newGateway(r, &fakeCommander{})

	g.SyncIn(context.Background(), "run1", []string{"sim*", "pbs.sh"}, []string{"*"})
	got := strings.Join(r.calls[0].args, " ")
	want := "-e ssh -arvq --include=sim* --include=pbs.sh --exclude=* jdoe@cx1.hpc.ic.ac.uk:/work/jdoe/study/run1/ /data/study/run1/"
	if r.calls[0].name != "rsync" || got != want {
		t.Errorf("SyncIn args = %q, want %q", got, want)
	}

	g.SyncOut(context.Background(), "run1", []string{"*"}, []string{"bkup", "*"})
	got = strings.Join(r.calls[1].args, " ")
	want = "-e ssh -arvq --include=* --exclude=bkup --exclude=* /data/study/run1/ jdoe@cx1.hpc.ic.ac.uk:/work/jdoe/study/run1/"
	if got != want {
		t.Errorf("SyncOut args = %q, want %q", got, want)
	}
}

func TestSSH_RsyncShell(t *testing.T) {
	r := &fakeRunner{}
	g := newGateway(r, &fakeCommander{})
	g.SetRsyncShell(RsyncShell(2222, "/keys/cx1"))

	g.SyncIn(context.Background(), "run1", nil, nil)
	if got := r.calls[0].args[:2]; got[0] != "-e" || got[1] != "ssh -p 2222 -i /keys/cx1" {
		t.Errorf("SyncIn shell = %q", got)
	}

	if got := RsyncShell(22, ""); got != "ssh" {
		t.Errorf("RsyncShell(22, \"\") = %q, want ssh", got)
	}
}

func TestSSH_PollQueue(t *testing.T) {
	c := &fakeCommander{outputs: map[string]string{"ls .bashrc": ".bashrc\n", "qstat -a": "queue"}}
	out, err := newGateway(nil, c).PollQueue(context.Background())
	if err != nil || out != "queue" {
		t.Fatalf("PollQueue() = %q, %v", out, err)
	}

	c = &fakeCommander{outputs: map[string]string{"ls .bashrc": ""}}
	_, err = newGateway(nil, c).PollQueue(context.Background())
	if !errors.Is(err, ErrNoAnswer) {
		t.Errorf("PollQueue() error = %v, want ErrNoAnswer", err)
	}
	if len(c.cmds) != 1 {
		t.Errorf("qstat ran without an answer to the trial command")
	}

	c = &fakeCommander{err: fmt.Errorf("%w: dial tcp: i/o timeout", ErrUnreachable)}
	_, err = newGateway(nil, c).PollQueue(context.Background())
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("PollQueue() error = %v, want ErrUnreachable", err)
	}
}

const qstatOutput = `
cx1b:
                                                            Req'd  Req'd   Elap
Job ID          Username Queue    Jobname    SessID NDS TSK Memory Time  S Time
--------------- -------- -------- ---------- ------ --- --- ------ ----- - -----
1234567.cx1b    jdoe     pqfluid  channel     12345   2  24   46gb 24:00 R 01:17
1234568.cx1b    jdoe     pqfluid  channel2      --    2  24   46gb 24:00 Q   --
1234569.cx1b    other    pqfluid  theirs      12346   1  12   23gb 24:00 R 03:00
`

func TestFindJob(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		jobID    string
		found    bool
		status   models.ClusterStatus
		walltime string
	}{
		{"running", "jdoe", "1234567.cx1b.cx1.hpc.ic.ac.uk", true, models.StatusRunning, "01:17"},
		{"queued", "jdoe", "1234568", true, models.StatusQueued, "00:00"},
		{"other user", "jdoe", "1234569.cx1b", false, "", ""},
		{"gone", "jdoe", "999", false, "", ""},
		{"no job", "jdoe", models.NoJob, false, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, ok := FindJob(qstatOutput, tt.user, tt.jobID)
			if ok != tt.found {
				t.Fatalf("FindJob() found = %v, want %v", ok, tt.found)
			}
			if !ok {
				return
			}
			if e.Status != tt.status || e.Walltime != tt.walltime {
				t.Errorf("FindJob() = %+v, want status %q walltime %q", e, tt.status, tt.walltime)
			}
		})
	}
}
