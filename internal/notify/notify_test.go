package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	got []Message
	err error
}

func (r *recordingSink) Name() string { return "recording" }

func (r *recordingSink) Deliver(_ context.Context, m Message) error {
	r.got = append(r.got, m)
	return r.err
}

func TestReporterVerbosityGate(t *testing.T) {
	sink := &recordingSink{}
	r := NewReporter(1, zerolog.Nop(), sink)

	r.Report("run1", "submitted", 0, KindLog, SubjectSubmitted)
	r.Report("run1", "ran normally", 2, KindLog, SubjectRanNormally)
	r.Report("run1", "synced", 1, KindLog, "")

	require.Len(t, sink.got, 2)
	assert.Equal(t, "submitted", sink.got[0].Text)
	assert.Equal(t, "synced", sink.got[1].Text)
}

func TestReporterSinkFailureDoesNotStopOthers(t *testing.T) {
	failing := &recordingSink{err: errors.New("boom")}
	ok := &recordingSink{}
	r := NewReporter(3, zerolog.Nop(), failing, ok)

	r.Report("run1", "hello", 0, KindErr, SubjectError)

	assert.Len(t, failing.got, 1)
	assert.Len(t, ok.got, 1)
}

func TestFileSinkWritesLogAndErr(t *testing.T) {
	dir := t.TempDir()
	f := NewFileSink(dir)
	f.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	ctx := context.Background()
	require.NoError(t, f.Deliver(ctx, Message{Dir: "run1", Text: "routine", Kind: KindLog}))
	require.NoError(t, f.Deliver(ctx, Message{Dir: "run1", Text: "Error: broke", Kind: KindErr}))
	require.NoError(t, f.Deliver(ctx, Message{Text: "global", Kind: KindLog}))
	require.NoError(t, f.Close())

	log, err := os.ReadFile(filepath.Join(dir, "run1.log"))
	require.NoError(t, err)
	assert.Contains(t, string(log), "2024-01-02 03:04:05 [log] routine")
	assert.Contains(t, string(log), "[err] Error: broke")

	errLog, err := os.ReadFile(filepath.Join(dir, "run1.err"))
	require.NoError(t, err)
	assert.NotContains(t, string(errLog), "routine")
	assert.Contains(t, string(errLog), "Error: broke")

	assert.FileExists(t, filepath.Join(dir, GlobalLogName+".log"))
}

func TestParseRecipients(t *testing.T) {
	got, err := ParseRecipients("a@b.com; c@d.org")
	require.NoError(t, err)
	assert.Equal(t, []string{"a@b.com", "c@d.org"}, got)

	tests := []struct {
		in   string
		want error
	}{
		{"", ErrNoRecipients},
		{"a b@c.com", ErrRecipientSpaces},
		{"a@b.com,c@d.com", ErrRecipientComma},
		{"ab.com", ErrRecipientAt},
		{"a@b@c.com", ErrRecipientAt},
		{"a@bcom", ErrRecipientNoDot},
		{"a@.com", ErrRecipientNoLabel},
		{"a@b.", ErrRecipientNoLabel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, err := ParseRecipients(tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestEmailSubject(t *testing.T) {
	loc := "/data/run1"
	assert.Equal(t, "Monitoring Report: Job submitted", EmailSubject(Message{Subject: SubjectSubmitted}, loc))
	assert.Equal(t, "Monitoring Report: Error encountered", EmailSubject(Message{Text: "Error: qsub failed"}, loc))
	assert.Equal(t, "Monitoring Report: Simulation manually fixed",
		EmailSubject(Message{Text: "Simulation has been flagged as fixed."}, loc))
	assert.Equal(t, "Monitoring Report: Regarding /data/run1", EmailSubject(Message{Text: "hello"}, loc))
}

func TestEmailBody(t *testing.T) {
	body := EmailBody(Message{Text: "Error: walltime exceeded"}, "/data/run1")
	lines := strings.Split(body, "\n")
	require.GreaterOrEqual(t, len(lines), 6)
	assert.Equal(t, lines[0], lines[3])
	assert.Equal(t, len(lines[0]), len(lines[1]))
	assert.Equal(t, len(lines[0]), len(lines[2]))
	assert.True(t, strings.HasPrefix(lines[1], "# Automated report regarding:"))
	assert.True(t, strings.HasSuffix(lines[2], "#"))
	assert.Contains(t, body, "The following error was encountered:\nError: walltime exceeded\n")

	finished := EmailBody(Message{Text: "Simulation in run1 has reached its final time: FINISHED"}, "/x")
	assert.Contains(t, finished, "The following simulation has reached its finish time:\n")
}

func TestEmailSinkSendsWithAttachment(t *testing.T) {
	dir := t.TempDir()
	stdout := filepath.Join(dir, "stdout")
	require.NoError(t, os.WriteFile(stdout, []byte("MPI_ABORT"), 0o644))

	sink, err := NewEmailSink(EmailConfig{Recipients: []string{"a@b.com"}, Root: dir})
	require.NoError(t, err)

	var sent []byte
	var to []string
	sink.send = func(addr string, a smtp.Auth, from string, rcpt []string, msg []byte) error {
		sent, to = msg, rcpt
		return nil
	}

	err = sink.Deliver(context.Background(), Message{
		Dir:         "run1",
		Text:        "Error: crashed",
		Subject:     SubjectError,
		Attachments: []string{stdout, filepath.Join(dir, "missing")},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a@b.com"}, to)
	assert.Contains(t, string(sent), "Subject: Monitoring Report: Error")
	assert.Contains(t, string(sent), `filename="stdout"`)
	assert.Contains(t, string(sent), "could not be attached")
}

func TestEmailSinkHonoursNoEmail(t *testing.T) {
	sink, err := NewEmailSink(EmailConfig{Recipients: []string{"a@b.com"}})
	require.NoError(t, err)
	called := false
	sink.send = func(string, smtp.Auth, string, []string, []byte) error {
		called = true
		return nil
	}
	require.NoError(t, sink.Deliver(context.Background(), Message{Text: "x", NoEmail: true}))
	assert.False(t, called)
}

func TestPopupSink(t *testing.T) {
	var alerts, notes []string
	p := &PopupSink{
		alert:  func(title, msg string) error { alerts = append(alerts, title+"|"+msg); return nil },
		notify: func(title, msg string) error { notes = append(notes, title+"|"+msg); return nil },
	}
	ctx := context.Background()
	require.NoError(t, p.Deliver(ctx, Message{Subject: SubjectAllFinished, Text: Framed("All simulations have successfully finished")}))
	require.NoError(t, p.Deliver(ctx, Message{Subject: SubjectSubmitted, Text: "Job submitted"}))

	assert.Equal(t, []string{"All simulations finished|All simulations have successfully finished"}, alerts)
	assert.Equal(t, []string{"Job submitted|Job submitted"}, notes)
}

func TestUrgencyFor(t *testing.T) {
	assert.Equal(t, UrgencyCritical, UrgencyFor(SubjectError))
	assert.Equal(t, UrgencyNormal, UrgencyFor(SubjectFixed))
	assert.Equal(t, UrgencyLow, UrgencyFor("anything else"))
}

func TestWebhookSink(t *testing.T) {
	var got WebhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhookSink(srv.URL, zerolog.Nop())
	err := w.Deliver(context.Background(), Message{Dir: "run1", Text: "done", Kind: KindErr, Subject: SubjectError})
	require.NoError(t, err)
	assert.Equal(t, "run1", got.Dir)
	assert.Equal(t, "err", got.Kind)
	assert.Equal(t, SubjectError, got.Subject)
}

func TestBanner(t *testing.T) {
	assert.Equal(t, "#####\n# a #\n#####", Framed("a"))
}
