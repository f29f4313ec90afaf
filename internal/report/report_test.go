package report

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-smtp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshsymonds/inboxrules/internal/config"
	"github.com/joshsymonds/inboxrules/internal/engine"
	"github.com/joshsymonds/inboxrules/internal/rules"
)

var reportNow = time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC)

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleReport() engine.Report {
	return engine.Report{
		RunID:      "run-1",
		StartedAt:  reportNow,
		FinishedAt: reportNow.Add(2*time.Minute + 5*time.Second),
		State:      engine.StateCompleted,
		Rules: []engine.RuleSummary{
			{
				RuleID: 1, RuleName: "newsletters", Action: rules.ActionArchive,
				Predicate: `sender contains "news@"`, Status: engine.RuleCompleted,
				Candidates: 4, Matched: 2, Succeeded: 1, Failed: 1,
				Actions: []engine.ActionRecord{
					{RuleName: "newsletters", MessageID: "a", Subject: "Weekly <digest>", Sender: "news@shop.example",
						Action: rules.ActionArchive, Outcome: engine.OutcomeApplied},
					{RuleName: "newsletters", MessageID: "b", Subject: "Sale", Sender: "news@shop.example",
						Action: rules.ActionArchive, Outcome: engine.OutcomeFailed, Error: "status 404"},
				},
			},
			{RuleID: 2, RuleName: "broken", Status: engine.RuleSkipped, Error: "invalid regex"},
		},
		Totals: engine.Totals{RulesProcessed: 2, RulesFailed: 1, Candidates: 4, Matched: 2, Succeeded: 1, Failed: 1},
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{3 * time.Second, "3s"},
		{2*time.Minute + 3*time.Second, "2m 3s"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1h 2m 3s"},
		{time.Hour, "1h 0m 0s"},
		{1500 * time.Millisecond, "2s"},
		{-time.Second, "0s"},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.want, func(t *testing.T) {
			assert.Equal(t, tc.want, FormatDuration(tc.in))
		})
	}
}

func TestSubject(t *testing.T) {
	rep := sampleReport()
	assert.Equal(t, "[inboxrules] Report 2024-06-01 09:00 - 1 error(s)", Subject(rep, reportNow))

	rep.Totals.Failed = 0
	assert.Equal(t, "[inboxrules] Report 2024-06-01 09:00", Subject(rep, reportNow))

	rep.Totals.Matched = 0
	assert.Equal(t, "[inboxrules] Report 2024-06-01 09:00 - no action", Subject(rep, reportNow))

	rep.State = engine.StateAborted
	assert.Equal(t, "[inboxrules] Report 2024-06-01 09:00 - aborted", Subject(rep, reportNow))
}

func TestPrintHuman(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintHuman(sampleReport(), &buf))
	out := buf.String()
	assert.Contains(t, out, "inboxrules run run-1 (LIVE, 2m 5s)")
	assert.Contains(t, out, "matched 2, succeeded 1, failed 1")
	assert.Contains(t, out, "newsletters")
	assert.Contains(t, out, "error: invalid regex")
	assert.Contains(t, out, `archive failed: "Sale" from news@shop.example (status 404)`)
}

func TestPrintHumanDryRunAndAbort(t *testing.T) {
	rep := sampleReport()
	rep.DryRun = true
	rep.State = engine.StateAborted
	rep.Error = "run aborted: status 401"
	rep.Rules[0].Actions[0].Outcome = engine.OutcomeSimulated

	var buf bytes.Buffer
	require.NoError(t, PrintHuman(rep, &buf))
	out := buf.String()
	assert.Contains(t, out, "DRY RUN")
	assert.Contains(t, out, "ABORTED: run aborted: status 401")
	assert.Contains(t, out, "[DRY RUN] would archive")
}

func TestWriteJSONRejectsUnsafePaths(t *testing.T) {
	rep := sampleReport()
	require.Error(t, WriteJSON(rep, ""))
	require.Error(t, WriteJSON(rep, "/tmp/report.json"))
	require.Error(t, WriteJSON(rep, "../report.json"))
}

func TestWriteJSON(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	require.NoError(t, WriteJSON(sampleReport(), "report.json"))
	data, err := os.ReadFile(filepath.Join(dir, "report.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"run_id": "run-1"`)
	assert.Contains(t, string(data), `"rules_failed": 1`)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewTextHandler(&buf, nil)))
	require.NoError(t, sink.RecordAction(context.Background(), engine.ActionRecord{
		RunID: "run-1", RuleID: 3, RuleName: "promo", MessageID: "m1",
		Action: rules.ActionDelete, Outcome: engine.OutcomeSimulated,
	}))
	require.NoError(t, sink.RecordAction(context.Background(), engine.ActionRecord{
		RunID: "run-1", RuleID: 3, RuleName: "promo", MessageID: "m2",
		Action: rules.ActionDelete, Outcome: engine.OutcomeFailed, Error: "boom",
	}))
	out := buf.String()
	assert.Contains(t, out, "level=INFO msg=action")
	assert.Contains(t, out, "simulated=true")
	assert.Contains(t, out, "level=WARN msg=action")
	assert.Contains(t, out, "error=boom")
}

func TestMetricsEmit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inboxrules.prom")
	m := NewMetrics(path)
	require.NoError(t, m.Emit(context.Background(), sampleReport()))

	assert.InDelta(t, 125, testutil.ToFloat64(m.duration), 0.001)
	assert.InDelta(t, 2, testutil.ToFloat64(m.totals.WithLabelValues("matched")), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ruleFailed.WithLabelValues("newsletters")), 0.001)
	assert.InDelta(t, 0, testutil.ToFloat64(m.aborted), 0.001)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "inboxrules_last_run_messages")
	assert.Contains(t, string(data), `inboxrules_rule_matched{rule="newsletters"} 2`)
}

func TestMailerDisabledIsNoop(t *testing.T) {
	m := NewMailer(config.SMTPConfig{}, slogDiscard())
	require.NoError(t, m.Emit(context.Background(), sampleReport()))
}

func TestMailerCompose(t *testing.T) {
	m := NewMailer(config.SMTPConfig{From: "bot@example.com", To: []string{"me@example.com"}}, slogDiscard())
	m.Clock = func() time.Time { return reportNow }
	raw, err := m.Compose(sampleReport())
	require.NoError(t, err)

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)
	subject, err := mr.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "[inboxrules] Report 2024-06-01 09:00 - 1 error(s)", subject)

	bodies := map[string]string{}
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		h, ok := p.Header.(*mail.InlineHeader)
		require.True(t, ok)
		ct, _, err := h.ContentType()
		require.NoError(t, err)
		body, err := io.ReadAll(p.Body)
		require.NoError(t, err)
		bodies[ct] = string(body)
	}
	require.Contains(t, bodies, "text/plain")
	require.Contains(t, bodies, "text/html")
	assert.Contains(t, bodies["text/plain"], "Mode: LIVE | Duration: 2m 5s")
	assert.Contains(t, bodies["text/html"], "Weekly &lt;digest&gt;")
	assert.NotContains(t, bodies["text/html"], "<digest>")
}

func TestMailerComposeRejectsBadAddress(t *testing.T) {
	m := NewMailer(config.SMTPConfig{From: "not an address", To: []string{"me@example.com"}}, slogDiscard())
	_, err := m.Compose(sampleReport())
	require.Error(t, err)
}

type capturedMail struct {
	from string
	to   []string
	data []byte
}

type testBackend struct {
	mu   sync.Mutex
	got  []capturedMail
	cur  capturedMail
	done chan struct{}
}

func (b *testBackend) NewSession(_ *smtp.Conn) (smtp.Session, error) { return &testSession{b: b}, nil }

type testSession struct{ b *testBackend }

func (s *testSession) Mail(from string, _ *smtp.MailOptions) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.cur = capturedMail{from: from}
	return nil
}

func (s *testSession) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.cur.to = append(s.b.cur.to, to)
	return nil
}

func (s *testSession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.b.mu.Lock()
	s.b.cur.data = data
	s.b.got = append(s.b.got, s.b.cur)
	s.b.mu.Unlock()
	close(s.b.done)
	return nil
}

func (s *testSession) Reset()        {}
func (s *testSession) Logout() error { return nil }

func TestMailerSendsOverSMTP(t *testing.T) {
	be := &testBackend{done: make(chan struct{})}
	srv := smtp.NewServer(be)
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = true
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	m := NewMailer(config.SMTPConfig{
		Enabled: true,
		Host:    host,
		Port:    port,
		From:    "bot@example.com",
		To:      []string{"me@example.com", "ops@example.com"},
		TLS:     "none",
	}, slogDiscard())
	m.Clock = func() time.Time { return reportNow }
	require.NoError(t, m.Emit(context.Background(), sampleReport()))

	select {
	case <-be.done:
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}
	be.mu.Lock()
	defer be.mu.Unlock()
	require.Len(t, be.got, 1)
	assert.Equal(t, "bot@example.com", be.got[0].from)
	assert.Equal(t, []string{"me@example.com", "ops@example.com"}, be.got[0].to)
	assert.True(t, strings.Contains(string(be.got[0].data), "Subject: [inboxrules] Report 2024-06-01 09:00"))
}
