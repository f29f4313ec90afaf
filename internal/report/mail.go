package report

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/joshsymonds/inboxrules/internal/config"
	"github.com/joshsymonds/inboxrules/internal/engine"
)

const subjectPrefix = "[inboxrules] Report"

// Subject builds the report e-mail subject line.
func Subject(rep engine.Report, at time.Time) string {
	s := fmt.Sprintf("%s %s", subjectPrefix, at.Format("2006-01-02 15:04"))
	switch {
	case rep.State == engine.StateAborted:
		s += " - aborted"
	case rep.Totals.Matched == 0:
		s += " - no action"
	case rep.Totals.Failed > 0:
		s += fmt.Sprintf(" - %d error(s)", rep.Totals.Failed)
	}
	return s
}

// Mailer e-mails the run report over SMTP. It is an engine.ReportSink.
type Mailer struct {
	Config config.SMTPConfig
	Logger *slog.Logger
	Clock  func() time.Time
	// TLSConfig overrides the client TLS settings; ServerName defaults to
	// the configured host.
	TLSConfig *tls.Config
}

// NewMailer returns a Mailer for cfg.
func NewMailer(cfg config.SMTPConfig, logger *slog.Logger) *Mailer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Mailer{Config: cfg, Logger: logger, Clock: time.Now}
}

// Emit sends the report. It does nothing when SMTP is disabled.
func (m *Mailer) Emit(ctx context.Context, rep engine.Report) error {
	if !m.Config.Enabled {
		return nil
	}
	msg, err := m.Compose(rep)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("send report: %w", err)
	}
	if err := m.send(msg); err != nil {
		return err
	}
	m.Logger.InfoContext(ctx, "report e-mailed",
		slog.String("run_id", rep.RunID),
		slog.String("to", strings.Join(m.Config.To, ",")),
	)
	return nil
}

// Compose renders the report as a multipart/alternative message with a
// plain text and an HTML part.
func (m *Mailer) Compose(rep engine.Report) ([]byte, error) {
	now := time.Now()
	if m.Clock != nil {
		now = m.Clock()
	}
	from, err := mail.ParseAddress(m.Config.From)
	if err != nil {
		return nil, fmt.Errorf("parse from address %q: %w", m.Config.From, err)
	}
	to := make([]*mail.Address, 0, len(m.Config.To))
	for _, addr := range m.Config.To {
		a, err := mail.ParseAddress(addr)
		if err != nil {
			return nil, fmt.Errorf("parse to address %q: %w", addr, err)
		}
		to = append(to, a)
	}

	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{from})
	h.SetAddressList("To", to)
	h.SetSubject(Subject(rep, now))
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}

	htmlBody, err := renderHTML(rep, now)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	tw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("create inline part: %w", err)
	}
	for _, part := range []struct {
		contentType string
		body        string
	}{
		{"text/plain", renderPlain(rep, now)},
		{"text/html", htmlBody},
	} {
		var ph mail.InlineHeader
		ph.SetContentType(part.contentType, map[string]string{"charset": "utf-8"})
		w, err := tw.CreatePart(ph)
		if err != nil {
			return nil, fmt.Errorf("create %s part: %w", part.contentType, err)
		}
		if _, err := io.WriteString(w, part.body); err != nil {
			return nil, fmt.Errorf("write %s part: %w", part.contentType, err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("close %s part: %w", part.contentType, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close inline part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close message: %w", err)
	}
	return buf.Bytes(), nil
}

func (m *Mailer) send(msg []byte) error {
	cfg := m.Config
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	tlsConfig := m.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}
	}

	var (
		c   *smtp.Client
		err error
	)
	switch strings.ToLower(cfg.TLS) {
	case "none":
		c, err = smtp.Dial(addr)
	case "tls":
		c, err = smtp.DialTLS(addr, tlsConfig)
	default:
		c, err = smtp.DialStartTLS(addr, tlsConfig)
	}
	if err != nil {
		return fmt.Errorf("connect to smtp server %s: %w", addr, err)
	}
	defer func() { _ = c.Close() }()

	if cfg.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", cfg.Username, cfg.Password)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(cfg.From, nil); err != nil {
		return fmt.Errorf("set sender: %w", err)
	}
	for _, rcpt := range cfg.To {
		if err := c.Rcpt(rcpt, nil); err != nil {
			return fmt.Errorf("set recipient %s: %w", rcpt, err)
		}
	}
	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("start data: %w", err)
	}
	if _, err := wc.Write(msg); err != nil {
		_ = wc.Close()
		return fmt.Errorf("write message: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("finish data: %w", err)
	}
	if err := c.Quit(); err != nil {
		m.Logger.Warn("smtp quit", slog.String("error", err.Error()))
	}
	return nil
}

func renderPlain(rep engine.Report, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "inboxrules report\n")
	fmt.Fprintf(&b, "Date: %s | Mode: %s | Duration: %s\n", now.Format("2006-01-02 15:04"), Mode(rep), FormatDuration(rep.Duration()))
	if rep.Error != "" {
		fmt.Fprintf(&b, "Run aborted: %s\n", rep.Error)
	}
	t := rep.Totals
	fmt.Fprintf(&b, "\nSummary: %d rules, %d matched, %d ok, %d failed\n", t.RulesProcessed, t.Matched, t.Succeeded, t.Failed)
	for _, r := range rep.Rules {
		fmt.Fprintf(&b, "\n%s (%s): %d matched, %d ok, %d failed\n", r.RuleName, r.Status, r.Matched, r.Succeeded, r.Failed)
		if r.Error != "" {
			fmt.Fprintf(&b, "  error: %s\n", r.Error)
		}
		for _, a := range r.Actions {
			fmt.Fprintf(&b, "  %s\n", ActionLine(a))
		}
	}
	return b.String()
}

var htmlTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"line": ActionLine,
}).Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"></head>
<body style="font-family: Arial, sans-serif; max-width: 800px; margin: 0 auto;">
<h1 style="border-bottom: 2px solid #007bff;">inboxrules</h1>
<table><tr>
<td style="padding-right: 30px;"><strong>Date:</strong> {{.Date}}</td>
<td style="padding-right: 30px;"><strong>Mode:</strong> <span style="color: {{.ModeColor}}; font-weight: bold;">{{.Mode}}</span></td>
<td><strong>Duration:</strong> {{.Duration}}</td>
</tr></table>
{{if .Report.Error}}<p style="color: #dc3545;"><strong>Run aborted:</strong> {{.Report.Error}}</p>{{end}}
<h2>Summary</h2>
<table style="border-collapse: collapse;">
<tr><td>Rules processed</td><td style="text-align: right;"><b>{{.Report.Totals.RulesProcessed}}</b></td></tr>
<tr><td>Messages matched</td><td style="text-align: right;"><b>{{.Report.Totals.Matched}}</b></td></tr>
<tr><td>Actions succeeded</td><td style="text-align: right;"><b>{{.Report.Totals.Succeeded}}</b></td></tr>
<tr><td>Actions failed</td><td style="text-align: right; color: {{if .Report.Totals.Failed}}#dc3545{{else}}#6c757d{{end}};"><b>{{.Report.Totals.Failed}}</b></td></tr>
</table>
{{if .Report.Rules}}<h2>Rules</h2>
<table style="border-collapse: collapse; width: 100%;">
<tr><th align="left">Rule</th><th align="left">Status</th><th>Matched</th><th>OK</th><th>Failed</th></tr>
{{range .Report.Rules}}<tr><td>{{.RuleName}}</td><td>{{.Status}}</td><td align="right">{{.Matched}}</td><td align="right">{{.Succeeded}}</td><td align="right">{{.Failed}}</td></tr>
{{end}}</table>{{end}}
{{range .Report.Rules}}{{if .Actions}}<h3>{{.RuleName}}</h3>
{{range .Actions}}<div style="font-family: monospace; font-size: 12px;{{if .Error}} color: #dc3545;{{end}}">{{line .}}</div>
{{end}}{{end}}{{end}}
</body></html>
`))

func renderHTML(rep engine.Report, now time.Time) (string, error) {
	color := "#28a745"
	if rep.DryRun {
		color = "#fd7e14"
	}
	var buf bytes.Buffer
	err := htmlTemplate.Execute(&buf, struct {
		Report    engine.Report
		Date      string
		Mode      string
		ModeColor string
		Duration  string
	}{rep, now.Format("2006-01-02 15:04"), Mode(rep), color, FormatDuration(rep.Duration())})
	if err != nil {
		return "", fmt.Errorf("render html report: %w", err)
	}
	return buf.String(), nil
}

var _ engine.ReportSink = (*Mailer)(nil)
