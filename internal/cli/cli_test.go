package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshsymonds/inboxrules/internal/config"
	"github.com/joshsymonds/inboxrules/internal/engine"
	"github.com/joshsymonds/inboxrules/internal/gmail"
	"github.com/joshsymonds/inboxrules/internal/gmail/gmailtest"
)

const testConfig = `
[retry]
initial_interval = "1ms"
max_interval = "1ms"
max_elapsed = "1s"
multiplier = 1.0
max_retries = 1

[rate]
requests_per_second = 1000
burst = 1000
`

type harness struct {
	t          *testing.T
	dir        string
	configPath string
	box        *gmailtest.Mailbox
	metrics    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		t:          t,
		dir:        dir,
		configPath: filepath.Join(dir, "inboxrules.toml"),
		metrics:    filepath.Join(dir, "inboxrules.prom"),
		box: gmailtest.New(
			gmail.Message{ID: "1", From: "news@shop.example", Subject: "Sale", Date: time.Now().Add(-time.Hour)},
			gmail.Message{ID: "2", From: "friend@example.com", Subject: "Lunch", Date: time.Now().Add(-time.Hour)},
			gmail.Message{ID: "3", From: "Shop <news@shop.example>", Subject: "Again", Date: time.Now().Add(-time.Hour)},
		),
	}
	require.NoError(t, os.WriteFile(h.configPath, []byte(testConfig), 0o600))
	creds := filepath.Join(dir, "credentials.json")
	require.NoError(t, os.WriteFile(creds, []byte(`{}`), 0o600))

	for key, value := range map[string]string{
		"INBOXRULES_CONFIG":           "",
		"DATABASE_PATH":               filepath.Join(dir, "db", "inboxrules.db"),
		"GMAIL_USER_EMAIL":            "me@example.com",
		"GOOGLE_CREDENTIALS_PATH":     creds,
		"GMAIL_CONFIG_DIR":            "",
		"LOG_PATH":                    "",
		"LOG_LEVEL":                   "info",
		"LOG_FORMAT":                  "text",
		"DRY_RUN":                     "false",
		"MAX_SEARCH_RESULTS":          "500",
		"SMTP_ENABLED":                "false",
		"METRICS_TEXTFILE":            h.metrics,
		"OTEL_EXPORTER_OTLP_ENDPOINT": "",
	} {
		t.Setenv(key, value)
	}
	return h
}

func (h *harness) exec(args ...string) (string, error) {
	h.t.Helper()
	app := &App{
		Stderr: io.Discard,
		NewClient: func(context.Context, config.GmailConfig, *slog.Logger) (gmail.Client, error) {
			return h.box, nil
		},
	}
	root := NewRootCommand(app)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	full := append([]string{"--config", h.configPath, "--env-file", filepath.Join(h.dir, "missing.env")}, args...)
	root.SetArgs(full)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (h *harness) mustExec(args ...string) string {
	h.t.Helper()
	out, err := h.exec(args...)
	require.NoError(h.t, err, out)
	return out
}

func (h *harness) addNewsletterRule() {
	h.t.Helper()
	h.mustExec("rules", "add", "--name", "newsletters", "--field", "from", "--value", "news@shop.example", "--action", "archive")
}

func TestRulesLifecycle(t *testing.T) {
	h := newHarness(t)
	out := h.mustExec("rules", "add", "--name", "newsletters", "--field", "from", "--value", "news@shop.example", "--action", "archive")
	assert.Contains(t, out, `created rule 1 "newsletters": sender contains "news@shop.example" -> archive`)

	h.mustExec("rules", "add", "--name", "old promos", "--field", "subject", "--operator", "regex",
		"--value", "promo|deal", "--action", "trash", "--older-than", "30")

	out = h.mustExec("rules", "list")
	assert.Contains(t, out, "newsletters")
	assert.Contains(t, out, `subject matches "promo|deal" older than 30d`)

	out = h.mustExec("rules", "update", "newsletters", "--value", "digest@shop.example")
	assert.Contains(t, out, `sender contains "digest@shop.example" -> archive`)

	out = h.mustExec("rules", "disable", "1")
	assert.Contains(t, out, `rule 1 "newsletters" disabled`)
	out = h.mustExec("rules", "list", "--enabled")
	assert.NotContains(t, out, "newsletters")

	out = h.mustExec("rules", "toggle", "newsletters")
	assert.Contains(t, out, "enabled")

	out = h.mustExec("rules", "delete", "old promos")
	assert.Contains(t, out, `deleted rule 2 "old promos"`)

	_, err := h.exec("rules", "delete", "old promos")
	require.Error(t, err)
}

func TestRulesAddRejectsBadInput(t *testing.T) {
	h := newHarness(t)
	_, err := h.exec("rules", "add", "--name", "x", "--field", "cc", "--value", "a", "--action", "archive")
	require.Error(t, err)
	_, err = h.exec("rules", "add", "--name", "x", "--field", "subject", "--value", "a", "--action", "star")
	require.Error(t, err)

	h.addNewsletterRule()
	_, err = h.exec("rules", "add", "--name", "newsletters", "--field", "subject", "--value", "a", "--action", "archive")
	require.Error(t, err)
}

func TestRulesAddAgeOnly(t *testing.T) {
	h := newHarness(t)
	out := h.mustExec("rules", "add", "--name", "stale", "--field", "subject", "--action", "archive", "--older-than", "0")
	assert.Contains(t, out, `created rule 1 "stale": any message older than 0d -> archive`)

	_, err := h.exec("rules", "add", "--name", "everything", "--field", "subject", "--action", "archive")
	require.Error(t, err)

	h.mustExec("run", "--dry-run")
	out = h.mustExec("rules", "list", "--json")
	assert.Contains(t, out, `"matched": 3`)
}

func TestRunDryRun(t *testing.T) {
	h := newHarness(t)
	h.addNewsletterRule()

	out := h.mustExec("run", "--dry-run")
	assert.Contains(t, out, "DRY RUN")
	assert.Empty(t, h.box.Modifications)

	out = h.mustExec("history")
	assert.Contains(t, out, `[DRY RUN] would archive: "Sale" from news@shop.example`)

	out = h.mustExec("rules", "list", "--json")
	assert.Contains(t, out, `"runs": 1`)
	assert.Contains(t, out, `"matched": 2`)
	assert.Contains(t, out, `"succeeded": 0`)

	data, err := os.ReadFile(h.metrics)
	require.NoError(t, err)
	assert.Contains(t, string(data), `inboxrules_rule_matched{rule="newsletters"} 2`)
}

func TestRunLive(t *testing.T) {
	h := newHarness(t)
	h.addNewsletterRule()

	out := h.mustExec("run")
	assert.Contains(t, out, "LIVE")
	require.Len(t, h.box.Modifications, 2)
	assert.Equal(t, gmail.MutationArchive, h.box.Modifications[0].Mutation)

	out = h.mustExec("history", "runs")
	assert.Contains(t, out, "completed")

	out = h.mustExec("stats")
	assert.Contains(t, out, "successful")
	assert.Contains(t, out, "2")
}

func TestRunConnectionTest(t *testing.T) {
	h := newHarness(t)
	h.addNewsletterRule()
	out := h.mustExec("run", "--test")
	assert.Equal(t, "Connected as me@example.com\n", out)
	assert.Zero(t, h.box.SearchCalls)
}

func TestRunAbortsOnAuthFailure(t *testing.T) {
	h := newHarness(t)
	h.addNewsletterRule()
	h.box.SearchErrs = []error{&gmail.APIError{Op: "list", Code: 401}}

	out, err := h.exec("run")
	require.Error(t, err)
	require.ErrorIs(t, err, engine.ErrAborted)
	assert.Contains(t, out, "ABORTED")

	out = h.mustExec("history", "runs")
	assert.Contains(t, out, "aborted")
}

func TestRunRequiresCredentials(t *testing.T) {
	h := newHarness(t)
	t.Setenv("GOOGLE_CREDENTIALS_PATH", filepath.Join(h.dir, "nope.json"))
	_, err := h.exec("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credentials file not found")

	// local commands do not need the mailbox
	h.mustExec("rules", "list")
}

func TestLintCommand(t *testing.T) {
	h := newHarness(t)
	h.addNewsletterRule()
	out := h.mustExec("lint")
	assert.Contains(t, out, "no findings")

	h.mustExec("rules", "add", "--name", "broken", "--field", "subject", "--operator", "regex", "--value", "([", "--action", "delete")
	out, err := h.exec("lint")
	require.Error(t, err)
	assert.Contains(t, out, "invalid rules:")

	_, err = h.exec("lint", "--fail-on", "dead")
	require.NoError(t, err)

	_, err = h.exec("lint", "--fail-on", "bogus")
	require.Error(t, err)
}

func TestImportGmailctl(t *testing.T) {
	h := newHarness(t)
	export := filepath.Join(h.dir, "filters.json")
	require.NoError(t, os.WriteFile(export, []byte(`{"filters": [
		{"name": "shop", "criteria": {"from": "news@shop.example"}, "action": {"removeLabelIds": ["INBOX"]}},
		{"name": "star", "criteria": {"from": "boss@example.com"}, "action": {"addLabelIds": ["STARRED"]}}
	]}`), 0o600))

	out := h.mustExec("rules", "import-gmailctl", "--file", export, "--dry-run")
	assert.Contains(t, out, `would import "gmailctl: shop"`)

	out = h.mustExec("rules", "import-gmailctl", "--file", export)
	assert.Contains(t, out, "1 rule(s) imported, 1 filter(s) skipped")

	out = h.mustExec("rules", "import-gmailctl", "--file", export)
	assert.Contains(t, out, `exists "gmailctl: shop"`)

	out = h.mustExec("rules", "list", "--enabled")
	assert.Contains(t, out, "no rules")
}

func TestHistoryClear(t *testing.T) {
	h := newHarness(t)
	h.addNewsletterRule()
	h.mustExec("run")

	out := h.mustExec("history", "clear", "--days", "1")
	assert.Contains(t, out, "removed 0 action(s)")
	time.Sleep(5 * time.Millisecond)
	out = h.mustExec("history", "clear", "--days", "0")
	assert.Contains(t, out, "removed 2 action(s)")
	out = h.mustExec("history")
	assert.Contains(t, out, "no actions recorded")
}
