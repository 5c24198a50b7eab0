package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/raphaelgruber/shadowops/internal/metrics"
	"github.com/raphaelgruber/shadowops/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mockSpec() models.ActAgentSpec {
	return models.ActAgentSpec{
		AgentID: "agent_cap_001_deadbeef",
		Name:    "Submit expense",
		Steps: []map[string]any{
			{"order": float64(2), "intent": "submit_form", "instruction": "Submit the expense form"},
			{"order": float64(1), "intent": "navigate", "instruction": "Open the app"},
			{"intent": "ignored", "instruction": "no order"},
		},
	}
}

func TestMockRunner(t *testing.T) {
	var progress []int
	r := NewMockRunner(discardLogger())
	res, err := r.Run(context.Background(), RunInput{
		RunID:      "run_abc123abc123",
		Spec:       mockSpec(),
		Parameters: map[string]any{"amount": "125.50"},
		Progress:   func(done, total int) { progress = append(progress, done) },
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, res.Status)
	assert.Equal(t, "run_abc123abc123", res.RunID)
	require.NotNil(t, res.ConfirmationID)
	assert.Regexp(t, regexp.MustCompile(`^EXP-2026-\d{6}$`), *res.ConfirmationID)
	assert.Equal(t, []string{
		"[execute] Starting agent: Submit expense",
		"[execute] Run ID: run_abc123abc123",
		`[execute] Parameters: {"amount": "125.50"}`,
		"[execute] Step 1: navigate – Open the app",
		"[execute] Step 2: submit_form – Submit the expense form",
		"[execute] All steps completed.",
		"[execute] Confirmation ID: " + *res.ConfirmationID,
	}, res.RunLog)
	assert.Equal(t, []int{1, 2}, progress)
}

func TestMockRunnerSimulate(t *testing.T) {
	res, err := NewMockRunner(discardLogger()).Run(context.Background(), RunInput{RunID: "run_x", Spec: mockSpec(), Simulate: true})
	require.NoError(t, err)
	for _, line := range res.RunLog {
		assert.True(t, strings.HasPrefix(line, "[simulate] "), line)
	}
}

func TestMockConfirmationIDStable(t *testing.T) {
	assert.Equal(t, MockConfirmationID("run_1"), MockConfirmationID("run_1"))
	assert.NotEqual(t, MockConfirmationID("run_1"), MockConfirmationID("run_2"))
}

func TestNewRunID(t *testing.T) {
	assert.Regexp(t, regexp.MustCompile(`^run_[0-9a-f]{12}$`), NewRunID())
}

// fakePage records calls and fails selectors listed in failures.
type fakePage struct {
	calls    []string
	failures map[string]int
	text     string
	uploaded []byte
}

func (p *fakePage) do(call string) error {
	p.calls = append(p.calls, call)
	if n := p.failures[call]; n > 0 {
		p.failures[call] = n - 1
		return errors.New("element not found")
	}
	return nil
}

func (p *fakePage) Navigate(ctx context.Context, url string) error { return p.do("navigate " + url) }
func (p *fakePage) Click(ctx context.Context, selector string) error {
	return p.do("click " + selector)
}
func (p *fakePage) ClickText(ctx context.Context, text string) error {
	return p.do("clicktext " + text)
}
func (p *fakePage) Fill(ctx context.Context, selector, value string) error {
	return p.do(fmt.Sprintf("fill %s=%s", selector, value))
}
func (p *fakePage) Select(ctx context.Context, selector, value string) error {
	return p.do(fmt.Sprintf("select %s=%s", selector, value))
}
func (p *fakePage) Upload(ctx context.Context, selector, path string) error {
	p.uploaded, _ = os.ReadFile(path)
	return p.do(fmt.Sprintf("upload %s=%s", selector, path))
}
func (p *fakePage) Text(ctx context.Context) (string, error) { return p.text, nil }

type fakeBrowser struct {
	page   *fakePage
	opened string
	closed bool
}

func (b *fakeBrowser) Open(ctx context.Context, url string) (Page, error) {
	b.opened = url
	return b.page, nil
}

func (b *fakeBrowser) Close() error {
	b.closed = true
	return nil
}

func browserSpec() models.ActAgentSpec {
	return models.ActAgentSpec{
		Name: "Submit expense",
		Steps: []map[string]any{
			{"order": 1.0, "intent": "navigate", "instruction": "Go to the app"},
			{"order": 2.0, "intent": "open_form", "instruction": "Open the new expense form (e.g. click 'New expense')"},
			{"order": 3.0, "intent": "upload_receipt", "instruction": "Attach receipt", "uses_parameters": []any{"receipt_file"}},
			{"order": 4.0, "intent": "fill_field", "instruction": "Fill fields", "uses_parameters": []any{"amount", "description"}},
			{"order": 5.0, "intent": "select", "instruction": "Pick category", "selector_hint": "#category", "uses_parameters": []any{"category"}},
			{"order": 6.0, "intent": "submit_form", "instruction": "Submit"},
			{"order": 7.0, "intent": "confirmation", "instruction": "Confirm if shown"},
		},
	}
}

// memReceipts serves receipt images from memory.
type memReceipts map[string][]byte

func (m memReceipts) Get(ctx context.Context, ref string) ([]byte, error) {
	data, ok := m[ref]
	if !ok {
		return nil, errors.New("blob not found")
	}
	return data, nil
}

func newTestRunner(b *fakeBrowser, collector *metrics.Collector) *BrowserRunner {
	launch := func(ctx context.Context) (Browser, error) { return b, nil }
	return NewBrowserRunner(launch, BrowserConfig{StartURL: "http://app.local", StepTimeout: time.Second}, collector, discardLogger())
}

func TestBrowserRunner(t *testing.T) {
	page := &fakePage{
		failures: map[string]int{"click " + submitSelector: 1},
		text:     "Submitted. Confirmation ID: EXP-2026-000042",
	}
	b := &fakeBrowser{page: page}
	collector := metrics.NewCollector()

	var progress [][2]int
	res, err := newTestRunner(b, collector).Run(context.Background(), RunInput{
		RunID: "run_1",
		Spec:  browserSpec(),
		Parameters: map[string]any{
			"amount":       "125.50",
			"category":     "Travel",
			"receipt_file": "/tmp/receipt.png",
		},
		Progress: func(done, total int) { progress = append(progress, [2]int{done, total}) },
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, res.Status)
	require.NotNil(t, res.ConfirmationID)
	assert.Equal(t, "EXP-2026-000042", *res.ConfirmationID)
	assert.Equal(t, "http://app.local", b.opened)
	assert.True(t, b.closed)

	assert.Equal(t, []string{
		"navigate http://app.local",
		"clicktext New expense",
		`upload input[type="file"]=/tmp/receipt.png`,
		`fill [name="amount"], [id="amount"]=125.50`,
		"select #category=Travel",
		"click " + submitSelector,
		"click " + submitSelector,
		// confirmation has no target, so nothing is clicked
	}, page.calls)

	assert.Contains(t, res.RunLog, "[browser] Skipping description: no value")
	assert.Contains(t, res.RunLog, "[browser] Confirmation ID: EXP-2026-000042")
	assert.Equal(t, [2]int{0, 7}, progress[0])
	assert.Equal(t, [2]int{7, 7}, progress[len(progress)-1])
	assert.Equal(t, int64(7), collector.Snapshot().BrowserStep.Count)
}

func TestBrowserRunnerStepFailure(t *testing.T) {
	page := &fakePage{failures: map[string]int{"click " + submitSelector: 2}}
	b := &fakeBrowser{page: page}

	res, err := newTestRunner(b, nil).Run(context.Background(), RunInput{RunID: "run_2", Spec: browserSpec()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "submit_form")
	assert.Equal(t, models.StatusFailed, res.Status)
	assert.Nil(t, res.ConfirmationID)
	assert.Contains(t, res.RunLog[len(res.RunLog)-1], "Step 6 failed")
	assert.True(t, b.closed)
}

func TestBrowserRunnerNoConfirmation(t *testing.T) {
	b := &fakeBrowser{page: &fakePage{text: "Expense saved"}}
	res, err := newTestRunner(b, nil).Run(context.Background(), RunInput{RunID: "run_3", Spec: mockSpec()})
	require.NoError(t, err)
	assert.Nil(t, res.ConfirmationID)
	assert.Equal(t, "[browser] No confirmation ID found on page.", res.RunLog[len(res.RunLog)-1])
}

func TestBrowserRunnerErrors(t *testing.T) {
	t.Run("no start url", func(t *testing.T) {
		r := NewBrowserRunner(nil, BrowserConfig{}, nil, discardLogger())
		_, err := r.Run(context.Background(), RunInput{RunID: "run_4", Spec: mockSpec()})
		assert.Error(t, err)
	})

	t.Run("launch failure", func(t *testing.T) {
		launch := func(ctx context.Context) (Browser, error) { return nil, errors.New("no chromium") }
		r := NewBrowserRunner(launch, BrowserConfig{StartURL: "http://app.local"}, nil, discardLogger())
		res, err := r.Run(context.Background(), RunInput{RunID: "run_5", Spec: mockSpec()})
		require.Error(t, err)
		assert.Equal(t, models.StatusFailed, res.Status)
		assert.Len(t, res.RunLog, 3)
	})
}

func TestBrowserRunnerUploadsStoredReceipt(t *testing.T) {
	const ref = "sha256:0f1e2d"
	png := []byte("\x89PNG\r\n\x1a\nreceipt-bytes")
	spec := models.ActAgentSpec{
		Name: "Upload",
		Steps: []map[string]any{
			{"order": 1.0, "intent": "upload_receipt", "instruction": "Attach receipt", "uses_parameters": []any{"receipt_file"}},
		},
	}
	launchWith := func(b *fakeBrowser) LaunchFunc {
		return func(ctx context.Context) (Browser, error) { return b, nil }
	}

	t.Run("blob reference", func(t *testing.T) {
		page := &fakePage{}
		r := NewBrowserRunner(launchWith(&fakeBrowser{page: page}), BrowserConfig{
			StartURL: "http://app.local",
			Receipts: memReceipts{ref: png},
		}, nil, discardLogger())

		_, err := r.Run(context.Background(), RunInput{RunID: "run_6", Spec: spec,
			Parameters: map[string]any{"receipt_file": ref}})
		require.NoError(t, err)
		assert.Equal(t, png, page.uploaded)
		require.Len(t, page.calls, 1)
		path := strings.TrimPrefix(page.calls[0], `upload input[type="file"]=`)
		assert.True(t, strings.HasSuffix(path, ".png"), path)
		_, statErr := os.Stat(path)
		assert.True(t, os.IsNotExist(statErr), "temp file removed after upload")
	})

	t.Run("missing blob fails the step", func(t *testing.T) {
		r := NewBrowserRunner(launchWith(&fakeBrowser{page: &fakePage{}}), BrowserConfig{
			StartURL: "http://app.local",
			Receipts: memReceipts{},
		}, nil, discardLogger())
		_, err := r.Run(context.Background(), RunInput{RunID: "run_7", Spec: spec,
			Parameters: map[string]any{"receipt_file": ref}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "load receipt")
	})

	t.Run("no store configured", func(t *testing.T) {
		r := NewBrowserRunner(launchWith(&fakeBrowser{page: &fakePage{}}), BrowserConfig{StartURL: "http://app.local"}, nil, discardLogger())
		_, err := r.Run(context.Background(), RunInput{RunID: "run_8", Spec: spec,
			Parameters: map[string]any{"receipt_file": ref}})
		assert.ErrorContains(t, err, "no receipt store")
	})
}

func TestFieldSelector(t *testing.T) {
	assert.Equal(t, `[name="2fa_code"], [id="2fa_code"]`, fieldSelector(Step{}, "2fa_code"))
	assert.Equal(t, "#amount", fieldSelector(Step{SelectorHint: "#amount", UsesParameters: []string{"amount"}}, "amount"))
	assert.Equal(t, `[name="a"], [id="a"]`,
		fieldSelector(Step{SelectorHint: "#form", UsesParameters: []string{"a", "b"}}, "a"))
}

func TestValueString(t *testing.T) {
	assert.Equal(t, "125.50", valueString("125.50"))
	assert.Equal(t, "125.5", valueString(125.5))
	assert.Equal(t, "3", valueString(int64(3)))
	assert.Equal(t, "true", valueString(true))
}

func TestQuotedPhrase(t *testing.T) {
	assert.Equal(t, "New expense", quotedPhrase("click 'New expense' now"))
	assert.Equal(t, "Save", quotedPhrase(`press "Save"`))
	assert.Equal(t, "", quotedPhrase("no quotes"))
}
