package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/raphaelgruber/shadowops/internal/metrics"
	"github.com/raphaelgruber/shadowops/internal/models"
)

// Browser is a launched browser session.
type Browser interface {
	Open(ctx context.Context, url string) (Page, error)
	Close() error
}

// Page is the set of page operations the runner needs. Selectors are CSS.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	ClickText(ctx context.Context, text string) error
	Fill(ctx context.Context, selector, value string) error
	Select(ctx context.Context, selector, value string) error
	Upload(ctx context.Context, selector, path string) error
	Text(ctx context.Context) (string, error)
}

// LaunchFunc starts a browser.
type LaunchFunc func(ctx context.Context) (Browser, error)

// ReceiptSource loads stored receipt images by "sha256:" reference.
type ReceiptSource interface {
	Get(ctx context.Context, ref string) ([]byte, error)
}

const (
	browserPrefix      = "browser"
	defaultStepTimeout = 30 * time.Second
	submitSelector     = `button[type="submit"], input[type="submit"]`
	uploadSelector     = `input[type="file"]`
	receiptRefPrefix   = "sha256:"
)

var quotedText = regexp.MustCompile(`'([^']+)'|"([^"]+)"`)

// BrowserRunner executes agent steps against a real browser.
type BrowserRunner struct {
	launch      LaunchFunc
	startURL    string
	stepTimeout time.Duration
	receipts    ReceiptSource
	collector   *metrics.Collector
	logger      *slog.Logger
}

// BrowserConfig configures a BrowserRunner.
type BrowserConfig struct {
	StartURL    string
	StepTimeout time.Duration
	// Receipts resolves receipt_file values given as blob references.
	Receipts ReceiptSource
}

// NewBrowserRunner creates a runner that launches a browser per run.
func NewBrowserRunner(launch LaunchFunc, cfg BrowserConfig, collector *metrics.Collector, logger *slog.Logger) *BrowserRunner {
	timeout := cfg.StepTimeout
	if timeout <= 0 {
		timeout = defaultStepTimeout
	}
	return &BrowserRunner{
		launch:      launch,
		startURL:    cfg.StartURL,
		stepTimeout: timeout,
		receipts:    cfg.Receipts,
		collector:   collector,
		logger:      logger,
	}
}

// Run implements Runner. A failing step ends the run; the partial log is
// returned with status failed.
func (r *BrowserRunner) Run(ctx context.Context, in RunInput) (models.ExecutionResult, error) {
	result := models.ExecutionResult{
		Status: models.StatusFailed,
		RunID:  in.RunID,
		RunLog: []string{
			fmt.Sprintf("[%s] Starting agent: %s", browserPrefix, in.Spec.Name),
			fmt.Sprintf("[%s] Run ID: %s", browserPrefix, in.RunID),
			fmt.Sprintf("[%s] Parameters: %s", browserPrefix, formatParameters(in.Parameters)),
		},
	}
	logf := func(format string, args ...any) {
		result.RunLog = append(result.RunLog, fmt.Sprintf("["+browserPrefix+"] "+format, args...))
	}

	if r.startURL == "" {
		return result, errors.New("no start URL configured (ACT_START_URL)")
	}

	browser, err := r.launch(ctx)
	if err != nil {
		return result, fmt.Errorf("launch browser: %w", err)
	}
	defer func() {
		if err := browser.Close(); err != nil {
			r.logger.Warn("close browser", "run_id", in.RunID, "error", err)
		}
	}()

	page, err := browser.Open(ctx, r.startURL)
	if err != nil {
		return result, fmt.Errorf("open %s: %w", r.startURL, err)
	}
	logf("Opened %s", r.startURL)

	steps := OrderedSteps(in.Spec)
	in.report(0, len(steps))

	for i, step := range steps {
		result.RunLog = append(result.RunLog, stepLine(browserPrefix, i+1, step))

		start := time.Now()
		err := r.runStep(ctx, page, step, in.Parameters, logf)
		if err != nil {
			r.collector.RecordFailure(metrics.OpBrowserStep)
			logf("Step %d failed: %v", i+1, err)
			r.logger.Warn("browser step failed",
				"run_id", in.RunID, "step", i+1, "intent", step.Intent, "error", err)
			return result, fmt.Errorf("step %d (%s): %w", i+1, step.Intent, err)
		}
		r.collector.RecordTiming(metrics.OpBrowserStep, time.Since(start))
		in.report(i+1, len(steps))
	}
	logf("All steps completed.")

	result.Status = models.StatusCompleted
	textCtx, cancel := context.WithTimeout(ctx, r.stepTimeout)
	defer cancel()
	text, err := page.Text(textCtx)
	if err != nil {
		r.logger.Warn("read page text", "run_id", in.RunID, "error", err)
	}
	if id := ExtractConfirmationID(text); id != "" {
		result.ConfirmationID = &id
		logf("Confirmation ID: %s", id)
	} else {
		logf("No confirmation ID found on page.")
	}
	return result, nil
}

func (r *BrowserRunner) runStep(ctx context.Context, page Page, step Step, params map[string]any, logf func(string, ...any)) error {
	switch step.Intent {
	case "navigate":
		target := r.startURL
		if strings.HasPrefix(step.SelectorHint, "http://") || strings.HasPrefix(step.SelectorHint, "https://") {
			target = step.SelectorHint
		}
		return r.withTimeout(ctx, func(ctx context.Context) error {
			return page.Navigate(ctx, target)
		})

	case "open_form", "click":
		return r.withTimeout(ctx, func(ctx context.Context) error {
			return clickTarget(ctx, page, step)
		})

	case "fill_field", "select", "upload_receipt":
		for _, name := range step.UsesParameters {
			value, ok := params[name]
			if !ok || value == nil {
				logf("Skipping %s: no value", name)
				continue
			}
			selector := fieldSelector(step, name)
			err := r.withTimeout(ctx, func(ctx context.Context) error {
				switch step.Intent {
				case "select":
					return page.Select(ctx, selector, valueString(value))
				case "upload_receipt":
					if step.SelectorHint == "" {
						selector = uploadSelector
					}
					path, cleanup, err := r.receiptFile(ctx, valueString(value))
					if err != nil {
						return err
					}
					defer cleanup()
					return page.Upload(ctx, selector, path)
				default:
					return page.Fill(ctx, selector, valueString(value))
				}
			})
			if err != nil {
				return fmt.Errorf("%s %q: %w", step.Intent, name, err)
			}
		}
		return nil

	case "submit_form":
		return r.withRetry(ctx, func(ctx context.Context) error {
			selector := step.SelectorHint
			if selector == "" {
				selector = submitSelector
			}
			return page.Click(ctx, selector)
		})

	case "confirmation":
		// Confirmation dialogs are optional; absence is not a failure.
		err := r.withRetry(ctx, func(ctx context.Context) error {
			return clickTarget(ctx, page, step)
		})
		if err != nil {
			logf("No confirmation step shown (%v)", err)
		}
		return nil

	default:
		if step.SelectorHint == "" {
			logf("Skipping unsupported intent %q", step.Intent)
			return nil
		}
		return r.withTimeout(ctx, func(ctx context.Context) error {
			return page.Click(ctx, step.SelectorHint)
		})
	}
}

func (r *BrowserRunner) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	stepCtx, cancel := context.WithTimeout(ctx, r.stepTimeout)
	defer cancel()
	return fn(stepCtx)
}

// withRetry runs fn up to twice, each attempt with its own timeout.
func (r *BrowserRunner) withRetry(ctx context.Context, fn func(context.Context) error) error {
	err := r.withTimeout(ctx, fn)
	if err == nil || ctx.Err() != nil {
		return err
	}
	r.logger.Debug("retrying browser step", "error", err)
	return r.withTimeout(ctx, fn)
}

func clickTarget(ctx context.Context, page Page, step Step) error {
	if step.SelectorHint != "" {
		return page.Click(ctx, step.SelectorHint)
	}
	if text := quotedPhrase(step.Instruction); text != "" {
		return page.ClickText(ctx, text)
	}
	return fmt.Errorf("no selector or quoted label in %q", step.Instruction)
}

// quotedPhrase returns the first single- or double-quoted phrase in s.
func quotedPhrase(s string) string {
	m := quotedText.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}

// receiptFile returns a local path for an upload value. Blob references are
// written to a temp file that cleanup removes; anything else is a path already.
func (r *BrowserRunner) receiptFile(ctx context.Context, value string) (string, func(), error) {
	noop := func() {}
	if !strings.HasPrefix(value, receiptRefPrefix) {
		return value, noop, nil
	}
	if r.receipts == nil {
		return "", noop, fmt.Errorf("no receipt store to resolve %s", value)
	}
	data, err := r.receipts.Get(ctx, value)
	if err != nil {
		return "", noop, fmt.Errorf("load receipt: %w", err)
	}

	ext := ""
	if exts, _ := mime.ExtensionsByType(http.DetectContentType(data)); len(exts) > 0 {
		ext = exts[0]
	}
	f, err := os.CreateTemp("", "receipt-*"+ext)
	if err != nil {
		return "", noop, fmt.Errorf("create receipt file: %w", err)
	}
	cleanup := func() { _ = os.Remove(f.Name()) }
	if _, err := f.Write(data); err != nil {
		f.Close()
		cleanup()
		return "", noop, fmt.Errorf("write receipt file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", noop, fmt.Errorf("close receipt file: %w", err)
	}
	return f.Name(), cleanup, nil
}

// fieldSelector uses the hint for single-parameter steps and falls back to
// name/id matching. Attribute selectors keep names such as "2fa_code" valid.
func fieldSelector(step Step, name string) string {
	if step.SelectorHint != "" && len(step.UsesParameters) == 1 {
		return step.SelectorHint
	}
	return fmt.Sprintf(`[name=%q], [id=%q]`, name, name)
}

func valueString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
