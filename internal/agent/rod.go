package agent

import (
	"context"
	"fmt"
	"regexp"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// RodOptions configures the Chromium instance started for browser runs.
type RodOptions struct {
	Headless bool
	// Bin is the browser binary. Empty lets rod find or download one.
	Bin string
}

// RodLauncher returns a LaunchFunc that starts Chromium through go-rod.
func RodLauncher(opts RodOptions) LaunchFunc {
	return func(ctx context.Context) (Browser, error) {
		l := launcher.New().
			Leakless(true).
			Headless(opts.Headless)
		if opts.Bin != "" {
			l = l.Bin(opts.Bin)
		}

		controlURL, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chromium: %w", err)
		}

		browser := rod.New().ControlURL(controlURL).Context(ctx)
		if err := browser.Connect(); err != nil {
			l.Kill()
			return nil, fmt.Errorf("connect to chromium: %w", err)
		}
		return &rodBrowser{browser: browser, launcher: l}, nil
	}
}

type rodBrowser struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
}

func (b *rodBrowser) Open(ctx context.Context, url string) (Page, error) {
	page, err := b.browser.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, err
	}
	if err := page.Context(ctx).WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load: %w", err)
	}
	return &rodPage{page: page}, nil
}

func (b *rodBrowser) Close() error {
	err := b.browser.Close()
	b.launcher.Kill()
	return err
}

type rodPage struct {
	page *rod.Page
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	page := p.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return err
	}
	return page.WaitLoad()
}

func (p *rodPage) Click(ctx context.Context, selector string) error {
	el, err := p.page.Context(ctx).Element(selector)
	if err != nil {
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (p *rodPage) ClickText(ctx context.Context, text string) error {
	el, err := p.page.Context(ctx).ElementR(`button, a, [role="button"], input[type="submit"]`, "(?i)"+regexp.QuoteMeta(text))
	if err != nil {
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (p *rodPage) Fill(ctx context.Context, selector, value string) error {
	el, err := p.page.Context(ctx).Element(selector)
	if err != nil {
		return err
	}
	// Empty fields have nothing to select.
	_ = el.SelectAllText()
	return el.Input(value)
}

func (p *rodPage) Select(ctx context.Context, selector, value string) error {
	el, err := p.page.Context(ctx).Element(selector)
	if err != nil {
		return err
	}
	return el.Select([]string{value}, true, rod.SelectorTypeText)
}

func (p *rodPage) Upload(ctx context.Context, selector, path string) error {
	el, err := p.page.Context(ctx).Element(selector)
	if err != nil {
		return err
	}
	return el.SetFiles([]string{path})
}

func (p *rodPage) Text(ctx context.Context) (string, error) {
	el, err := p.page.Context(ctx).Element("body")
	if err != nil {
		return "", err
	}
	return el.Text()
}
