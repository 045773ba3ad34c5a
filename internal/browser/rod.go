package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// RodConfig configures the Chrome-backed driver.
type RodConfig struct {
	// RemoteURL is the WebSocket URL of an external Chrome. Empty launches
	// a local one.
	RemoteURL string
	Headless  bool
}

// RodDriver drives Chrome through the DevTools protocol. Chrome is started
// lazily on the first Open and shared; every session gets its own incognito
// context and stealth page.
type RodDriver struct {
	cfg    RodConfig
	logger *slog.Logger

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

var _ Driver = (*RodDriver)(nil)

// NewRodDriver creates a driver. Chrome is not launched until Open.
func NewRodDriver(cfg RodConfig, logger *slog.Logger) *RodDriver {
	return &RodDriver{cfg: cfg, logger: logger}
}

func (d *RodDriver) connect() (*rod.Browser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.browser != nil {
		return d.browser, nil
	}

	wsURL := d.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().
			Headless(d.cfg.Headless).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		d.lnch = l
		d.logger.Info("browser: launched local chrome", "headless", d.cfg.Headless)
	} else {
		d.logger.Info("browser: connecting to remote", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	d.browser = b
	return b, nil
}

// Open creates an isolated stealth page.
func (d *RodDriver) Open(ctx context.Context, opts Options) (Session, error) {
	b, err := d.connect()
	if err != nil {
		return nil, err
	}

	incognito, err := b.Incognito()
	if err != nil {
		return nil, fmt.Errorf("browser: incognito context: %w", err)
	}

	page, err := stealth.Page(incognito)
	if err != nil {
		incognito.Close()
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	if opts.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: opts.UserAgent}); err != nil {
			d.logger.Warn("browser: set user agent failed", "error", err)
		}
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:  ViewportWidth,
		Height: ViewportHeight,
	}); err != nil {
		d.logger.Warn("browser: set viewport failed", "error", err)
	}

	return &rodSession{page: page, context: incognito, logger: d.logger}, nil
}

// Close shuts Chrome down.
func (d *RodDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var err error
	if d.browser != nil {
		err = d.browser.Close()
		d.browser = nil
	}
	if d.lnch != nil {
		d.lnch.Cleanup()
		d.lnch = nil
	}
	return err
}

type rodSession struct {
	page    *rod.Page
	context *rod.Browser
	logger  *slog.Logger
}

func (s *rodSession) Navigate(ctx context.Context, url string) error {
	p := s.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		s.logger.Warn("browser: wait load timeout", "url", url, "error", err)
	}
	return nil
}

func (s *rodSession) URL() string {
	info, err := s.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (s *rodSession) HTML(ctx context.Context) (string, error) {
	html, err := s.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("browser: get DOM: %w", err)
	}
	return html, nil
}

func (s *rodSession) Query(ctx context.Context, selector string) (Element, error) {
	has, el, err := s.page.Context(ctx).Has(selector)
	if err != nil {
		return nil, fmt.Errorf("browser: query %q: %w", selector, err)
	}
	if !has {
		return nil, nil
	}
	return &rodElement{el: el, session: s}, nil
}

func (s *rodSession) QueryAll(ctx context.Context, selector string) ([]Element, error) {
	els, err := s.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("browser: query %q: %w", selector, err)
	}
	return s.wrap(els), nil
}

func (s *rodSession) ScrollToBottom(ctx context.Context) error {
	_, err := s.page.Context(ctx).Eval(`() => window.scrollTo(0, document.body.scrollHeight)`)
	return err
}

func (s *rodSession) ScrollHeight(ctx context.Context) (int, error) {
	res, err := s.page.Context(ctx).Eval(`() => document.body.scrollHeight`)
	if err != nil {
		return 0, err
	}
	return res.Value.Int(), nil
}

func (s *rodSession) Screenshot(ctx context.Context) ([]byte, string, error) {
	data, err := s.page.Context(ctx).Screenshot(true, nil)
	if err != nil {
		return nil, "", fmt.Errorf("browser: screenshot: %w", err)
	}
	return data, "image/png", nil
}

func (s *rodSession) Close() error {
	err := s.page.Close()
	if cerr := s.context.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *rodSession) wrap(els rod.Elements) []Element {
	out := make([]Element, 0, len(els))
	for _, el := range els {
		out = append(out, &rodElement{el: el, session: s})
	}
	return out
}

type rodElement struct {
	el      *rod.Element
	session *rodSession
}

func (e *rodElement) Text() (string, error) {
	return e.el.Text()
}

func (e *rodElement) HTML() (string, error) {
	return e.el.HTML()
}

func (e *rodElement) Attr(name string) (string, bool, error) {
	v, err := e.el.Attribute(name)
	if err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (e *rodElement) Tag() (string, error) {
	res, err := e.el.Eval(`() => this.tagName.toLowerCase()`)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (e *rodElement) Query(selector string) (Element, error) {
	has, el, err := e.el.Has(selector)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, nil
	}
	return &rodElement{el: el, session: e.session}, nil
}

func (e *rodElement) QueryAll(selector string) ([]Element, error) {
	els, err := e.el.Elements(selector)
	if err != nil {
		return nil, err
	}
	return e.session.wrap(els), nil
}

func (e *rodElement) Closest(selector string) (Element, error) {
	el, err := e.el.ElementByJS(rod.Eval(`(s) => this.closest(s)`, selector))
	if err != nil {
		var notFound *rod.ElementNotFoundError
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rodElement{el: el, session: e.session}, nil
}

func (e *rodElement) Visible() (bool, error) {
	return e.el.Visible()
}

func (e *rodElement) Click(ctx context.Context) error {
	if err := e.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("browser: click: %w", err)
	}
	if err := e.session.page.Context(ctx).WaitLoad(); err != nil {
		e.session.logger.Warn("browser: wait load after click", "error", err)
	}
	return nil
}

func (e *rodElement) Fill(value string) error {
	if err := e.el.SelectAllText(); err != nil {
		return err
	}
	if _, err := e.el.Eval(`() => { this.value = "" }`); err != nil {
		return err
	}
	return e.el.Input(value)
}

func (e *rodElement) Select(label string) error {
	return e.el.Select([]string{label}, true, rod.SelectorTypeText)
}

func (e *rodElement) SetChecked(checked bool) error {
	prop, err := e.el.Property("checked")
	if err != nil {
		return err
	}
	if prop.Bool() == checked {
		return nil
	}
	return e.el.Click(proto.InputMouseButtonLeft, 1)
}

func (e *rodElement) SetFiles(paths []string) error {
	return e.el.SetFiles(paths)
}
