package browser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/amishk599/hunter/internal/model"
)

const maxPageBytes = 10 << 20

// StaticDriver fetches pages over plain HTTP and queries the parsed DOM with
// CSS selectors. Links and form submissions navigate; everything that needs
// script execution returns ErrNotSupported. It serves server-rendered boards
// and forms without a Chrome dependency.
type StaticDriver struct {
	client *http.Client
	logger *slog.Logger
}

var _ Driver = (*StaticDriver)(nil)

// NewStaticDriver creates a driver using client for every request.
func NewStaticDriver(client *http.Client, logger *slog.Logger) *StaticDriver {
	return &StaticDriver{client: client, logger: logger}
}

func (d *StaticDriver) Open(_ context.Context, opts Options) (Session, error) {
	return &staticSession{
		client:    d.client,
		logger:    d.logger,
		userAgent: opts.UserAgent,
		files:     make(map[*html.Node][]string),
	}, nil
}

func (d *StaticDriver) Close() error { return nil }

type staticSession struct {
	client    *http.Client
	logger    *slog.Logger
	userAgent string

	url   *url.URL
	doc   *html.Node
	files map[*html.Node][]string
}

func (s *staticSession) Navigate(ctx context.Context, rawURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("browser: navigate %s: %w", rawURL, err)
	}
	return s.load(req)
}

func (s *staticSession) load(req *http.Request) error {
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("browser: %s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &model.HTTPError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("%s %s", req.Method, req.URL),
		}
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return fmt.Errorf("browser: parse %s: %w", req.URL, err)
	}

	s.url = resp.Request.URL
	s.doc = doc
	clear(s.files)
	return nil
}

func (s *staticSession) URL() string {
	if s.url == nil {
		return ""
	}
	return s.url.String()
}

func (s *staticSession) HTML(_ context.Context) (string, error) {
	if s.doc == nil {
		return "", nil
	}
	var buf bytes.Buffer
	if err := html.Render(&buf, s.doc); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (s *staticSession) Query(_ context.Context, selector string) (Element, error) {
	if s.doc == nil {
		return nil, nil
	}
	return queryOne(s, s.doc, selector)
}

func (s *staticSession) QueryAll(_ context.Context, selector string) ([]Element, error) {
	if s.doc == nil {
		return nil, nil
	}
	return queryAll(s, s.doc, selector)
}

// ScrollToBottom is a no-op: a static document never grows.
func (s *staticSession) ScrollToBottom(context.Context) error { return nil }

// ScrollHeight is the document size, constant between scrolls.
func (s *staticSession) ScrollHeight(ctx context.Context) (int, error) {
	h, err := s.HTML(ctx)
	return len(h), err
}

// Screenshot captures the rendered HTML in place of pixels.
func (s *staticSession) Screenshot(ctx context.Context) ([]byte, string, error) {
	h, err := s.HTML(ctx)
	if err != nil {
		return nil, "", err
	}
	return []byte(h), "text/html", nil
}

func (s *staticSession) Close() error {
	s.doc = nil
	return nil
}

func (s *staticSession) resolve(ref string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", err
	}
	if s.url == nil {
		return u.String(), nil
	}
	return s.url.ResolveReference(u).String(), nil
}

func queryOne(s *staticSession, root *html.Node, selector string) (Element, error) {
	sel, err := cascadia.ParseGroup(selector)
	if err != nil {
		return nil, fmt.Errorf("browser: selector %q: %w", selector, err)
	}
	n := cascadia.Query(root, sel)
	if n == nil {
		return nil, nil
	}
	return &staticElement{node: n, session: s}, nil
}

func queryAll(s *staticSession, root *html.Node, selector string) ([]Element, error) {
	sel, err := cascadia.ParseGroup(selector)
	if err != nil {
		return nil, fmt.Errorf("browser: selector %q: %w", selector, err)
	}
	nodes := cascadia.QueryAll(root, sel)
	out := make([]Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &staticElement{node: n, session: s})
	}
	return out, nil
}

type staticElement struct {
	node    *html.Node
	session *staticSession
}

func (e *staticElement) Text() (string, error) {
	return innerText(e.node), nil
}

func (e *staticElement) HTML() (string, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, e.node); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (e *staticElement) Attr(name string) (string, bool, error) {
	v, ok := attr(e.node, name)
	return v, ok, nil
}

func (e *staticElement) Tag() (string, error) {
	return e.node.Data, nil
}

func (e *staticElement) Query(selector string) (Element, error) {
	return queryOne(e.session, e.node, selector)
}

func (e *staticElement) QueryAll(selector string) ([]Element, error) {
	return queryAll(e.session, e.node, selector)
}

func (e *staticElement) Closest(selector string) (Element, error) {
	sel, err := cascadia.ParseGroup(selector)
	if err != nil {
		return nil, fmt.Errorf("browser: selector %q: %w", selector, err)
	}
	for n := e.node; n != nil; n = n.Parent {
		if n.Type == html.ElementNode && sel.Match(n) {
			return &staticElement{node: n, session: e.session}, nil
		}
	}
	return nil, nil
}

// Visible approximates visibility from markup: hidden inputs, the hidden
// attribute and inline display:none on the element or an ancestor.
func (e *staticElement) Visible() (bool, error) {
	if typ, _ := attr(e.node, "type"); e.node.DataAtom == atom.Input && strings.EqualFold(typ, "hidden") {
		return false, nil
	}
	for n := e.node; n != nil; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		if _, ok := attr(n, "hidden"); ok {
			return false, nil
		}
		style, _ := attr(n, "style")
		if strings.Contains(strings.ReplaceAll(strings.ToLower(style), " ", ""), "display:none") {
			return false, nil
		}
	}
	return true, nil
}

func (e *staticElement) Click(ctx context.Context) error {
	n := e.node
	switch n.DataAtom {
	case atom.A:
		href, ok := attr(n, "href")
		if !ok || strings.HasPrefix(strings.TrimSpace(href), "javascript:") || strings.HasPrefix(href, "#") {
			return ErrNotSupported
		}
		target, err := e.session.resolve(href)
		if err != nil {
			return fmt.Errorf("browser: resolve %q: %w", href, err)
		}
		return e.session.Navigate(ctx, target)
	case atom.Button, atom.Input:
		typ, _ := attr(n, "type")
		typ = strings.ToLower(typ)
		switch {
		case n.DataAtom == atom.Input && (typ == "checkbox" || typ == "radio"):
			checked := typ == "radio" || !hasAttr(n, "checked")
			return e.SetChecked(checked)
		case n.DataAtom == atom.Button && (typ == "" || typ == "submit"),
			n.DataAtom == atom.Input && (typ == "submit" || typ == "image"):
			form := closestForm(n)
			if form == nil {
				return ErrNotSupported
			}
			return e.session.submit(ctx, form, n)
		}
	}
	return ErrNotSupported
}

func (e *staticElement) Fill(value string) error {
	switch e.node.DataAtom {
	case atom.Input:
		setAttr(e.node, "value", value)
		return nil
	case atom.Textarea:
		for c := e.node.FirstChild; c != nil; {
			next := c.NextSibling
			e.node.RemoveChild(c)
			c = next
		}
		e.node.AppendChild(&html.Node{Type: html.TextNode, Data: value})
		return nil
	}
	return fmt.Errorf("browser: cannot fill <%s>", e.node.Data)
}

func (e *staticElement) Select(label string) error {
	if e.node.DataAtom != atom.Select {
		return fmt.Errorf("browser: cannot select on <%s>", e.node.Data)
	}
	want := strings.TrimSpace(label)
	var match *html.Node
	var options []*html.Node
	walk(e.node, func(n *html.Node) {
		if n.DataAtom == atom.Option {
			options = append(options, n)
			v, _ := attr(n, "value")
			if match == nil && (strings.EqualFold(innerText(n), want) || v == want) {
				match = n
			}
		}
	})
	if match == nil {
		return fmt.Errorf("browser: no option %q", label)
	}
	for _, o := range options {
		removeAttr(o, "selected")
	}
	setAttr(match, "selected", "selected")
	return nil
}

func (e *staticElement) SetChecked(checked bool) error {
	if !checked {
		removeAttr(e.node, "checked")
		return nil
	}
	if typ, _ := attr(e.node, "type"); strings.EqualFold(typ, "radio") {
		name, _ := attr(e.node, "name")
		if scope := closestForm(e.node); scope != nil && name != "" {
			walk(scope, func(n *html.Node) {
				if n.DataAtom == atom.Input {
					if nn, _ := attr(n, "name"); nn == name {
						removeAttr(n, "checked")
					}
				}
			})
		}
	}
	setAttr(e.node, "checked", "checked")
	return nil
}

func (e *staticElement) SetFiles(paths []string) error {
	if typ, _ := attr(e.node, "type"); e.node.DataAtom != atom.Input || !strings.EqualFold(typ, "file") {
		return fmt.Errorf("browser: <%s> is not a file input", e.node.Data)
	}
	e.session.files[e.node] = append([]string(nil), paths...)
	return nil
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
