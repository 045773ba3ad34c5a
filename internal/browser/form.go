package browser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

type formValue struct {
	name  string
	value string
	files []string
}

// submit serializes form the way a browser would for a click on submitter
// and loads the response as the new page.
func (s *staticSession) submit(ctx context.Context, form, submitter *html.Node) error {
	method := http.MethodGet
	if m, _ := attr(form, "method"); strings.EqualFold(m, "post") {
		method = http.MethodPost
	}
	action, _ := attr(form, "action")
	target, err := s.resolve(action)
	if err != nil {
		return fmt.Errorf("browser: form action %q: %w", action, err)
	}

	values := s.collect(form, submitter)
	enctype, _ := attr(form, "enctype")

	var req *http.Request
	switch {
	case method == http.MethodGet:
		u, err := url.Parse(target)
		if err != nil {
			return err
		}
		u.RawQuery = encodeValues(values).Encode()
		req, err = http.NewRequestWithContext(ctx, method, u.String(), nil)
		if err != nil {
			return err
		}
	case strings.EqualFold(enctype, "multipart/form-data"):
		body, contentType, err := multipartBody(values)
		if err != nil {
			return err
		}
		req, err = http.NewRequestWithContext(ctx, method, target, body)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", contentType)
	default:
		req, err = http.NewRequestWithContext(ctx, method, target,
			strings.NewReader(encodeValues(values).Encode()))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	if s.url != nil {
		req.Header.Set("Referer", s.url.String())
	}
	return s.load(req)
}

func (s *staticSession) collect(form, submitter *html.Node) []formValue {
	var out []formValue
	walk(form, func(n *html.Node) {
		name, _ := attr(n, "name")
		if name == "" || hasAttr(n, "disabled") {
			return
		}
		switch n.DataAtom {
		case atom.Input:
			typ, _ := attr(n, "type")
			val, _ := attr(n, "value")
			switch strings.ToLower(typ) {
			case "checkbox", "radio":
				if !hasAttr(n, "checked") {
					return
				}
				if val == "" {
					val = "on"
				}
			case "submit", "image", "button", "reset":
				if n != submitter {
					return
				}
			case "file":
				out = append(out, formValue{name: name, files: s.files[n]})
				return
			}
			out = append(out, formValue{name: name, value: val})
		case atom.Textarea:
			out = append(out, formValue{name: name, value: textContent(n)})
		case atom.Select:
			if v, ok := selectedOption(n); ok {
				out = append(out, formValue{name: name, value: v})
			}
		case atom.Button:
			if n == submitter {
				val, _ := attr(n, "value")
				out = append(out, formValue{name: name, value: val})
			}
		}
	})
	return out
}

func selectedOption(sel *html.Node) (string, bool) {
	var first, selected *html.Node
	walk(sel, func(n *html.Node) {
		if n.DataAtom != atom.Option {
			return
		}
		if first == nil {
			first = n
		}
		if selected == nil && hasAttr(n, "selected") {
			selected = n
		}
	})
	if selected == nil {
		selected = first
	}
	if selected == nil {
		return "", false
	}
	if v, ok := attr(selected, "value"); ok {
		return v, true
	}
	return innerText(selected), true
}

func textContent(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

func encodeValues(values []formValue) url.Values {
	v := url.Values{}
	for _, fv := range values {
		if fv.files != nil {
			for _, p := range fv.files {
				v.Add(fv.name, filepath.Base(p))
			}
			continue
		}
		v.Add(fv.name, fv.value)
	}
	return v
}

func multipartBody(values []formValue) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, fv := range values {
		if fv.files == nil {
			if err := w.WriteField(fv.name, fv.value); err != nil {
				return nil, "", err
			}
			continue
		}
		for _, p := range fv.files {
			if err := attachFile(w, fv.name, p); err != nil {
				return nil, "", err
			}
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func attachFile(w *multipart.Writer, field, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("browser: attach %s: %w", path, err)
	}
	defer f.Close()

	part, err := w.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}
