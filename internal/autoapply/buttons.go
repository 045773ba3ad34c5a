package autoapply

import (
	"context"
	"strings"

	"github.com/amishk599/hunter/internal/browser"
)

var applyTexts = []string{
	"Apply for this Job",
	"Apply Now",
	"Apply for this Position",
	"Apply to this Job",
	"Apply",
}

var applySelectors = []string{
	`[data-testid="apply-button"]`,
	".apply-button",
	"#apply-button",
}

var submitSelectors = []string{
	`button[type="submit"]`,
	`input[type="submit"]`,
}

var submitTexts = []string{"Submit", "Apply", "Send"}

// findApplyButton looks for the control that leads from a job description to
// its application form. Submit buttons inside a form are never returned so
// that the click-through cannot send an application.
func findApplyButton(ctx context.Context, sess browser.Session) browser.Element {
	for _, text := range applyTexts {
		for _, tag := range []string{"a", "button"} {
			if el := findByText(ctx, sess, tag, text, true); el != nil {
				return el
			}
		}
	}
	for _, sel := range applySelectors {
		if el := firstVisible(ctx, sess, sel, true); el != nil {
			return el
		}
	}
	return nil
}

func findSubmitButton(ctx context.Context, sess browser.Session) browser.Element {
	for _, sel := range submitSelectors {
		if el := firstVisible(ctx, sess, sel, false); el != nil {
			return el
		}
	}
	for _, text := range submitTexts {
		if el := findByText(ctx, sess, "button", text, false); el != nil {
			return el
		}
	}
	return nil
}

// findByText returns the first visible tag element whose text contains text,
// ignoring case.
func findByText(ctx context.Context, sess browser.Session, tag, text string, skipSubmit bool) browser.Element {
	els, err := sess.QueryAll(ctx, tag)
	if err != nil {
		return nil
	}
	want := strings.ToLower(text)
	for _, el := range els {
		t, err := el.Text()
		if err != nil || !strings.Contains(strings.ToLower(t), want) {
			continue
		}
		if usable(el, skipSubmit) {
			return el
		}
	}
	return nil
}

func firstVisible(ctx context.Context, sess browser.Session, selector string, skipSubmit bool) browser.Element {
	els, err := sess.QueryAll(ctx, selector)
	if err != nil {
		return nil
	}
	for _, el := range els {
		if usable(el, skipSubmit) {
			return el
		}
	}
	return nil
}

func usable(el browser.Element, skipSubmit bool) bool {
	if ok, err := el.Visible(); err != nil || !ok {
		return false
	}
	return !skipSubmit || !submitsForm(el)
}

func submitsForm(el browser.Element) bool {
	tag, _ := el.Tag()
	typ, _, _ := el.Attr("type")
	typ = strings.ToLower(typ)
	switch strings.ToLower(tag) {
	case "button":
		if typ != "" && typ != "submit" {
			return false
		}
	case "input":
		if typ != "submit" && typ != "image" {
			return false
		}
	default:
		return false
	}
	form, err := el.Closest("form")
	return err == nil && form != nil
}
