package autoapply

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/amishk599/hunter/internal/browser"
	"github.com/amishk599/hunter/internal/model"
	"github.com/amishk599/hunter/internal/queue"
)

// ConfidenceThreshold is the lowest confidence at which a detected value is
// trusted without human input.
const ConfidenceThreshold = 0.7

// Field keys that carry no profile value.
const (
	KeyUnknown     = "unknown"
	KeyResume      = "resume"
	KeyCoverLetter = "cover_letter"
)

const patternConfidence = 0.85

type fieldRule struct {
	match *regexp.Regexp
	key   string
}

// fieldRules is evaluated in order; the first match wins.
var fieldRules = []fieldRule{
	{regexp.MustCompile(`first.?name|given.?name|fname`), "first_name"},
	{regexp.MustCompile(`last.?name|surname|family.?name|lname`), "last_name"},
	{regexp.MustCompile(`full.?name|your.?name|^name$`), "full_name"},
	{regexp.MustCompile(`e.?mail|email.?address`), "email"},
	{regexp.MustCompile(`phone|mobile|telephone|cell`), "phone"},
	{regexp.MustCompile(`linkedin`), "linkedin_url"},
	{regexp.MustCompile(`website|portfolio|personal.?site|url`), "website_url"},
	{regexp.MustCompile(`citizen|authorization|authorized|legally`), "us_citizen"},
	{regexp.MustCompile(`sponsor|visa`), "sponsorship_needed"},
	{regexp.MustCompile(`veteran|military`), "veteran_status"},
	{regexp.MustCompile(`disab`), "disability_status"},
	{regexp.MustCompile(`gender|sex`), "gender"},
	{regexp.MustCompile(`ethnic|race|demographic`), "ethnicity"},
}

var skippedInputTypes = map[string]bool{
	"hidden": true,
	"submit": true,
	"button": true,
	"image":  true,
}

// DetectFieldKey maps a control's text signals to a profile key and a base
// confidence.
func DetectFieldKey(inputType, label, name, placeholder, ariaLabel string) (string, float64) {
	signal := strings.TrimSpace(strings.ToLower(label + " " + name + " " + placeholder + " " + ariaLabel))
	if signal == "" {
		return KeyUnknown, 0
	}
	for _, r := range fieldRules {
		if r.match.MatchString(signal) {
			return r.key, patternConfidence
		}
	}
	if inputType == "file" || strings.Contains(signal, "resume") || strings.Contains(signal, "cv ") {
		return KeyResume, 0.9
	}
	if strings.Contains(signal, "cover") && strings.Contains(signal, "letter") {
		return KeyCoverLetter, 0.8
	}
	return KeyUnknown, 0.3
}

// ProfileValue returns the profile's answer for key and its confidence, or
// an empty value with zero confidence when the profile has none.
func ProfileValue(p model.Profile, key string) (string, float64) {
	yesNo := func(b *bool) (string, float64) {
		switch {
		case b == nil:
			return "", 0
		case *b:
			return "Yes", 0.9
		default:
			return "No", 0.9
		}
	}

	var v string
	switch key {
	case "full_name":
		if name := p.FullName(); name != "" {
			return name, 0.95
		}
		return "", 0
	case "us_citizen":
		return yesNo(p.USCitizen)
	case "sponsorship_needed":
		return yesNo(p.SponsorshipNeeded)
	case "first_name":
		v = p.FirstName
	case "last_name":
		v = p.LastName
	case "email":
		v = p.Email
	case "phone":
		v = p.Phone
	case "linkedin_url":
		v = p.LinkedInURL
	case "website_url":
		v = p.WebsiteURL
	case "veteran_status":
		v = p.VeteranStatus
	case "disability_status":
		v = p.DisabilityStatus
	case "gender":
		v = p.Gender
	case "ethnicity":
		v = p.Ethnicity
	}
	if v == "" {
		return "", 0
	}
	return v, 0.9
}

// analyzeFields inspects every input, select and textarea on the page and
// proposes a value for each from the profile.
func analyzeFields(ctx context.Context, sess browser.Session, p model.Profile, logger *slog.Logger) ([]model.DetectedField, error) {
	els, err := sess.QueryAll(ctx, "input, select, textarea")
	if err != nil {
		return nil, fmt.Errorf("listing form controls: %w", err)
	}

	fields := make([]model.DetectedField, 0, len(els))
	for _, el := range els {
		if err := queue.Checkpoint(ctx); err != nil {
			return nil, err
		}
		f, ok, err := describeField(ctx, sess, el, p)
		if err != nil {
			logger.Warn("analyzing form control failed", "error", err)
			continue
		}
		if ok {
			fields = append(fields, f)
		}
	}
	return fields, nil
}

func describeField(ctx context.Context, sess browser.Session, el browser.Element, p model.Profile) (model.DetectedField, bool, error) {
	tag, err := el.Tag()
	if err != nil {
		return model.DetectedField{}, false, err
	}
	tag = strings.ToLower(tag)
	attr := func(name string) string {
		v, _, _ := el.Attr(name)
		return v
	}
	inputType := strings.ToLower(attr("type"))
	if skippedInputTypes[inputType] {
		return model.DetectedField{}, false, nil
	}
	name, id := attr("name"), attr("id")
	placeholder, aria := attr("placeholder"), attr("aria-label")

	label := labelFor(ctx, sess, el, id)
	key, confidence := DetectFieldKey(inputType, label, name, placeholder, aria)

	f := model.DetectedField{Key: key}
	switch {
	case tag == "select":
		f.Type = "select"
		opts, err := el.QueryAll("option")
		if err != nil {
			return model.DetectedField{}, false, err
		}
		for _, o := range opts {
			if t, _ := o.Text(); strings.TrimSpace(t) != "" {
				f.Options = append(f.Options, strings.TrimSpace(t))
			}
		}
	case tag == "textarea":
		f.Type = "textarea"
	case inputType == "checkbox", inputType == "radio", inputType == "file":
		f.Type = inputType
	default:
		f.Type = "text"
	}

	if key != KeyUnknown && key != KeyResume && key != KeyCoverLetter {
		v, vc := ProfileValue(p, key)
		f.Value = v
		if v != "" {
			confidence = math.Min(confidence, vc)
		} else {
			confidence = 0
		}
	}

	f.Confidence = math.Round(confidence*100) / 100
	f.Status = model.FieldNeedsInput
	if f.Value != "" && f.Confidence >= ConfidenceThreshold {
		f.Status = model.FieldFilled
	}

	switch {
	case name != "":
		f.Name = name
		f.Selector = fmt.Sprintf("[name='%s']", cssString(name))
	case id != "":
		f.Name = id
		f.Selector = fmt.Sprintf("[id='%s']", cssString(id))
	default:
		f.Name = "unnamed_" + tag
	}
	f.Label = firstNonEmpty(label, placeholder, name, aria)
	return f, true, nil
}

func labelFor(ctx context.Context, sess browser.Session, el browser.Element, id string) string {
	if id != "" {
		l, err := sess.Query(ctx, fmt.Sprintf("label[for='%s']", cssString(id)))
		if err == nil && l != nil {
			if t, _ := l.Text(); strings.TrimSpace(t) != "" {
				return strings.TrimSpace(t)
			}
		}
	}
	l, err := el.Closest("label")
	if err != nil || l == nil {
		return ""
	}
	t, _ := l.Text()
	return strings.TrimSpace(t)
}

// fillFields writes every valued field into the page. Fields that cannot be
// written drop back to needs_input. File fields upload resumePath when it
// exists.
func fillFields(ctx context.Context, sess browser.Session, fields []model.DetectedField, resumePath string, logger *slog.Logger) ([]model.DetectedField, error) {
	out := make([]model.DetectedField, len(fields))
	copy(out, fields)

	for i := range out {
		f := &out[i]
		if f.Value == "" || f.Selector == "" {
			continue
		}
		if err := queue.Checkpoint(ctx); err != nil {
			return nil, err
		}

		el, err := sess.Query(ctx, f.Selector)
		if err != nil || el == nil {
			f.Status = model.FieldNeedsInput
			f.Value = ""
			continue
		}
		if err := fillOne(el, f, resumePath); err != nil {
			logger.Warn("filling field failed", "field", f.Name, "error", err)
			f.Status = model.FieldNeedsInput
			continue
		}
	}
	return out, nil
}

func fillOne(el browser.Element, f *model.DetectedField, resumePath string) error {
	switch f.Type {
	case "select":
		if err := el.Select(f.Value); err != nil {
			return err
		}
	case "checkbox", "radio":
		if err := el.SetChecked(truthy(f.Value)); err != nil {
			return err
		}
	case "file":
		path := resumePath
		if path == "" {
			path = f.Value
		}
		if _, err := os.Stat(path); err != nil {
			f.Status = model.FieldNeedsInput
			return nil
		}
		if err := el.SetFiles([]string{path}); err != nil {
			return err
		}
		f.Value = filepath.Base(path)
	default:
		if err := el.Fill(f.Value); err != nil {
			return err
		}
	}
	f.Status = model.FieldFilled
	return nil
}

// uploadResume attaches the resume to every file field not yet filled and
// reports how many were attached.
func uploadResume(ctx context.Context, sess browser.Session, fields []model.DetectedField, resumePath string, logger *slog.Logger) int {
	if resumePath == "" {
		return 0
	}
	if _, err := os.Stat(resumePath); err != nil {
		logger.Warn("resume file not readable", "path", resumePath, "error", err)
		return 0
	}

	uploaded := 0
	for i := range fields {
		f := &fields[i]
		if f.Type != "file" || f.Selector == "" {
			continue
		}
		f.Value = filepath.Base(resumePath)
		el, err := sess.Query(ctx, f.Selector)
		if err != nil || el == nil {
			continue
		}
		if err := el.SetFiles([]string{resumePath}); err != nil {
			logger.Warn("uploading resume failed", "field", f.Name, "error", err)
			f.Status = model.FieldNeedsInput
			continue
		}
		uploaded++
		// An unidentified file input gets the resume but still needs a
		// reviewer to confirm it is the right slot.
		if f.Confidence < ConfidenceThreshold {
			f.Status = model.FieldNeedsInput
			continue
		}
		f.Status = model.FieldFilled
	}
	return uploaded
}

// needsHumanReview reports whether any field is still missing a value or was
// detected with less than ConfidenceThreshold.
func needsHumanReview(fields []model.DetectedField) bool {
	for _, f := range fields {
		if f.Status == model.FieldNeedsInput || f.Confidence < ConfidenceThreshold {
			return true
		}
	}
	return false
}

// MergeReviewed applies reviewer-provided values by field name. A non-empty
// value marks the field filled with full confidence.
func MergeReviewed(fields []model.DetectedField, reviewed map[string]string) []model.DetectedField {
	out := make([]model.DetectedField, len(fields))
	copy(out, fields)
	for i := range out {
		v, ok := reviewed[out[i].Name]
		if !ok {
			continue
		}
		out[i].Value = v
		if v != "" {
			out[i].Status = model.FieldFilled
			out[i].Confidence = 1.0
		} else {
			out[i].Status = model.FieldNeedsInput
		}
	}
	return out
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "true", "1":
		return true
	}
	return false
}

func cssString(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
