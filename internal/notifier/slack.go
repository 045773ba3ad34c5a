package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/amishk599/hunter/internal/model"
)

// Ensure SlackNotifier implements model.Notifier.
var _ model.Notifier = (*SlackNotifier)(nil)

// SlackNotifier sends alerts to a Slack channel via Incoming Webhooks.
type SlackNotifier struct {
	webhookURL string
	httpClient *http.Client
	logger     *slog.Logger
	spacing    time.Duration
}

// NewSlackNotifier returns a notifier that posts to Slack via webhook.
func NewSlackNotifier(webhookURL string, httpClient *http.Client, logger *slog.Logger) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		httpClient: httpClient,
		logger:     logger,
		spacing:    500 * time.Millisecond,
	}
}

// NotifyListings sends each listing as a separate Slack message using Block Kit.
// Returns an error only if ALL messages fail. Individual failures are logged.
func (s *SlackNotifier) NotifyListings(ctx context.Context, board model.Board, listings []model.Listing) error {
	if len(listings) == 0 {
		return nil
	}

	failures := 0
	for i, l := range listings {
		if i > 0 {
			if err := sleep(ctx, s.spacing); err != nil {
				return err
			}
		}

		if err := s.send(ctx, listingPayload(board, l)); err != nil {
			s.logger.Error("slack notification failed", "company", l.Company, "title", l.Title, "error", err)
			failures++
		}
	}

	sent := len(listings) - failures
	if failures == len(listings) {
		return fmt.Errorf("all %d slack notifications failed", failures)
	}
	s.logger.Info("slack notifications complete", "sent", sent, "failed", failures)
	return nil
}

// NotifyReview tells the reviewer an application is paused for them.
func (s *SlackNotifier) NotifyReview(ctx context.Context, app model.Application, listing model.Listing) error {
	if err := s.send(ctx, reviewPayload(app, listing)); err != nil {
		return fmt.Errorf("slack review notification: %w", err)
	}
	return nil
}

func (s *SlackNotifier) send(ctx context.Context, payload slackPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	status, retryAfter, err := s.post(ctx, body)
	if err != nil {
		return err
	}
	if status == http.StatusTooManyRequests {
		s.logger.Warn("slack rate limited, retrying", "retry_after", retryAfter)
		if err := sleep(ctx, retryAfter); err != nil {
			return err
		}
		status, _, err = s.post(ctx, body)
		if err != nil {
			return fmt.Errorf("post to slack (retry): %w", err)
		}
		if status != http.StatusOK {
			return fmt.Errorf("slack returned %d on retry", status)
		}
		return nil
	}
	if status != http.StatusOK {
		return fmt.Errorf("slack returned %d", status)
	}
	return nil
}

func (s *SlackNotifier) post(ctx context.Context, body []byte) (int, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, 0, fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("post to slack: %w", err)
	}
	defer resp.Body.Close()

	secs, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
	if secs <= 0 {
		secs = 1
	}
	return resp.StatusCode, time.Duration(secs) * time.Second, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Block Kit payload types.

type slackPayload struct {
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type     string         `json:"type"`
	Text     *slackText     `json:"text,omitempty"`
	Fields   []slackText    `json:"fields,omitempty"`
	Elements []slackElement `json:"elements,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackElement struct {
	Type  string    `json:"type"`
	Text  slackText `json:"text"`
	URL   string    `json:"url"`
	Style string    `json:"style"`
}

// SendTestMessage sends a dummy listing notification to verify the integration works.
func SendTestMessage(ctx context.Context, n model.Notifier) error {
	minSalary, maxSalary := 150000, 190000
	board := model.Board{Name: "hunter-test"}
	listing := model.Listing{
		ID:         "test-001",
		Company:    "Hunter Test",
		Title:      "Test Notification: Integration Verified",
		Location:   "Everywhere",
		URL:        "https://example.com/jobs/test",
		SalaryMin:  &minSalary,
		SalaryMax:  &maxSalary,
		MatchScore: 100,
	}
	return n.NotifyListings(ctx, board, []model.Listing{listing})
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func salaryText(l model.Listing) string {
	switch {
	case l.SalaryMin != nil && l.SalaryMax != nil:
		return fmt.Sprintf("$%d - $%d", *l.SalaryMin, *l.SalaryMax)
	case l.SalaryMin != nil:
		return fmt.Sprintf("from $%d", *l.SalaryMin)
	case l.SalaryMax != nil:
		return fmt.Sprintf("up to $%d", *l.SalaryMax)
	default:
		return "Not listed"
	}
}

func listingPayload(board model.Board, l model.Listing) slackPayload {
	company := capitalize(l.Company)
	location := l.Location
	if location == "" {
		location = "Not listed"
	}

	blocks := []slackBlock{
		{
			Type: "header",
			Text: &slackText{Type: "plain_text", Text: "🚀 " + company + ": " + l.Title},
		},
		{
			Type: "section",
			Fields: []slackText{
				{Type: "mrkdwn", Text: "*Company:*\n" + company},
				{Type: "mrkdwn", Text: "*Location:*\n" + location},
			},
		},
		{
			Type: "section",
			Fields: []slackText{
				{Type: "mrkdwn", Text: "*Match:*\n" + strconv.Itoa(l.MatchScore) + "/100"},
				{Type: "mrkdwn", Text: "*Salary:*\n" + salaryText(l)},
			},
		},
		{
			Type:   "section",
			Fields: []slackText{{Type: "mrkdwn", Text: "*Board:*\n" + board.Name}},
		},
		{
			Type: "actions",
			Elements: []slackElement{
				{
					Type:  "button",
					Text:  slackText{Type: "plain_text", Text: "View Listing"},
					URL:   l.URL,
					Style: "primary",
				},
			},
		},
		{Type: "divider"},
	}
	return slackPayload{Blocks: blocks}
}

func reviewPayload(app model.Application, l model.Listing) slackPayload {
	reason := fmt.Sprintf("%d field(s) need your input", openFields(app))
	if app.CaptchaFound {
		reason = "CAPTCHA detected, finish the form by hand"
	} else if app.Status == model.AppReadyToSubmit {
		reason = "All fields filled, confirm before submitting"
	}

	return slackPayload{Blocks: []slackBlock{
		{
			Type: "header",
			Text: &slackText{Type: "plain_text", Text: "📝 Review needed: " + capitalize(l.Company) + ": " + l.Title},
		},
		{
			Type: "section",
			Fields: []slackText{
				{Type: "mrkdwn", Text: "*Status:*\n" + string(app.Status)},
				{Type: "mrkdwn", Text: "*Application:*\n" + app.ID},
			},
		},
		{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: reason},
		},
		{Type: "divider"},
	}}
}
