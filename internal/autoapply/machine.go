// Package autoapply drives an application from pending through form
// detection and filling to the human review gate, and on to submission once
// a reviewer has signed off.
package autoapply

import (
	"errors"
	"strings"

	"github.com/amishk599/hunter/internal/model"
)

// ErrCancelled is returned when the application was cancelled while a worker
// was processing it.
var ErrCancelled = errors.New("application cancelled")

// ErrInvalidTransition is returned for a move the state machine forbids.
var ErrInvalidTransition = errors.New("invalid application transition")

var transitions = map[model.AppStatus][]model.AppStatus{
	model.AppPending:       {model.AppInProgress, model.AppFailed, model.AppCancelled},
	model.AppInProgress:    {model.AppNeedsReview, model.AppReadyToSubmit, model.AppSubmitted, model.AppFailed, model.AppCancelled},
	model.AppNeedsReview:   {model.AppReadyToSubmit, model.AppFailed, model.AppCancelled},
	model.AppReadyToSubmit: {model.AppReadyToSubmit, model.AppInProgress, model.AppFailed, model.AppCancelled},
}

// CanTransition reports whether an application may move from one status to
// another. Terminal statuses have no exits.
func CanTransition(from, to model.AppStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

var captchaIndicators = []string{
	"captcha",
	"recaptcha",
	"hcaptcha",
	"g-recaptcha",
	"h-captcha",
	"challenge-form",
	"cf-turnstile",
	"arkose",
}

// HasCaptcha reports whether the page markup carries a known CAPTCHA widget.
func HasCaptcha(pageHTML string) bool {
	lower := strings.ToLower(pageHTML)
	for _, ind := range captchaIndicators {
		if strings.Contains(lower, ind) {
			return true
		}
	}
	return false
}
