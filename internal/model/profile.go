package model

import (
	"context"
	"errors"
	"strings"
)

// Profile is the read-only operator snapshot used for scoring and autofill.
type Profile struct {
	FirstName   string `yaml:"first_name" json:"first_name"`
	LastName    string `yaml:"last_name" json:"last_name"`
	Email       string `yaml:"email" json:"email"`
	Phone       string `yaml:"phone" json:"phone"`
	LinkedInURL string `yaml:"linkedin_url" json:"linkedin_url"`
	WebsiteURL  string `yaml:"website_url" json:"website_url"`

	USCitizen         *bool  `yaml:"us_citizen" json:"us_citizen,omitempty"`
	SponsorshipNeeded *bool  `yaml:"sponsorship_needed" json:"sponsorship_needed,omitempty"`
	VeteranStatus     string `yaml:"veteran_status" json:"veteran_status"`
	DisabilityStatus  string `yaml:"disability_status" json:"disability_status"`
	Gender            string `yaml:"gender" json:"gender"`
	Ethnicity         string `yaml:"ethnicity" json:"ethnicity"`

	ResumePath          string `yaml:"resume_path" json:"resume_path"`
	CoverLetterTemplate string `yaml:"cover_letter_template" json:"cover_letter_template"`

	DesiredTitle     string `yaml:"desired_title" json:"desired_title"`
	DesiredLocations string `yaml:"desired_locations" json:"desired_locations"` // comma-separated
	RemotePreference string `yaml:"remote_preference" json:"remote_preference"` // remote, hybrid, onsite, any
	MinSalary        *int   `yaml:"min_salary" json:"min_salary,omitempty"`
}

// FullName joins first and last name.
func (p Profile) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// ErrNoProfile is returned when no profile has been configured.
var ErrNoProfile = errors.New("no profile configured")

// ProfileProvider supplies the current profile snapshot.
type ProfileProvider interface {
	Profile(ctx context.Context) (Profile, error)
}
