package profile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/amishk599/hunter/internal/model"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestProfileLoadsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	t.Setenv("HUNTER_TEST_PHONE", "555-0100")
	writeFile(t, path, `
first_name: Ada
last_name: Lovelace
email: ada@example.com
phone: ${HUNTER_TEST_PHONE}
us_citizen: true
sponsorship_needed: false
desired_title: Software Engineer
desired_locations: "New York, Remote"
remote_preference: remote
min_salary: 150000
`)

	p, err := NewFileProvider(path).Profile(context.Background())
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if p.FullName() != "Ada Lovelace" || p.Phone != "555-0100" {
		t.Errorf("profile = %+v", p)
	}
	if p.USCitizen == nil || !*p.USCitizen || p.SponsorshipNeeded == nil || *p.SponsorshipNeeded {
		t.Errorf("eeo flags = %v %v", p.USCitizen, p.SponsorshipNeeded)
	}
	if p.MinSalary == nil || *p.MinSalary != 150000 {
		t.Errorf("min salary = %v", p.MinSalary)
	}
}

func TestProfileMissingFile(t *testing.T) {
	for _, path := range []string{"", filepath.Join(t.TempDir(), "absent.yaml")} {
		_, err := NewFileProvider(path).Profile(context.Background())
		if !errors.Is(err, model.ErrNoProfile) {
			t.Errorf("Profile(%q) err = %v, want ErrNoProfile", path, err)
		}
	}
}

func TestProfileReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	writeFile(t, path, "first_name: Ada\n")
	p := NewFileProvider(path)

	if got, _ := p.Profile(context.Background()); got.FirstName != "Ada" {
		t.Fatalf("first load = %+v", got)
	}

	writeFile(t, path, "first_name: Grace\n")
	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}
	if got, _ := p.Profile(context.Background()); got.FirstName != "Grace" {
		t.Errorf("after change = %+v", got)
	}
}

func TestProfileInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	writeFile(t, path, "first_name: [unterminated\n")
	if _, err := NewFileProvider(path).Profile(context.Background()); err == nil {
		t.Fatal("expected parse error")
	}
}
