package prompt

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/log"

	"github.com/zenibako/scenario-sync/scenario"
)

// Terminal asks for confirmation with an interactive huh form
type Terminal struct {
	// Accessible renders the form without a TUI, for screen readers and pipes
	Accessible bool
}

var _ scenario.Confirmer = Terminal{}

// Confirm shows the request title, one line per reason, and a yes/no choice
func (t Terminal) Confirm(ctx context.Context, req scenario.ConfirmRequest) (bool, error) {
	affirmative := req.Affirmative
	if affirmative == "" {
		affirmative = "Yes"
	}
	negative := req.Negative
	if negative == "" {
		negative = "No"
	}

	var confirmed bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(req.Title).
				Description(Describe(req.Reasons)).
				Affirmative(affirmative).
				Negative(negative).
				Value(&confirmed),
		),
	).WithAccessible(t.Accessible)

	if err := form.RunWithContext(ctx); err != nil {
		return false, fmt.Errorf("failed to get confirmation: %w", err)
	}
	return confirmed, nil
}

// Describe renders reasons as a bullet list
func Describe(reasons []string) string {
	if len(reasons) == 0 {
		return ""
	}
	lines := make([]string, 0, len(reasons))
	for _, r := range reasons {
		lines = append(lines, "• "+r)
	}
	return strings.Join(lines, "\n")
}

// Auto answers every prompt with a fixed choice, for --yes and non-interactive runs
type Auto struct {
	Answer bool
	Logger *log.Logger
}

var _ scenario.Confirmer = Auto{}

func (a Auto) Confirm(_ context.Context, req scenario.ConfirmRequest) (bool, error) {
	logger := a.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Info("Auto-answering prompt", "title", req.Title, "reasons", len(req.Reasons), "answer", a.Answer)
	return a.Answer, nil
}

// New returns an Auto confirmer when assumeYes is set, otherwise a Terminal
func New(assumeYes bool, logger *log.Logger) scenario.Confirmer {
	if assumeYes {
		return Auto{Answer: true, Logger: logger}
	}
	return Terminal{}
}
