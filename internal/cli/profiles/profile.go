package profiles

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/julianstephens/guardian/internal/cli"
	"github.com/julianstephens/guardian/internal/models"
	"github.com/julianstephens/guardian/internal/storage"
	"github.com/julianstephens/guardian/internal/utils"
)

type ProfileCmd struct {
	Show ProfileShowCmd `cmd:"" help:"Show the stored profile." default:"1"`
	Edit ProfileEditCmd `cmd:"" help:"Edit peak-focus windows and reset learned triggers."`
	Goal struct {
		Add    GoalAddCmd    `cmd:"" help:"Add a goal that seeds every session."`
		Remove GoalRemoveCmd `cmd:"" help:"Remove a goal by name."`
	} `cmd:"" help:"Manage session goals."`
}

type ProfileShowCmd struct {
	JSON bool `help:"Print the raw profile as JSON."`
}

func (c *ProfileShowCmd) Run(ctx *cli.Context) error {
	user, err := ctx.User()
	if err != nil {
		return err
	}
	profile, err := ctx.Repo.LoadProfile(context.Background(), user)
	if errors.Is(err, storage.ErrNotFound) {
		fmt.Printf("No profile for %s yet. It is created on the first 'guardian run'.\n", user)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load profile: %w", err)
	}
	if c.JSON {
		return cli.PrintJSON(profile)
	}
	fmt.Println(cli.RenderProfile(profile))
	return nil
}

// ParseRanges parses "09:00-11:00, 14:00-16:00".
func ParseRanges(s string) ([]models.TimeRange, error) {
	var out []models.TimeRange
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		bounds := strings.Split(part, "-")
		if len(bounds) != 2 {
			return nil, fmt.Errorf("invalid range %q (expected HH:MM-HH:MM)", part)
		}
		r := models.TimeRange{Start: strings.TrimSpace(bounds[0]), End: strings.TrimSpace(bounds[1])}
		if !utils.ValidateTimeFormat(r.Start) || !utils.ValidateTimeFormat(r.End) {
			return nil, fmt.Errorf("invalid range %q (expected HH:MM-HH:MM)", part)
		}
		if r.Start == r.End {
			return nil, fmt.Errorf("invalid range %q: start equals end", part)
		}
		out = append(out, r)
	}
	return out, nil
}

func formatRanges(ranges []models.TimeRange) string {
	parts := make([]string, len(ranges))
	for i, r := range ranges {
		parts[i] = r.Start + "-" + r.End
	}
	return strings.Join(parts, ", ")
}

// editForm holds the values bound to the huh form.
type editForm struct {
	PeakFocus     string
	ResetTriggers bool
	ResetStats    bool
}

// runForm shows the form. Swapped out in tests.
var runForm = func(fm *editForm) error {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Peak focus windows").
				Description("Comma-separated HH:MM-HH:MM ranges. High-load tasks are scheduled inside them.").
				Value(&fm.PeakFocus).
				Validate(func(s string) error {
					_, err := ParseRanges(s)
					return err
				}),
			huh.NewConfirm().
				Title("Reset fatigue triggers?").
				Description("Forget which categories were skipped under pressure.").
				Value(&fm.ResetTriggers),
			huh.NewConfirm().
				Title("Reset intervention history?").
				Description("Forget which interventions were accepted or declined.").
				Value(&fm.ResetStats),
		),
	).WithTheme(huh.ThemeDracula()).Run()
}

type ProfileEditCmd struct {
	PeakFocus *string `help:"Set peak-focus windows without the form, e.g. '09:00-11:00,14:00-16:00'."`
}

func (c *ProfileEditCmd) Run(ctx *cli.Context) error {
	user, err := ctx.User()
	if err != nil {
		return err
	}
	bg := context.Background()

	current, err := ctx.Repo.LoadProfile(bg, user)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to load profile: %w", err)
	}

	fm := editForm{PeakFocus: formatRanges(current.PeakFocus)}
	if c.PeakFocus != nil {
		fm.PeakFocus = *c.PeakFocus
	} else if err := runForm(&fm); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("Edit cancelled.")
			return nil
		}
		return err
	}

	ranges, err := ParseRanges(fm.PeakFocus)
	if err != nil {
		return err
	}

	_, err = ctx.Repo.UpdateProfile(bg, user, ctx.Clock.Now(), func(p *models.Profile) error {
		p.PeakFocus = ranges
		if fm.ResetTriggers {
			p.FatigueTriggers = map[string]int{}
		}
		if fm.ResetStats {
			p.InterventionStats = map[models.InterventionKind]models.InterventionStat{}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	fmt.Println(cli.OkStyle.Render("✓ Profile updated"))
	return nil
}

type GoalAddCmd struct {
	Name     string `arg:"" help:"Goal name."`
	Category string `help:"Task category, e.g. writing or admin." default:"general"`
	Minutes  int    `help:"Estimated minutes per session." default:"30"`
	Load     string `help:"Cognitive load: high, medium or low." enum:"high,medium,low" default:"medium"`
}

func (c *GoalAddCmd) Run(ctx *cli.Context) error {
	user, err := ctx.User()
	if err != nil {
		return err
	}
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("goal name cannot be empty")
	}
	if c.Minutes <= 0 {
		return errors.New("minutes must be positive")
	}

	goal := models.Goal{
		Name:        strings.TrimSpace(c.Name),
		Category:    strings.TrimSpace(c.Category),
		DurationMin: c.Minutes,
		Load:        models.LoadTag(c.Load),
	}
	if !goal.Load.Valid() {
		return fmt.Errorf("invalid load %q", c.Load)
	}

	_, err = ctx.Repo.UpdateProfile(context.Background(), user, ctx.Clock.Now(), func(p *models.Profile) error {
		for _, g := range p.Goals {
			if strings.EqualFold(g.Name, goal.Name) {
				return fmt.Errorf("goal %q already exists", g.Name)
			}
		}
		p.Goals = append(p.Goals, goal)
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Println(cli.OkStyle.Render(fmt.Sprintf("✓ Added goal %q (%s, %d min, %s)", goal.Name, goal.Category, goal.DurationMin, goal.Load)))
	return nil
}

type GoalRemoveCmd struct {
	Name string `arg:"" help:"Goal name."`
}

func (c *GoalRemoveCmd) Run(ctx *cli.Context) error {
	user, err := ctx.User()
	if err != nil {
		return err
	}
	_, err = ctx.Repo.UpdateProfile(context.Background(), user, ctx.Clock.Now(), func(p *models.Profile) error {
		for i, g := range p.Goals {
			if strings.EqualFold(g.Name, c.Name) {
				p.Goals = append(p.Goals[:i], p.Goals[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("goal not found: %s", c.Name)
	})
	if err != nil {
		return err
	}
	fmt.Println(cli.OkStyle.Render("✓ Removed goal " + c.Name))
	return nil
}
