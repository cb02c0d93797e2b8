package sessions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/julianstephens/guardian/internal/calendar"
	"github.com/julianstephens/guardian/internal/cli"
	"github.com/julianstephens/guardian/internal/coach"
	"github.com/julianstephens/guardian/internal/constants"
	"github.com/julianstephens/guardian/internal/evaluator"
	"github.com/julianstephens/guardian/internal/keyring"
	"github.com/julianstephens/guardian/internal/logger"
	"github.com/julianstephens/guardian/internal/models"
	"github.com/julianstephens/guardian/internal/notifier"
	"github.com/julianstephens/guardian/internal/observe"
	"github.com/julianstephens/guardian/internal/session"
	"github.com/julianstephens/guardian/internal/textgen"
)

// Close reasons recorded in SessionClosed.
const (
	reasonQuit        = "user_quit"
	reasonInputClosed = "input_closed"
	reasonTimeUp      = "time_up"
	reasonInterrupted = "interrupted"
)

type RunCmd struct {
	Minutes     int      `help:"Session length in minutes (0 uses the configured length)."`
	Events      string   `help:"NDJSON event file to replay. Reads stdin when empty." type:"existingfile"`
	Interactive bool     `short:"i" help:"Read simple commands from stdin instead of NDJSON events."`
	Task        []string `help:"Extra task as name:category:minutes[:load]. Repeatable." sep:"none"`
	Force       bool     `help:"Take over an active session left by another process."`

	in  io.Reader
	out io.Writer
}

func (c *RunCmd) Run(ctx *cli.Context) error {
	user, err := ctx.User()
	if err != nil {
		return err
	}
	if c.out == nil {
		c.out = os.Stdout
	}

	var tasks []models.Task
	for _, raw := range c.Task {
		t, err := cli.ParseTask(raw)
		if err != nil {
			return err
		}
		tasks = append(tasks, t)
	}

	in := c.in
	if c.Events != "" {
		f, err := os.Open(c.Events)
		if err != nil {
			return fmt.Errorf("failed to open events file: %w", err)
		}
		defer f.Close()
		in = f
	} else if in == nil {
		in = os.Stdin
	}

	if err := ctx.Store.Load(); err != nil {
		logger.Warn("Storage unavailable, running degraded", "error", err)
		fmt.Fprintln(c.out, cli.WarningStyle.Render("Storage unavailable: this session will run on a default profile and will not be saved."))
	}

	bg, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, cleanup := buildDeps(bg, ctx, c.out)
	defer cleanup()

	mgr := session.NewManager(deps)
	sess, err := mgr.Start(bg, session.StartOptions{
		UserID:         user,
		SessionMinutes: c.Minutes,
		Tasks:          tasks,
		Force:          c.Force,
	})
	if errors.Is(err, session.ErrActiveSessionExists) {
		return fmt.Errorf("%w; use --force if that session is no longer running", err)
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(c.out, cli.TitleStyle.Render(fmt.Sprintf("Session %s started for %s", sess.ID[:8], user)))
	fmt.Fprintln(c.out, cli.RenderSchedule(sess.Schedule()))
	if c.Interactive {
		fmt.Fprintln(c.out, cli.DimStyle.Render("Type 'help' for commands."))
	}

	readCtx, cancelRead := context.WithCancel(bg)
	defer cancelRead()
	inputs := make(chan input)
	go func() {
		var err error
		if c.Interactive {
			err = readCommands(readCtx, in, c.out, inputs)
		} else {
			err = readEvents(readCtx, in, inputs)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("Input stopped", "error", err)
		}
	}()

	minutes := c.Minutes
	if minutes <= 0 {
		minutes = ctx.Config.Planner.SessionMinutes
	}
	reason := c.loop(bg, sess, inputs, ctx.Clock.After(time.Duration(minutes)*time.Minute))
	cancelRead()

	closeCtx, cancel := context.WithTimeout(context.Background(), constants.CloseTimeout)
	defer cancel()
	res, err := sess.Close(closeCtx, reason)
	if err != nil && !errors.Is(err, evaluator.ErrNotDurable) {
		return fmt.Errorf("failed to close session: %w", err)
	}

	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, cli.RenderSummary(res.Record.Summary))
	if err != nil {
		return fmt.Errorf("session summary was not saved: %w", err)
	}
	ctx.PerformAutomaticBackup()
	return nil
}

func (c *RunCmd) loop(ctx context.Context, sess *session.Session, inputs <-chan input, deadline <-chan time.Time) string {
	for {
		select {
		case <-ctx.Done():
			return reasonInterrupted
		case <-deadline:
			fmt.Fprintln(c.out, cli.WarningStyle.Render("Session time is up."))
			return reasonTimeUp
		case in, ok := <-inputs:
			if !ok {
				return reasonInputClosed
			}
			switch in.Control {
			case ctlQuit:
				return reasonQuit
			case ctlHelp:
				fmt.Fprintln(c.out, interactiveHelp)
				continue
			case ctlPlan:
				fmt.Fprintln(c.out, cli.RenderSchedule(sess.Schedule()))
				continue
			case ctlStatus:
				c.printStatus(ctx, sess)
				continue
			}

			ev := in.Event
			if in.TaskRef != "" {
				id, err := resolveTask(sess.Schedule(), in.TaskRef)
				if err != nil {
					fmt.Fprintln(c.out, cli.WarningStyle.Render(err.Error()))
					continue
				}
				ev.TaskID = id
			}

			if err := sess.Ingest(ctx, ev); err != nil {
				if errors.Is(err, coach.ErrUnknownOffer) {
					fmt.Fprintln(c.out, cli.DimStyle.Render("There is no open offer."))
				} else {
					fmt.Fprintln(c.out, cli.WarningStyle.Render(err.Error()))
				}
				continue
			}
			// Replayed events are applied one at a time so each plan change
			// lands before the next line is read.
			if !c.Interactive {
				if err := sess.Flush(ctx); err != nil {
					return reasonInterrupted
				}
			}
		}
	}
}

func (c *RunCmd) printStatus(ctx context.Context, sess *session.Session) {
	st := sess.Status(ctx)
	fmt.Fprintf(c.out, "Risk: %s (%.1f)  available: %d min  open offers: %d  cycles: %d\n",
		cli.LevelStyle(st.Risk.Level).Render(string(st.Risk.Level)),
		st.Risk.WeightedSum, st.Available, st.PendingOffers, st.Cycles)
	fmt.Fprintln(c.out, cli.RenderSchedule(st.Schedule))
}

// buildDeps wires the collaborators of a session from the policy config.
// Optional integrations that fail to start are logged and left out.
func buildDeps(runCtx context.Context, ctx *cli.Context, out io.Writer) (session.Deps, func()) {
	cfg := ctx.Config
	deps := session.Deps{
		Config: cfg,
		Repo:   ctx.Repo,
		Clock:  ctx.Clock,
	}

	if cal, err := calendar.NewLocal(cfg.Calendar); err != nil {
		logger.Warn("Invalid calendar config, treating the session as unbounded", "error", err)
		deps.Calendar = calendar.Unbounded{}
	} else {
		deps.Calendar = cal
	}

	gen, err := textgen.New(runCtx, cfg.Textgen, func() (string, error) {
		return keyring.Get(keyring.SecretGemini)
	})
	if err != nil {
		logger.Warn("Text generation unavailable, using canned text", "error", err)
		gen = textgen.Mock{}
	}
	deps.Generator = gen

	if cfg.Notifier.Enabled {
		deps.Notifier = notifier.New()
	}

	cleanup := func() {}
	sinks := []observe.Sink{newConsole(out)}
	if w, err := observe.Open(cfg.Observe, ctx.ConfigDir, ctx.Clock); err != nil {
		logger.Warn("Observability sink unavailable", "error", err)
	} else {
		sinks = append(sinks, w)
		cleanup = func() {
			if err := w.Close(); err != nil {
				logger.Warn("Failed to close observability sink", "error", err)
			}
		}
	}
	deps.Sink = observe.Tee(sinks...)
	return deps, cleanup
}
