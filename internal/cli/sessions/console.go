package sessions

import (
	"fmt"
	"io"
	"sync"

	"github.com/julianstephens/guardian/internal/cli"
	"github.com/julianstephens/guardian/internal/constants"
	"github.com/julianstephens/guardian/internal/models"
)

// console renders the bus traffic a user should see while a session runs.
type console struct {
	mu  sync.Mutex
	out io.Writer
}

func newConsole(out io.Writer) *console {
	return &console{out: out}
}

func (c *console) Emit(recordType string, payload any) {
	msg, ok := payload.(models.Message)
	if !ok {
		return
	}
	line := c.render(msg)
	if line == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, line)
}

func (c *console) render(msg models.Message) string {
	switch p := msg.Payload.(type) {
	case models.BurnoutAlert:
		if p.Severity == constants.SeverityClear {
			return cli.OkStyle.Render("● Load is back to normal.")
		}
		return cli.DangerStyle.Render(fmt.Sprintf("● Burnout risk is %s (%.1f).", p.Risk.Level, p.Risk.WeightedSum))
	case models.InterventionOffer:
		body := fmt.Sprintf("%s\n%s", cli.TitleStyle.Render(offerTitle(p.Kind)), p.Text)
		body += "\n" + cli.DimStyle.Render(fmt.Sprintf("reply 'yes' or 'no' before %s", p.Expires.Local().Format("15:04:05")))
		return cli.OfferStyle.Render(body)
	case models.InterventionOutcome:
		switch {
		case p.Accepted && p.RevisionApplied:
			return cli.OkStyle.Render("✓ Plan adjusted.")
		case p.Accepted:
			return cli.WarningStyle.Render("The plan could not be adjusted right now.")
		case p.Reason == models.OutcomeTimeout:
			return cli.DimStyle.Render("Offer expired.")
		}
	case models.PlanRevision:
		if p.Status == models.RevisionRejected && msg.Sender == models.RolePlanner {
			return cli.WarningStyle.Render("Plan change rejected: " + p.RejectReason)
		}
	}
	return ""
}

func offerTitle(kind models.InterventionKind) string {
	switch kind {
	case models.InterventionMicroBreak:
		return "Take a short break?"
	case models.InterventionTaskSwap:
		return "Switch to something lighter?"
	case models.InterventionLoadReduction:
		return "Lighten the remaining plan?"
	}
	return string(kind)
}
