package sessions

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/julianstephens/guardian/internal/logger"
	"github.com/julianstephens/guardian/internal/models"
)

// Control words of the interactive prompt that are not events.
const (
	ctlStatus = "status"
	ctlPlan   = "plan"
	ctlQuit   = "quit"
	ctlHelp   = "help"
)

const interactiveHelp = `Commands:
  mood 1-5            report how you feel (1 = awful, 5 = great)
  done [n|name]       finish a task (default: the current one)
  skip [n|name]       skip a task
  work <minutes>      log uninterrupted work
  yes | no            answer the open offer
  plan | status       show the plan or the risk state
  quit                end the session
Anything else is treated as a chat message.`

// input is one parsed line: either an event or a control word.
type input struct {
	Event   models.Event
	Control string
	// TaskRef is the task argument of done/skip, resolved against the live
	// schedule before the event is ingested.
	TaskRef string
}

// parseCommand turns one interactive line into an input.
func parseCommand(line string) (input, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return input{}, fmt.Errorf("empty input")
	}
	fields := strings.Fields(line)
	word := strings.ToLower(fields[0])
	rest := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))

	switch word {
	case ctlStatus, ctlPlan, ctlHelp:
		return input{Control: word}, nil
	case ctlQuit, "exit":
		return input{Control: ctlQuit}, nil
	case "mood":
		n, err := strconv.Atoi(rest)
		if err != nil || n < 1 || n > 5 {
			return input{}, fmt.Errorf("mood must be a number from 1 to 5")
		}
		return input{Event: models.Event{Kind: models.EventMood, Mood: n}}, nil
	case "done":
		return input{Event: models.Event{Kind: models.EventTaskDone}, TaskRef: rest}, nil
	case "skip":
		return input{Event: models.Event{Kind: models.EventTaskSkip}, TaskRef: rest}, nil
	case "work":
		m, err := strconv.ParseFloat(rest, 64)
		if err != nil || m <= 0 {
			return input{}, fmt.Errorf("work needs a positive number of minutes")
		}
		return input{Event: models.Event{Kind: models.EventWorkTick, Minutes: m}}, nil
	case "yes", "y", "accept":
		return input{Event: models.Event{Kind: models.EventOfferResponse, Accepted: true, CorrelationID: rest}}, nil
	case "no", "n", "decline":
		return input{Event: models.Event{Kind: models.EventOfferResponse, CorrelationID: rest}}, nil
	}
	return input{Event: models.Event{Kind: models.EventChat, Text: line}}, nil
}

// resolveTask maps a 1-based position or a case-insensitive name to a task
// id. An empty ref stays empty, which targets the current task.
func resolveTask(s models.Schedule, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", nil
	}
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(s.Tasks) {
			return "", fmt.Errorf("no task #%d", n)
		}
		return s.Tasks[n-1].ID, nil
	}
	for _, t := range s.Tasks {
		if t.ID == ref || strings.EqualFold(t.Name, ref) {
			return t.ID, nil
		}
	}
	return "", fmt.Errorf("no task named %q", ref)
}

// readEvents decodes NDJSON events from r and sends them on out until EOF
// or ctx is done. Malformed lines are logged and skipped.
func readEvents(ctx context.Context, r io.Reader, out chan<- input) error {
	defer close(out)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var ev models.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			logger.Warn("Skipping malformed event", "line", lineNo, "error", err)
			continue
		}
		if ev.Kind == "" {
			logger.Warn("Skipping event without kind", "line", lineNo)
			continue
		}
		select {
		case out <- input{Event: ev}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return sc.Err()
}

// readCommands parses interactive lines from r. Parse errors are reported
// on errOut and the prompt continues.
func readCommands(ctx context.Context, r io.Reader, errOut io.Writer, out chan<- input) error {
	defer close(out)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == "" {
			continue
		}
		in, err := parseCommand(sc.Text())
		if err != nil {
			fmt.Fprintln(errOut, err)
			continue
		}
		select {
		case out <- in:
		case <-ctx.Done():
			return ctx.Err()
		}
		if in.Control == ctlQuit {
			return nil
		}
	}
	return sc.Err()
}
