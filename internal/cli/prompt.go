package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/p-blackswan/tod/internal/triage"
)

// errHelp asks the loop to print the prompt grammar.
var errHelp = errors.New("help requested")

const promptHelp = `  c            complete
  s            skip
  x            dismiss for this session
  u            undo the last change
  q            quit (the session can be resumed)
  p N          set priority (1 none .. 4 highest)
  +label       add a label
  -label       remove a label
  m ID [SEC]   move to a project, optionally a section
  n NAME       move to a new project
  e TEXT       rename the task
  r            reload the task and cached projects, sections and labels
  none         clear the due date
  anything else is read as a due date, e.g. "tomorrow at 3pm" or "every monday"`

// ParseDecision reads one prompt line.
func ParseDecision(line string) (triage.Decision, error) {
	line = strings.Join(strings.Fields(line), " ")
	if line == "" {
		return nil, errors.New("empty input, type ? for help")
	}

	switch strings.ToLower(line) {
	case "?", "h", "help":
		return nil, errHelp
	case "c":
		return triage.Complete{}, nil
	case "s":
		return triage.Skip{}, nil
	case "x":
		return triage.Dismiss{}, nil
	case "u":
		return triage.Undo{}, nil
	case "q":
		return triage.Quit{}, nil
	case "r":
		return triage.Refresh{}, nil
	case "none":
		return triage.ClearDue{}, nil
	}

	fields := strings.Fields(line)
	switch {
	case strings.HasPrefix(line, "+") && len(fields) == 1:
		return labelDecision(line[1:], true)
	case strings.HasPrefix(line, "-") && len(fields) == 1:
		return labelDecision(line[1:], false)
	}

	switch strings.ToLower(fields[0]) {
	case "p":
		if len(fields) != 2 {
			return nil, errors.New("usage: p N")
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("priority %q is not a number", fields[1])
		}
		return triage.SetPriority{Priority: n}, nil
	case "m":
		switch len(fields) {
		case 2:
			return triage.MoveToProject{ProjectID: fields[1]}, nil
		case 3:
			return triage.MoveToProject{ProjectID: fields[1], SectionID: fields[2]}, nil
		}
		return nil, errors.New("usage: m PROJECT_ID [SECTION_ID]")
	case "n":
		if len(fields) < 2 {
			return nil, errors.New("usage: n NAME")
		}
		return triage.MoveToNewProject{Project: strings.Join(fields[1:], " ")}, nil
	case "e":
		if len(fields) < 2 {
			return nil, errors.New("usage: e NEW CONTENT")
		}
		return triage.Rename{Content: strings.Join(fields[1:], " ")}, nil
	}

	return triage.Reschedule{Text: line}, nil
}

func labelDecision(name string, add bool) (triage.Decision, error) {
	name = strings.TrimPrefix(name, "@")
	if name == "" {
		return nil, errors.New("label name is missing")
	}
	if add {
		return triage.AddLabel{Label: name}, nil
	}
	return triage.RemoveLabel{Label: name}, nil
}
