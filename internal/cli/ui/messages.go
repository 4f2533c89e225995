package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// Level is the severity of a CLI message
type Level int

const (
	LevelError Level = iota
	LevelWarning
	LevelInfo
)

// Message is a CLI message with optional suggestions and follow-up hints
//
// Example output:
//
//	✗ UNKNOWN DOCUMENT TYPE: Usr
//	   Did you mean: User?
//
//	   → List registered types: docmapper schema
type Message struct {
	Level       Level
	Context     string
	Problem     string
	Suggestions []string
	Hints       []string
	NoColor     bool
}

// Format renders the message
func (m Message) Format() string {
	var b strings.Builder

	var header *color.Color
	var symbol string
	switch m.Level {
	case LevelWarning:
		header, symbol = colorFor(m.NoColor, color.FgYellow, color.Bold), "!"
	case LevelInfo:
		header, symbol = colorFor(m.NoColor, color.FgCyan, color.Bold), "i"
	default:
		header, symbol = colorFor(m.NoColor, color.FgRed, color.Bold), "✗"
	}

	if m.Context != "" {
		header.Fprintf(&b, "%s %s: %s\n", symbol, strings.ToUpper(m.Context), m.Problem)
	} else {
		header.Fprintf(&b, "%s %s\n", symbol, m.Problem)
	}

	if len(m.Suggestions) > 0 {
		colorFor(m.NoColor, color.FgYellow).Fprintf(&b, "   Did you mean: %s?\n", strings.Join(m.Suggestions, ", "))
	}

	if len(m.Hints) > 0 {
		b.WriteString("\n")
		cyan := colorFor(m.NoColor, color.FgCyan)
		for _, hint := range m.Hints {
			cyan.Fprintf(&b, "   → %s\n", hint)
		}
	}

	return b.String()
}

// Write writes the formatted message to w
func (m Message) Write(w io.Writer) {
	fmt.Fprint(w, m.Format())
}

// Success writes a success line
func Success(w io.Writer, message string, noColor bool) {
	colorFor(noColor, color.FgGreen, color.Bold).Fprintf(w, "✓ %s\n", message)
}

// UnknownType builds the message for a document type missing from the schema
func UnknownType(name string, registered []string, noColor bool) Message {
	return Message{
		Level:       LevelError,
		Context:     "unknown document type",
		Problem:     name,
		Suggestions: Suggest(name, registered, 3),
		Hints:       []string{"List registered types: docmapper schema"},
		NoColor:     noColor,
	}
}
