// Package output turns the agent's raw stdout/stderr chunks into classified
// lines. Stdout is content; stderr lines are either suppressed as expected
// chatter or forwarded as errors.
package output

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
)

// Source is the stream a line was read from.
type Source int

const (
	Stdout Source = iota
	Stderr
)

func (s Source) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Class is the classification of a line.
type Class int

const (
	// Content is agent output meant for the user.
	Content Class = iota
	// Suppressed is expected stderr chatter, dropped before the UI.
	Suppressed
	// Error is an unexpected stderr line, forwarded as agent-error.
	Error
)

func (c Class) String() string {
	switch c {
	case Content:
		return "content"
	case Suppressed:
		return "suppressed"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Line is one classified line of agent output.
type Line struct {
	Source Source
	Text   string
	Class  Class
}

// Split appends chunk to buf and cuts out every line terminated by '\n'.
// A '\r' before the terminator is dropped. The unterminated tail is
// returned as rest and must be passed back as buf with the next chunk.
// A chunk without a terminator yields no lines. Split never writes into
// buf, including its spare capacity.
func Split(buf, chunk []byte) (lines []string, rest []byte) {
	data := append(buf[:len(buf):len(buf)], chunk...)
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(bytes.TrimSuffix(data[:i], []byte("\r"))))
		data = data[i+1:]
	}
	// Copy so the caller's buffer does not pin the whole history.
	rest = append([]byte(nil), data...)
	return lines, rest
}

// Stream reassembles lines for one source.
// It is not safe for concurrent use; each reader goroutine owns its own.
type Stream struct {
	source     Source
	classifier *Classifier
	buf        []byte
}

// NewStream returns a Stream for source that classifies with c.
func NewStream(source Source, c *Classifier) *Stream {
	return &Stream{source: source, classifier: c}
}

// Feed consumes a chunk and returns the completed lines, classified.
func (s *Stream) Feed(chunk []byte) []Line {
	texts, rest := Split(s.buf, chunk)
	s.buf = rest
	return s.classify(texts)
}

// Flush returns the unterminated tail as a final line, if any.
// Used at EOF when the process died mid-line.
func (s *Stream) Flush() []Line {
	if len(s.buf) == 0 {
		return nil
	}
	text := string(bytes.TrimSuffix(s.buf, []byte("\r")))
	s.buf = nil
	return s.classify([]string{text})
}

// Pending returns the number of buffered bytes not yet emitted.
func (s *Stream) Pending() int {
	return len(s.buf)
}

func (s *Stream) classify(texts []string) []Line {
	if len(texts) == 0 {
		return nil
	}
	lines := make([]Line, len(texts))
	for i, text := range texts {
		lines[i] = Line{Source: s.source, Text: text, Class: s.classifier.Classify(s.source, text)}
	}
	return lines
}

// leveledLog matches Python logging and similar leveled prefixes:
// "INFO:root:msg", "[DEBUG] msg", "WARNING - msg", and the same after a
// timestamp ("2024-05-01 10:00:00,123 - INFO - msg").
var leveledLog = regexp.MustCompile(`^(?:[\d\-:.,T ]+(?:-\s*)?)?(?:\[\s*)?(?:INFO|DEBUG|WARN(?:ING)?|TRACE)(?:\s*\]|:|\s+-)`)

// DefaultBenignPatterns are stderr lines the agent prints during a normal
// voice-session teardown. Traceback frames are benign; only an exception
// line that matches nothing else is forwarded.
var DefaultBenignPatterns = []string{
	`^Traceback \(most recent call last\):`,
	`^\s+File "`,
	`^\s{4}\S`,
	`^(?:During handling of the above exception|The above exception was the direct cause)`,
	`ConnectionClosed(?:OK|Error)?`,
	`websockets\.exceptions\.`,
	`(?:sent|received) 1000 \(OK\)`,
	`^KeyboardInterrupt`,
	`Voice session terminated\.`,
}

// Classifier decides how a line is presented.
type Classifier struct {
	benign []*regexp.Regexp
}

// NewClassifier compiles the default benign patterns plus extra.
func NewClassifier(extra ...string) (*Classifier, error) {
	c := &Classifier{}
	for _, p := range append(append([]string{}, DefaultBenignPatterns...), extra...) {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid benign pattern %q: %w", p, err)
		}
		c.benign = append(c.benign, re)
	}
	return c, nil
}

// DefaultClassifier returns a classifier with only the built-in patterns.
func DefaultClassifier() *Classifier {
	c, err := NewClassifier()
	if err != nil {
		panic(err)
	}
	return c
}

// Classify returns the class of text read from source. Stdout is always
// Content. Blank stderr lines are suppressed.
func (c *Classifier) Classify(source Source, text string) Class {
	if source == Stdout {
		return Content
	}
	if strings.TrimSpace(text) == "" {
		return Suppressed
	}
	if leveledLog.MatchString(text) {
		return Suppressed
	}
	for _, re := range c.benign {
		if re.MatchString(text) {
			return Suppressed
		}
	}
	return Error
}
