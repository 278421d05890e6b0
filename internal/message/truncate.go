// Package message renders feed messages from templates and trims named
// fields deterministically so the result fits a fixed character budget.
package message

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultMaxLength is the service-level message cap.
	DefaultMaxLength = 140
	// DefaultURLWidth is the display width links are shortened to,
	// regardless of their true length.
	DefaultURLWidth = 22
	// DefaultURLField names the field counted at DefaultURLWidth.
	DefaultURLField = "url"

	// Trimming strictly shrinks total field length each round, so the
	// fixed point is reached long before this cap. The cap guards inputs
	// where nothing is left to trim.
	maxTrimRounds = 32
)

var (
	ErrNoTrimmableFields = errors.New("message: over budget with no trimmable fields")
	ErrNoConvergence     = errors.New("message: trimming did not converge")
)

// Truncator formats templated messages into a rune budget. Named fields
// other than URLField are candidates for end-trimming; positional values
// are never trimmed. All length math is rune-based.
type Truncator struct {
	MaxLength int
	URLField  string
	URLWidth  int
}

// NewTruncator returns a Truncator with the service defaults.
func NewTruncator() Truncator {
	return Truncator{
		MaxLength: DefaultMaxLength,
		URLField:  DefaultURLField,
		URLWidth:  DefaultURLWidth,
	}
}

// Format substitutes positional ({}) and named ({name}) values into the
// template and returns a message whose effective length does not exceed
// MaxLength. Effective length counts the URL field at URLWidth when its
// real length is larger, so a long link may push the raw string slightly
// past MaxLength.
func (t Truncator) Format(template string, positional []string, fields map[string]string) (string, error) {
	work := make(map[string]string, len(fields))
	for k, v := range fields {
		work[k] = v
	}

	for round := 0; round < maxTrimRounds; round++ {
		msg, err := substitute(template, positional, work)
		if err != nil {
			return "", err
		}
		delta := t.overflow(msg, work)
		if delta <= 0 {
			return msg, nil
		}
		if err := t.trim(work, delta); err != nil {
			return "", err
		}
	}
	return "", ErrNoConvergence
}

// overflow returns how many runes the message exceeds the budget by, after
// normalizing the URL field to its display width.
func (t Truncator) overflow(msg string, fields map[string]string) int {
	n := utf8.RuneCountInString(msg)
	if url, ok := fields[t.URLField]; ok {
		if w := utf8.RuneCountInString(url); w > t.URLWidth {
			n -= w - t.URLWidth
		}
	}
	return n - t.MaxLength
}

type trimmable struct {
	key   string
	runes []rune
}

// trim removes delta runes' worth of text from the longest named fields,
// mutating fields in place. Candidates are ranked by descending length with
// a key-ascending tie-break so runs are reproducible.
func (t Truncator) trim(fields map[string]string, delta int) error {
	cands := make([]trimmable, 0, len(fields))
	for k, v := range fields {
		if k == t.URLField {
			continue
		}
		cands = append(cands, trimmable{key: k, runes: []rune(v)})
	}
	sort.Slice(cands, func(i, j int) bool {
		li, lj := len(cands[i].runes), len(cands[j].runes)
		if li != lj {
			return li > lj
		}
		return cands[i].key < cands[j].key
	})

	switch {
	case len(cands) == 0:
		return ErrNoTrimmableFields

	case len(cands) == 1:
		cut(fields, cands[0], delta)

	default:
		l0, l1 := len(cands[0].runes), len(cands[1].runes)

		// If a third field would become the longest once the top two
		// shrink past it, cap this round's trim at that point.
		if len(cands) >= 3 {
			l2 := len(cands[2].runes)
			if d2 := l0 - l2 + l1 - l2; d2 > 0 && d2 < delta {
				delta = d2
			}
		}

		if gap := l0 - l1; gap > 0 {
			// Trim only the longest, at most down to the second's length.
			if delta <= gap {
				cut(fields, cands[0], delta)
			} else {
				cut(fields, cands[0], gap)
			}
		} else {
			switch {
			case delta <= 2:
				cut(fields, cands[0], 1)
				cut(fields, cands[1], 1)
			case len(cands) >= 3 && len(cands[2].runes) == l0:
				cut(fields, cands[0], delta/3)
				cut(fields, cands[1], delta/3)
				cut(fields, cands[2], delta/3)
			default:
				cut(fields, cands[0], delta/2)
				cut(fields, cands[1], delta/2)
			}
		}
	}
	return nil
}

// cut removes n runes from the end of the field.
func cut(fields map[string]string, c trimmable, n int) {
	keep := len(c.runes) - n
	if keep < 0 {
		keep = 0
	}
	fields[c.key] = string(c.runes[:keep])
}

// substitute renders the template: each bare {} consumes the next
// positional value, each {name} consumes the named value.
func substitute(template string, positional []string, fields map[string]string) (string, error) {
	var b strings.Builder
	next := 0
	for i := 0; i < len(template); {
		if template[i] != '{' {
			b.WriteByte(template[i])
			i++
			continue
		}
		end := strings.IndexByte(template[i:], '}')
		if end < 0 {
			return "", fmt.Errorf("message: unclosed placeholder at offset %d", i)
		}
		name := template[i+1 : i+end]
		if name == "" {
			if next >= len(positional) {
				return "", fmt.Errorf("message: template needs more than %d positional values", len(positional))
			}
			b.WriteString(positional[next])
			next++
		} else {
			v, ok := fields[name]
			if !ok {
				return "", fmt.Errorf("message: unknown field %q", name)
			}
			b.WriteString(v)
		}
		i += end + 1
	}
	return b.String(), nil
}
