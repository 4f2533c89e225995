// Package idstrategy generates document ids from a small format language:
// "{token}" placeholders joined by literal separators, e.g. "{time}-{pid}-{random}".
//
// Tokens:
//
//	pid     process id, base 36
//	time    unix milliseconds, base 36
//	random  8 random hex characters
//	uuid    a random (v4) UUID
//	seq     per-strategy counter, base 36
package idstrategy

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/conduit-lang/docmapper/internal/orm/ormerror"
)

// DefaultFormat is used when no format is configured
const DefaultFormat = "{time}-{pid}-{random}-{seq}"

type tokenFunc func(s *Strategy) string

var tokens = map[string]tokenFunc{
	"pid": func(s *Strategy) string {
		return strconv.FormatInt(int64(s.pid), 36)
	},
	"time": func(s *Strategy) string {
		return strconv.FormatInt(s.now().UnixMilli(), 36)
	},
	"random": func(s *Strategy) string {
		buf := make([]byte, 4)
		if _, err := rand.Read(buf); err != nil {
			return strconv.FormatInt(time.Now().UnixNano()&0xffffffff, 16)
		}
		return hex.EncodeToString(buf)
	},
	"uuid": func(s *Strategy) string {
		return uuid.NewString()
	},
	"seq": func(s *Strategy) string {
		return strconv.FormatUint(s.seq.Add(1), 36)
	},
}

// part is either a literal or a token generator
type part struct {
	literal string
	token   string
	fn      tokenFunc
}

// Strategy is a compiled id format
type Strategy struct {
	format string
	parts  []part
	pid    int
	seq    atomic.Uint64
	now    func() time.Time
}

// Parse compiles a format. Unknown tokens and unbalanced braces are
// configuration errors.
func Parse(format string) (*Strategy, error) {
	if strings.TrimSpace(format) == "" {
		return nil, ormerror.Configuration("id strategy format is empty")
	}

	s := &Strategy{format: format, pid: os.Getpid(), now: time.Now}

	rest := format
	for rest != "" {
		open := strings.IndexByte(rest, '{')
		closing := strings.IndexByte(rest, '}')

		if open < 0 {
			if closing >= 0 {
				return nil, unbalanced(format)
			}
			s.parts = append(s.parts, part{literal: rest})
			break
		}
		if closing >= 0 && closing < open {
			return nil, unbalanced(format)
		}
		if open > 0 {
			s.parts = append(s.parts, part{literal: rest[:open]})
		}

		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return nil, unbalanced(format)
		}
		name := rest[open+1 : open+end]
		if strings.ContainsRune(name, '{') {
			return nil, unbalanced(format)
		}
		fn, ok := tokens[name]
		if !ok {
			return nil, ormerror.Configuration("unknown id strategy token %q in format %q", name, format).
				WithDetail("token", name)
		}
		s.parts = append(s.parts, part{token: name, fn: fn})
		rest = rest[open+end+1:]
	}

	if len(s.Tokens()) == 0 {
		return nil, ormerror.Configuration("id strategy format %q has no tokens", format)
	}
	return s, nil
}

func unbalanced(format string) error {
	return ormerror.Configuration("unbalanced brace in id strategy format %q", format)
}

// MustParse is like Parse but panics on error
func MustParse(format string) *Strategy {
	s, err := Parse(format)
	if err != nil {
		panic(err)
	}
	return s
}

// Generate produces a new id
func (s *Strategy) Generate() string {
	var b strings.Builder
	for _, p := range s.parts {
		if p.fn == nil {
			b.WriteString(p.literal)
			continue
		}
		b.WriteString(p.fn(s))
	}
	return b.String()
}

// Format returns the source format
func (s *Strategy) Format() string {
	return s.format
}

// Tokens returns the token names in order of appearance
func (s *Strategy) Tokens() []string {
	var names []string
	for _, p := range s.parts {
		if p.fn != nil {
			names = append(names, p.token)
		}
	}
	return names
}
