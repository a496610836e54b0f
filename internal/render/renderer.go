package render

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/amr1k/rtmptranscribe/internal/transcription"
)

// DefaultExitKeywords end the session when spoken as whole words
var DefaultExitKeywords = []string{"exit", "quit"}

// Renderer writes interim and final transcripts to a console
type Renderer struct {
	w           io.Writer
	exitPattern *regexp.Regexp

	// width of the interim line currently on screen, in runes
	printed int
	mu      sync.Mutex
}

// New creates a Renderer; an empty keyword list falls back to DefaultExitKeywords
func New(w io.Writer, keywords []string) (*Renderer, error) {
	pattern, err := compileExitPattern(keywords)
	if err != nil {
		return nil, err
	}
	return &Renderer{w: w, exitPattern: pattern}, nil
}

func compileExitPattern(keywords []string) (*regexp.Regexp, error) {
	if len(keywords) == 0 {
		keywords = DefaultExitKeywords
	}

	escaped := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			escaped = append(escaped, regexp.QuoteMeta(k))
		}
	}
	if len(escaped) == 0 {
		return nil, fmt.Errorf("no usable exit keywords in %q", keywords)
	}

	// RE2's \b only knows ASCII; a keyword must not touch any letter or digit
	pattern, err := regexp.Compile(`(?i)(?:^|[^\pL\pN_])(?:` + strings.Join(escaped, "|") + `)(?:$|[^\pL\pN_])`)
	if err != nil {
		return nil, fmt.Errorf("failed to compile exit keywords: %w", err)
	}
	return pattern, nil
}

// MatchesExit reports whether text contains an exit keyword as a whole word
func (r *Renderer) MatchesExit(text string) bool {
	return r.exitPattern.MatchString(text)
}

// Render prints one result and reports whether it asked to end the session
func (r *Renderer) Render(result transcription.Result) (exit bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	width := utf8.RuneCountInString(result.Transcript)
	pad := ""
	if r.printed > width {
		pad = strings.Repeat(" ", r.printed-width)
	}

	if !result.IsFinal {
		if _, err := fmt.Fprint(r.w, result.Transcript+pad+"\r"); err != nil {
			return false, fmt.Errorf("failed to write interim result: %w", err)
		}
		r.printed = width
		return false, nil
	}

	if _, err := fmt.Fprintln(r.w, result.Transcript+pad); err != nil {
		return false, fmt.Errorf("failed to write final result: %w", err)
	}

	if r.MatchesExit(result.Transcript) {
		if _, err := fmt.Fprintln(r.w, "Exiting.."); err != nil {
			return true, fmt.Errorf("failed to write exit notice: %w", err)
		}
		return true, nil
	}

	r.printed = 0
	return false, nil
}
