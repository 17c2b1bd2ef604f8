package service

import (
	"fmt"
	"time"

	"github.com/briandowns/spinner"
)

const (
	IndicatorThinking  = "Thinking..."
	IndicatorRetrying  = "Rate limited, backing off..."
	IndicatorCompress  = "Compressing history..."
	IndicatorSummarize = "Summarizing..."
)

// Indicator is the terminal activity spinner shown while a stream has not
// produced output yet.
type Indicator struct {
	s *spinner.Spinner
}

func NewIndicator() *Indicator {
	i := &Indicator{}
	i.s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	i.s.Suffix = fmt.Sprintf(" %s", IndicatorThinking)
	i.s.Color("fgHiMagenta", "bold")
	i.s.Start()
	return i
}

func (i *Indicator) Stop() {
	if i.s.Active() {
		i.s.Stop()
	}
}

func (i *Indicator) Start(text string) {
	if text == "" {
		text = IndicatorThinking
	}
	if i.s.Active() {
		i.s.Stop()
	}
	i.s.Suffix = fmt.Sprintf(" %s", text)
	i.s.Start()
}

// Retry switches the spinner text to the backoff notice with the attempt count.
func (i *Indicator) Retry(attempt, maxAttempts int) {
	i.Start(fmt.Sprintf("%s (attempt %d/%d)", IndicatorRetrying, attempt, maxAttempts))
}
