package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// Spinner is a blocking line spinner for work that happens before the room
// screen takes over the terminal.
type Spinner struct {
	out      io.Writer
	spinner  spinner.Spinner
	interval time.Duration
	message  string

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewSpinner creates a dot spinner writing to stdout.
func NewSpinner(message string) *Spinner {
	return &Spinner{
		out:      os.Stdout,
		spinner:  spinner.Dot,
		interval: 80 * time.Millisecond,
		message:  message,
		done:     make(chan struct{}),
	}
}

// NewConnectionSpinner creates a globe spinner for network operations.
func NewConnectionSpinner(message string) *Spinner {
	s := NewSpinner(message)
	s.spinner = spinner.Globe
	s.interval = 180 * time.Millisecond
	return s
}

func (s *Spinner) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		frames := s.spinner.Frames
		for i := 0; ; i++ {
			fmt.Fprintf(s.out, "\r%s %s", SpinnerStyle.Render(frames[i%len(frames)]), s.message)

			select {
			case <-s.done:
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop clears the spinner line. Safe to call more than once.
func (s *Spinner) Stop() {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
		fmt.Fprint(s.out, "\r\033[K")
	})
}

// Spin shows a connection spinner with message while fn runs.
func Spin(message string, fn func() error) error {
	sp := NewConnectionSpinner(message)
	sp.Start()
	err := fn()
	sp.Stop()
	return err
}
