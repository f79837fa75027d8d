// Package notifier sends desktop notifications for watch-mode step runs
package notifier

import (
	"fmt"
	"time"

	"github.com/gen2brain/beeep"
	"github.com/poltergeist/wisp/pkg/logger"
)

// SendFunc delivers one notification
type SendFunc func(title, message, icon string) error

// StepNotifier handles step notifications
type StepNotifier struct {
	enabled  bool
	beep     bool
	logger   logger.Logger
	send     SendFunc
	beepFunc func() error
}

// Config represents notification configuration
type Config struct {
	Enabled bool
	// BeepOnFailure plays the system beep next to failure notifications
	BeepOnFailure bool
}

// Option customises a StepNotifier
type Option func(*StepNotifier)

// WithSender replaces the desktop backend
func WithSender(send SendFunc) Option {
	return func(n *StepNotifier) {
		n.send = send
	}
}

// WithBeeper replaces the system beep
func WithBeeper(beep func() error) Option {
	return func(n *StepNotifier) {
		n.beepFunc = beep
	}
}

// New creates a new step notifier
func New(config Config, log logger.Logger, opts ...Option) *StepNotifier {
	if log == nil {
		log = logger.Discard()
	}
	n := &StepNotifier{
		enabled: config.Enabled,
		beep:    config.BeepOnFailure,
		logger:  log,
		send:    beeep.Notify,
		beepFunc: func() error {
			return beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration)
		},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// NotifyStepSuccess notifies that a step succeeded
func (n *StepNotifier) NotifyStepSuccess(step string, duration time.Duration) {
	if !n.enabled {
		return
	}
	n.sendNotification("✅ wisp", fmt.Sprintf("%s done in %s", step, formatDuration(duration)))
}

// NotifyStepFailure notifies that a step failed
func (n *StepNotifier) NotifyStepFailure(step string, err error) {
	if !n.enabled {
		return
	}
	n.sendNotification("❌ wisp: "+step+" failed", firstLine(err.Error()))

	if n.beep {
		if err := n.beepFunc(); err != nil {
			n.logger.Debug("Failed to play sound", logger.WithError(err))
		}
	}
}

// NotifyServing notifies that the dev server is up
func (n *StepNotifier) NotifyServing(url string) {
	if !n.enabled {
		return
	}
	n.sendNotification("👻 wisp", "Serving "+url)
}

func (n *StepNotifier) sendNotification(title, message string) {
	if err := n.send(title, message, ""); err != nil {
		// headless machines have no notification daemon; fall back to the log
		n.logger.Debug("Failed to send notification", logger.WithError(err))
		n.logger.Info(fmt.Sprintf("%s: %s", title, message))
	}
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
