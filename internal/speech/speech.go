// Package speech reads short texts aloud through an espeak-compatible command.
package speech

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"

	"k8s.io/klog/v2"

	"flowerpod/internal/config"
)

// WelcomeText is read on the landing page.
const WelcomeText = "Welcome to the FlowerPod Website."

var ErrUnknownVoice = errors.New("unknown voice")

var voices = map[string]string{
	"Male":   "en+m3",
	"Female": "en+f3",
}

type Synthesizer interface {
	Speak(ctx context.Context, text, voice string) error
}

// New returns a no-op synthesizer unless speech is enabled.
func New(cfg config.SpeechConfig) Synthesizer {
	if !cfg.Enabled {
		return Nop{}
	}
	return &Command{Path: cfg.Command, Rate: cfg.Rate, Volume: cfg.Volume, DefaultVoice: cfg.Voice}
}

// Nop accepts every request and produces no sound.
type Nop struct{}

func (Nop) Speak(_ context.Context, _, voice string) error {
	if voice != "" {
		if _, ok := voices[voice]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownVoice, voice)
		}
	}
	return nil
}

// Command runs the speech binary once per request.
type Command struct {
	Path         string
	Rate         int
	Volume       int
	DefaultVoice string
}

func (c *Command) args(text, voice string) ([]string, error) {
	if voice == "" {
		voice = c.DefaultVoice
	}
	v, ok := voices[voice]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVoice, voice)
	}
	return []string{
		"-v", v,
		"-s", strconv.Itoa(c.Rate),
		"-a", strconv.Itoa(c.Volume),
		"--", text,
	}, nil
}

func (c *Command) Speak(ctx context.Context, text, voice string) error {
	args, err := c.args(text, voice)
	if err != nil {
		return err
	}
	out, err := exec.CommandContext(ctx, c.Path, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", c.Path, err, out)
	}
	klog.V(3).Infof("spoke %d chars with voice %s", len(text), args[1])
	return nil
}
