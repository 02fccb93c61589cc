// Package speech reads chat turns aloud.
package speech

import (
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"sync"

	"pasta/chat/internal/config"
	"pasta/chat/internal/logging"
)

// ErrBusy is returned by Speak while another utterance is in progress.
var ErrBusy = errors.New("speech: already speaking")

// Speaker starts and stops text-to-speech.
type Speaker interface {
	// Speak starts reading text and returns immediately. done is called once the
	// utterance ends, whether it finished or was stopped.
	Speak(text string, done func()) error
	Stop() error
	IsSpeaking() bool
}

// CommandSpeaker speaks by running an external TTS program with the text as its last argument.
type CommandSpeaker struct {
	Command string
	Args    []string

	mu  sync.Mutex
	cmd *exec.Cmd
}

// NewCommandSpeaker creates a CommandSpeaker.
func NewCommandSpeaker(command string, args ...string) *CommandSpeaker {
	return &CommandSpeaker{Command: command, Args: args}
}

func (s *CommandSpeaker) Speak(text string, done func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil {
		return ErrBusy
	}

	args := append(append([]string{}, s.Args...), text)
	cmd := exec.Command(s.Command, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", s.Command, err)
	}
	s.cmd = cmd

	go func() {
		_ = cmd.Wait()
		s.mu.Lock()
		if s.cmd == cmd {
			s.cmd = nil
		}
		s.mu.Unlock()
		if done != nil {
			done()
		}
	}()
	return nil
}

func (s *CommandSpeaker) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil {
		return nil
	}
	cmd := s.cmd
	s.cmd = nil
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, exec.ErrWaitDelay) {
		return fmt.Errorf("failed to stop speech: %w", err)
	}
	return nil
}

func (s *CommandSpeaker) IsSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmd != nil
}

// Nop is a Speaker for machines without a TTS program. Speak finishes immediately.
type Nop struct{}

func (Nop) Speak(_ string, done func()) error {
	if done != nil {
		go done()
	}
	return nil
}

func (Nop) Stop() error      { return nil }
func (Nop) IsSpeaking() bool { return false }

// DefaultCommand is the TTS program used when none is configured.
func DefaultCommand() string {
	if runtime.GOOS == "darwin" {
		return "say"
	}
	return "espeak-ng"
}

// New returns a CommandSpeaker for the configured program, or Nop when it is not installed.
func New(cfg config.SpeechConfig) Speaker {
	command := cfg.Command
	if command == "" {
		command = DefaultCommand()
	}
	path, err := exec.LookPath(command)
	if err != nil {
		logging.Warnw("text-to-speech disabled", "command", command, "error", err)
		return Nop{}
	}
	return NewCommandSpeaker(path, cfg.Args...)
}
