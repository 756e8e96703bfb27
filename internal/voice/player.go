/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package voice

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/guildplay/internal/playback"
)

// StreamSource supplies a fresh stream URL for tracks resolved without one.
type StreamSource interface {
	StreamURL(ctx context.Context, track playback.Track) (string, error)
}

// FFmpegFactory builds players that transcode a track's stream to Ogg/Opus
// with ffmpeg.
type FFmpegFactory struct {
	ffmpegPath string
	streams    StreamSource
	logger     zerolog.Logger
}

var _ playback.PlayerFactory = (*FFmpegFactory)(nil)

// NewFFmpegFactory creates a factory. streams may be nil when every track
// carries a stream URL.
func NewFFmpegFactory(ffmpegPath string, streams StreamSource, logger zerolog.Logger) *FFmpegFactory {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegFactory{
		ffmpegPath: ffmpegPath,
		streams:    streams,
		logger:     logger.With().Str("component", "ffmpeg").Logger(),
	}
}

// ffmpegArgs builds the transcoder command line for input.
func ffmpegArgs(input string) []string {
	var args []string
	if strings.HasPrefix(input, "http") {
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "2",
		)
	}
	return append(args,
		"-hide_banner",
		"-loglevel", "error",
		"-i", input,
		"-map", "0:a",
		"-acodec", "libopus",
		"-b:a", "128k",
		"-vbr", "on",
		"-ar", "48000",
		"-ac", "2",
		"-f", "ogg",
		"pipe:1",
	)
}

// CreatePlayer starts ffmpeg for track and waits for the first audio packet,
// so a source that cannot be decoded fails here rather than mid-playback.
func (f *FFmpegFactory) CreatePlayer(ctx context.Context, track playback.Track) (playback.Player, error) {
	input := track.StreamURL
	if input == "" {
		if f.streams == nil {
			return nil, fmt.Errorf("%w: no stream url for %q", playback.ErrConstruction, track.Title)
		}
		u, err := f.streams.StreamURL(ctx, track)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", playback.ErrConstruction, err)
		}
		input = u
	}

	cmd := exec.Command(f.ffmpegPath, ffmpegArgs(input)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	p := &Player{
		title:     track.Title,
		cmd:       cmd,
		ogg:       NewOggReader(stdout),
		logger:    f.logger.With().Str("title", track.Title).Int("pid", cmd.Process.Pid).Logger(),
		startedAt: time.Now(),
	}
	go p.monitorStderr(stderr)

	first := make(chan error, 1)
	go func() {
		pkt, err := p.ogg.ReadPacket()
		p.pending = pkt
		first <- err
	}()

	select {
	case err := <-first:
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, ErrShortPage) {
				if exitErr := p.wait(); exitErr != nil {
					err = fmt.Errorf("%w: %s", exitErr, p.lastStderr())
				}
			}
			_ = p.Release()
			return nil, fmt.Errorf("ffmpeg produced no audio: %w", err)
		}
	case <-ctx.Done():
		_ = p.Release()
		<-first
		return nil, ctx.Err()
	}

	p.logger.Debug().Dur("startup", time.Since(p.startedAt)).Msg("ffmpeg player ready")
	return p, nil
}

// Player is a running ffmpeg process producing Opus packets.
type Player struct {
	title     string
	cmd       *exec.Cmd
	ogg       *OggReader
	pending   []byte
	logger    zerolog.Logger
	startedAt time.Time

	mu       sync.Mutex
	stderr   []string
	released bool

	waitOnce sync.Once
	waitErr  error
}

// NextPacket returns the next Opus packet. At the end of the stream it
// returns io.EOF, or ffmpeg's failure if it exited abnormally.
func (p *Player) NextPacket() ([]byte, error) {
	if p.pending != nil {
		pkt := p.pending
		p.pending = nil
		return pkt, nil
	}
	pkt, err := p.ogg.ReadPacket()
	if err == nil {
		return pkt, nil
	}
	if p.isReleased() {
		return nil, io.EOF
	}
	if errors.Is(err, io.EOF) || errors.Is(err, ErrShortPage) {
		if exitErr := p.wait(); exitErr != nil {
			return nil, fmt.Errorf("ffmpeg: %w: %s", exitErr, p.lastStderr())
		}
		return nil, io.EOF
	}
	return nil, err
}

// Release kills ffmpeg and reaps it. It is safe to call more than once.
func (p *Player) Release() error {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return nil
	}
	p.released = true
	p.mu.Unlock()

	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	p.wait()
	p.logger.Debug().Dur("lifetime", time.Since(p.startedAt)).Msg("ffmpeg player released")
	return nil
}

func (p *Player) isReleased() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

func (p *Player) wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
	})
	return p.waitErr
}

func (p *Player) monitorStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		p.mu.Lock()
		p.stderr = append(p.stderr, line)
		if len(p.stderr) > 20 {
			p.stderr = p.stderr[1:]
		}
		p.mu.Unlock()
		p.logger.Debug().Str("ffmpeg", line).Msg("ffmpeg stderr")
	}
}

func (p *Player) lastStderr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.stderr) == 0 {
		return "no output"
	}
	return p.stderr[len(p.stderr)-1]
}
