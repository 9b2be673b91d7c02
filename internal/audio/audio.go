// Package audio measures and normalizes voice-note media by shelling out to
// ffprobe/ffmpeg. Duration is always taken from the decoded container, never
// from message metadata.
package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Processor runs duration probes and format conversion in a working
// directory that the pipeline is responsible for cleaning.
type Processor struct {
	ffmpegPath  string
	ffprobePath string
}

func NewProcessor() *Processor {
	return &Processor{
		ffmpegPath:  "ffmpeg",
		ffprobePath: "ffprobe",
	}
}

// WriteTemp persists raw media bytes to a uniquely named file under dir and
// returns its path.
func (p *Processor) WriteTemp(dir string, data []byte, ext string) (string, error) {
	if ext == "" {
		ext = ".ogg"
	}
	path := filepath.Join(dir, "voxnote-"+uuid.NewString()+ext)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write temp audio: %w", err)
	}
	return path, nil
}

// Duration probes the precise duration of the audio file in seconds.
func (p *Processor) Duration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe output %q: %w", strings.TrimSpace(string(out)), err)
	}
	if seconds <= 0 {
		return 0, fmt.Errorf("ffprobe reported non-positive duration %f", seconds)
	}
	return seconds, nil
}

// ConvertToWAV normalizes the input to mono 16 kHz PCM WAV, the canonical
// form the transcription collaborator expects. Returns the converted path.
func (p *Processor) ConvertToWAV(ctx context.Context, inputPath string) (string, error) {
	outputPath := strings.TrimSuffix(inputPath, filepath.Ext(inputPath)) + ".wav"

	cmd := exec.CommandContext(ctx, p.ffmpegPath,
		"-y",
		"-i", inputPath,
		"-ac", "1",
		"-ar", "16000",
		"-acodec", "pcm_s16le",
		outputPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		// A failed run can leave a partial file; the caller cleans up any
		// path it receives, so return it alongside the error.
		return outputPath, fmt.Errorf("ffmpeg convert %s: %w: %s", inputPath, err, truncate(string(out), 400))
	}
	return outputPath, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
