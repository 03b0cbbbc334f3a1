package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

type Transcoder interface {
	// Transcode converts src to a wav file and returns its path.
	Transcode(ctx context.Context, src string, from Container) (string, error)
}

type ConversionError struct {
	Src    string
	From   Container
	Output string
	Err    error
}

func (e *ConversionError) Error() string {
	msg := fmt.Sprintf("convert %s (%s) to wav: %v", filepath.Base(e.Src), e.From, e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		lines := strings.Split(out, "\n")
		msg += ": " + strings.TrimSpace(lines[len(lines)-1])
	}
	return msg
}

func (e *ConversionError) Unwrap() error { return e.Err }

type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// FFmpegTranscoder shells out to ffmpeg, producing 16 kHz mono PCM wav next
// to the source unless OutDir is set.
type FFmpegTranscoder struct {
	Binary string
	OutDir string
	run    runFunc
}

func NewFFmpegTranscoder(binary, outDir string) *FFmpegTranscoder {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	return &FFmpegTranscoder{Binary: binary, OutDir: outDir, run: runCommand}
}

func (t *FFmpegTranscoder) Transcode(ctx context.Context, src string, from Container) (string, error) {
	dir := t.OutDir
	if dir == "" {
		dir = filepath.Dir(src)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &ConversionError{Src: src, From: from, Err: err}
	}
	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	dst := filepath.Join(dir, base+".converted.wav")
	out, err := t.run(ctx, t.Binary, "-y", "-hide_banner", "-loglevel", "error",
		"-i", src, "-ac", "1", "-ar", "16000", "-f", "wav", dst)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		_ = os.Remove(dst)
		return "", &ConversionError{Src: src, From: from, Output: string(out), Err: err}
	}
	if info, statErr := os.Stat(dst); statErr != nil || info.Size() == 0 {
		return "", &ConversionError{Src: src, From: from, Output: string(out), Err: fmt.Errorf("no output produced")}
	}
	return dst, nil
}
