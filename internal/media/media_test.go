package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSniff(t *testing.T) {
	wav := append([]byte("RIFF\x24\x00\x00\x00WAVEfmt "), make([]byte, 20)...)
	mp4 := append([]byte{0, 0, 0, 0x20}, []byte("ftypM4A ")...)
	tests := []struct {
		name   string
		header []byte
		want   Container
	}{
		{"webm", []byte{0x1A, 0x45, 0xDF, 0xA3, 0x9F}, ContainerWebM},
		{"ogg", []byte("OggS\x00\x02"), ContainerOgg},
		{"mp4", mp4, ContainerMP4},
		{"wav", wav, ContainerWAV},
		{"mp3 id3", []byte("ID3\x03\x00"), ContainerMP3},
		{"mp3 frame", []byte{0xFF, 0xFB, 0x90, 0x44}, ContainerMP3},
		{"flac", []byte("fLaC\x00\x00"), ContainerFLAC},
		{"aac adts", []byte{0xFF, 0xF1, 0x50, 0x80}, ContainerAAC},
		{"text", []byte("hello world"), ContainerUnknown},
		{"empty", nil, ContainerUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Sniff(tc.header); got != tc.want {
				t.Fatalf("Sniff = %q, want %q", got, tc.want)
			}
		})
	}
	if !ContainerWebM.NeedsTranscode() || ContainerWAV.NeedsTranscode() {
		t.Fatal("NeedsTranscode mismatch")
	}
	if ContainerOgg.MIMEType() != "audio/ogg" {
		t.Fatalf("mime = %s", ContainerOgg.MIMEType())
	}
}

func TestFileStorage(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileStorage(root)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "audio", "r1"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "audio", "r1", "q1.webm"), []byte{0x1A, 0x45, 0xDF, 0xA3}, 0o644); err != nil {
		t.Fatal(err)
	}
	ok, err := s.Exists("audio/r1/q1.webm")
	if err != nil || !ok {
		t.Fatalf("exists: %v %v", ok, err)
	}
	ok, err = s.Exists("audio/r1/missing.webm")
	if err != nil || ok {
		t.Fatalf("missing: %v %v", ok, err)
	}
	rc, err := s.Open("audio/r1/q1.webm")
	if err != nil {
		t.Fatal(err)
	}
	c, err := SniffReader(rc)
	rc.Close()
	if err != nil || c != ContainerWebM {
		t.Fatalf("sniff stored file: %q %v", c, err)
	}
	if _, err := s.Resolve("../../etc/passwd"); !errors.Is(err, ErrOutsideRoot) {
		t.Fatalf("expected ErrOutsideRoot, got %v", err)
	}
	abs, err := s.Resolve("/audio/r1/q1.webm")
	if err != nil || abs != filepath.Join(s.Root, "audio", "r1", "q1.webm") {
		t.Fatalf("leading slash: %q %v", abs, err)
	}
}

func TestFFmpegTranscoderSuccess(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "q1.webm")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	tr := NewFFmpegTranscoder("", "")
	var gotArgs []string
	tr.run = func(_ context.Context, name string, args ...string) ([]byte, error) {
		gotArgs = append([]string{name}, args...)
		return nil, os.WriteFile(args[len(args)-1], []byte("RIFF"), 0o644)
	}
	dst, err := tr.Transcode(context.Background(), src, ContainerWebM)
	if err != nil {
		t.Fatalf("transcode: %v", err)
	}
	if filepath.Base(dst) != "q1.converted.wav" {
		t.Fatalf("dst = %s", dst)
	}
	if gotArgs[0] != "ffmpeg" || !strings.Contains(strings.Join(gotArgs, " "), "-ar 16000") {
		t.Fatalf("args = %v", gotArgs)
	}
}

func TestFFmpegTranscoderFailure(t *testing.T) {
	dir := t.TempDir()
	tr := NewFFmpegTranscoder("ffmpeg", dir)
	tr.run = func(context.Context, string, ...string) ([]byte, error) {
		return []byte("Invalid data found when processing input\n"), errors.New("exit status 1")
	}
	_, err := tr.Transcode(context.Background(), filepath.Join(dir, "bad.webm"), ContainerWebM)
	var ce *ConversionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConversionError, got %v", err)
	}
	if !strings.Contains(ce.Error(), "Invalid data found") {
		t.Fatalf("error lacks ffmpeg output: %v", ce)
	}
}
