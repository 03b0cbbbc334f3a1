package media

import (
	"bytes"
	"io"
	"net/http"
)

type Container string

const (
	ContainerUnknown Container = ""
	ContainerWebM    Container = "webm"
	ContainerOgg     Container = "ogg"
	ContainerMP4     Container = "mp4"
	ContainerWAV     Container = "wav"
	ContainerMP3     Container = "mp3"
	ContainerFLAC    Container = "flac"
	ContainerAAC     Container = "aac"
)

var mimeTypes = map[Container]string{
	ContainerWebM: "audio/webm",
	ContainerOgg:  "audio/ogg",
	ContainerMP4:  "audio/mp4",
	ContainerWAV:  "audio/wav",
	ContainerMP3:  "audio/mp3",
	ContainerFLAC: "audio/flac",
	ContainerAAC:  "audio/aac",
}

func (c Container) MIMEType() string { return mimeTypes[c] }

// NeedsTranscode reports whether the gateway rejects c and it must be
// converted to wav first.
func (c Container) NeedsTranscode() bool {
	return c == ContainerWebM || c == ContainerMP4
}

const sniffLen = 512

// Sniff identifies the audio container from the leading bytes of a file.
func Sniff(header []byte) Container {
	switch {
	case bytes.HasPrefix(header, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return ContainerWebM
	case bytes.HasPrefix(header, []byte("OggS")):
		return ContainerOgg
	case len(header) >= 12 && bytes.Equal(header[4:8], []byte("ftyp")):
		return ContainerMP4
	case len(header) >= 12 && bytes.HasPrefix(header, []byte("RIFF")) && bytes.Equal(header[8:12], []byte("WAVE")):
		return ContainerWAV
	case bytes.HasPrefix(header, []byte("ID3")):
		return ContainerMP3
	case bytes.HasPrefix(header, []byte("fLaC")):
		return ContainerFLAC
	case len(header) >= 2 && header[0] == 0xFF && (header[1]&0xF6) == 0xF0:
		return ContainerAAC
	case len(header) >= 2 && header[0] == 0xFF && (header[1]&0xE0) == 0xE0:
		return ContainerMP3
	}
	switch http.DetectContentType(header) {
	case "audio/wave":
		return ContainerWAV
	case "audio/mpeg":
		return ContainerMP3
	case "application/ogg":
		return ContainerOgg
	case "video/webm":
		return ContainerWebM
	case "video/mp4":
		return ContainerMP4
	}
	return ContainerUnknown
}

// SniffReader reads up to the sniff length from r and identifies it.
func SniffReader(r io.Reader) (Container, error) {
	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return ContainerUnknown, err
	}
	return Sniff(buf[:n]), nil
}
