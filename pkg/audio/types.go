package audio

import (
	"mime"
	"strconv"
	"strings"
	"time"
)

// Content types understood by the capture pipeline and the transcriber
// backends. Anything else is forwarded to the remote service untouched.
const (
	// ContentTypePCM is raw 16-bit signed little-endian PCM. Sample rate and
	// channel count travel in [Format].
	ContentTypePCM = "audio/pcm"

	// ContentTypeWAV is PCM wrapped in a RIFF/WAV container.
	ContentTypeWAV = "audio/wav"

	// ContentTypeWebM is the MediaRecorder default in Chromium browsers.
	ContentTypeWebM = "audio/webm"

	// ContentTypeOgg is the MediaRecorder default in Firefox.
	ContentTypeOgg = "audio/ogg"
)

// AudioFrame is a single chunk of captured audio as delivered by a [Stream].
type AudioFrame struct {
	// Data holds the encoded audio bytes. For PCM streams this is 16-bit
	// little-endian samples; for container formats it is an opaque slice of
	// the container byte stream.
	Data []byte

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format describes the encoding of a capture stream.
type Format struct {
	// ContentType is the MIME type of the frame payload, optionally with
	// parameters (e.g., "audio/webm;codecs=opus").
	ContentType string

	// SampleRate in Hz. Only meaningful for PCM.
	SampleRate int

	// Channels is the interleaved channel count. Only meaningful for PCM.
	Channels int
}

// IsPCM reports whether f carries raw PCM samples.
func (f Format) IsPCM() bool {
	return MediaType(f.ContentType) == ContentTypePCM
}

// MediaType strips parameters from a content type and lower-cases it.
// Unparseable values are returned trimmed and lower-cased.
func MediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		if i := strings.IndexByte(contentType, ';'); i >= 0 {
			contentType = contentType[:i]
		}
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

// FileExtension returns the conventional file extension (without dot) for a
// content type. Remote transcription APIs infer the codec from the upload
// file name, so this must match what they accept.
func FileExtension(contentType string) string {
	switch MediaType(contentType) {
	case ContentTypePCM, ContentTypeWAV, "audio/x-wav", "audio/wave":
		return "wav"
	case ContentTypeWebM, "video/webm":
		return "webm"
	case ContentTypeOgg, "audio/opus":
		return "ogg"
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return "m4a"
	case "audio/flac", "audio/x-flac":
		return "flac"
	default:
		return "bin"
	}
}

// MIMEType returns the content type to declare for a payload in this format.
// PCM formats carry their layout as "rate" and "channels" parameters so that
// receivers can wrap the samples in a container.
func (f Format) MIMEType() string {
	if !f.IsPCM() {
		return f.ContentType
	}
	return mime.FormatMediaType(ContentTypePCM, map[string]string{
		"rate":     strconv.Itoa(f.SampleRate),
		"channels": strconv.Itoa(f.Channels),
	})
}

// ParseFormat is the inverse of [Format.MIMEType]. Missing or invalid PCM
// parameters default to 16000 Hz mono.
func ParseFormat(contentType string) Format {
	f := Format{ContentType: contentType}
	if MediaType(contentType) != ContentTypePCM {
		return f
	}
	f.ContentType = ContentTypePCM
	f.SampleRate, f.Channels = 16000, 1
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return f
	}
	if v, err := strconv.Atoi(params["rate"]); err == nil && v > 0 {
		f.SampleRate = v
	}
	if v, err := strconv.Atoi(params["channels"]); err == nil && v > 0 {
		f.Channels = v
	}
	return f
}
