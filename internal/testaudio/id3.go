// Package testaudio builds small tagged audio buffers for tests.
package testaudio

import (
	"encoding/binary"
)

// Tags describes the ID3v2.3 frames to write. Empty fields are skipped.
type Tags struct {
	Title     string
	Artist    string
	Album     string
	CoverMIME string
	Cover     []byte
}

// MP3 returns an ID3v2.3 tag followed by a few silent MPEG-1 Layer III frames.
func MP3(t Tags) []byte {
	var frames []byte
	if t.Title != "" {
		frames = append(frames, textFrame("TIT2", t.Title)...)
	}
	if t.Artist != "" {
		frames = append(frames, textFrame("TPE1", t.Artist)...)
	}
	if t.Album != "" {
		frames = append(frames, textFrame("TALB", t.Album)...)
	}
	if len(t.Cover) > 0 {
		frames = append(frames, apicFrame(t.CoverMIME, t.Cover)...)
	}

	out := []byte{'I', 'D', '3', 0x03, 0x00, 0x00}
	out = append(out, syncsafe(len(frames))...)
	out = append(out, frames...)
	return append(out, silence(4)...)
}

// JPEG returns n bytes that start with a JPEG SOI marker.
func JPEG(n int) []byte {
	b := make([]byte, n)
	if n >= 3 {
		b[0], b[1], b[2] = 0xFF, 0xD8, 0xFF
	}
	for i := 3; i < n; i++ {
		b[i] = byte(i % 251)
	}
	return b
}

func textFrame(id, text string) []byte {
	body := append([]byte{0x00}, text...)
	return frame(id, body)
}

func apicFrame(mimeType string, data []byte) []byte {
	body := []byte{0x00}
	body = append(body, mimeType...)
	body = append(body, 0x00) // end of MIME type
	body = append(body, 0x03) // front cover
	body = append(body, 0x00) // empty description
	body = append(body, data...)
	return frame("APIC", body)
}

func frame(id string, body []byte) []byte {
	b := make([]byte, 10, 10+len(body))
	copy(b, id)
	binary.BigEndian.PutUint32(b[4:8], uint32(len(body)))
	return append(b, body...)
}

func syncsafe(n int) []byte {
	return []byte{
		byte(n >> 21 & 0x7f),
		byte(n >> 14 & 0x7f),
		byte(n >> 7 & 0x7f),
		byte(n & 0x7f),
	}
}

// silence returns n MPEG-1 Layer III frames (128 kbps, 44.1 kHz, 417 bytes each).
func silence(n int) []byte {
	const frameLen = 417
	out := make([]byte, 0, n*frameLen)
	for i := 0; i < n; i++ {
		f := make([]byte, frameLen)
		f[0], f[1], f[2], f[3] = 0xFF, 0xFB, 0x90, 0x00
		out = append(out, f...)
	}
	return out
}
