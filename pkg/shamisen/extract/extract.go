// Package extract reads tags and embedded cover art from audio buffers.
package extract

import (
	"bytes"
	"fmt"
	"mime"
	"strings"

	"github.com/dhowden/tag"
	"github.com/tendant/shamisen/pkg/shamisen"
)

// DefaultCoverFormat is used when a picture carries neither MIME type nor extension.
const DefaultCoverFormat = "image/jpeg"

var audioMIMETypes = map[tag.FileType]string{
	tag.MP3:  "audio/mpeg",
	tag.M4A:  "audio/mp4",
	tag.M4B:  "audio/mp4",
	tag.M4P:  "audio/mp4",
	tag.ALAC: "audio/mp4",
	tag.FLAC: "audio/flac",
	tag.OGG:  "audio/ogg",
	tag.DSF:  "audio/dsf",
}

// TagExtractor implements shamisen.Extractor on top of github.com/dhowden/tag.
// It understands ID3v1/ID3v2 (MP3), MP4 atoms (M4A/M4B), FLAC and Ogg Vorbis.
type TagExtractor struct{}

// New creates a TagExtractor
func New() *TagExtractor {
	return &TagExtractor{}
}

// Extract parses data. Malformed input, including input that makes the tag
// parser panic, is reported as shamisen.ErrNoMetadataFound. A file without
// an embedded picture yields Metadata with a nil Cover.
func (e *TagExtractor) Extract(data []byte) (meta *shamisen.Metadata, err error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", shamisen.ErrNoMetadataFound)
	}

	defer func() {
		if r := recover(); r != nil {
			meta = nil
			err = fmt.Errorf("%w: malformed tags: %v", shamisen.ErrNoMetadataFound, r)
		}
	}()

	m, err := tag.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shamisen.ErrNoMetadataFound, err)
	}

	meta = &shamisen.Metadata{
		ContainerFormat: string(m.Format()),
		FileType:        string(m.FileType()),
		MIMEType:        AudioMIMEType(m.FileType()),
		Title:           strings.TrimSpace(m.Title()),
		Artist:          strings.TrimSpace(m.Artist()),
		Album:           strings.TrimSpace(m.Album()),
	}

	if pic := m.Picture(); pic != nil && len(pic.Data) > 0 {
		meta.Cover = &shamisen.Cover{
			Data:   pic.Data,
			Format: coverFormat(pic),
		}
	}

	return meta, nil
}

// AudioMIMEType maps a detected file type to the content type stored with the audio object.
func AudioMIMEType(ft tag.FileType) string {
	if t, ok := audioMIMETypes[ft]; ok {
		return t
	}
	return "application/octet-stream"
}

func coverFormat(pic *tag.Picture) string {
	if pic.MIMEType != "" {
		return strings.ToLower(pic.MIMEType)
	}
	if pic.Ext != "" {
		if t := mime.TypeByExtension("." + strings.ToLower(pic.Ext)); t != "" {
			return t
		}
	}
	return DefaultCoverFormat
}
