// Package tagcodec reads and writes embedded tags through taglib.
//
// A Tag is scanned from one file, edited in memory and written to any path,
// which lets the commit transaction apply it to a shadow copy.
package tagcodec

import (
	"fmt"
	"strings"
	"time"

	"go.senan.xyz/taglib"

	"tagify/internal/metadata"
)

var fieldKeys = map[metadata.Field]string{
	metadata.FieldTitle:       taglib.Title,
	metadata.FieldArtist:      taglib.Artist,
	metadata.FieldAlbum:       taglib.Album,
	metadata.FieldAlbumArtist: taglib.AlbumArtist,
	metadata.FieldYear:        taglib.Date,
	metadata.FieldGenre:       taglib.Genre,
	metadata.FieldTrackNumber: taglib.TrackNumber,
	metadata.FieldDiscNumber:  taglib.DiscNumber,
	metadata.FieldComposer:    taglib.Composer,
}

// StreamInfo describes the audio stream.
type StreamInfo struct {
	Duration   time.Duration
	Bitrate    uint
	SampleRate uint
	Channels   uint
}

// Tag is an in-memory copy of a file's tag. Properties this package does not
// model (ISRC, comments, MusicBrainz ids) are carried through unchanged.
type Tag struct {
	path    string
	props   map[string][]string
	picture []byte
	info    StreamInfo
	closed  bool
}

// Scan reads the tag, cover image and stream properties of path.
func Scan(path string) (*Tag, error) {
	props, err := taglib.ReadTags(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tags from %s: %w", path, err)
	}
	p, err := taglib.ReadProperties(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read properties of %s: %w", path, err)
	}
	picture, err := taglib.ReadImage(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artwork from %s: %w", path, err)
	}
	if props == nil {
		props = map[string][]string{}
	}

	return &Tag{
		path:    path,
		props:   props,
		picture: picture,
		info: StreamInfo{
			Duration:   p.Length,
			Bitrate:    p.Bitrate,
			SampleRate: p.SampleRate,
			Channels:   p.Channels,
		},
	}, nil
}

// Probe reads only the stream properties of path.
func Probe(path string) (StreamInfo, error) {
	p, err := taglib.ReadProperties(path)
	if err != nil {
		return StreamInfo{}, fmt.Errorf("failed to read properties of %s: %w", path, err)
	}
	return StreamInfo{
		Duration:   p.Length,
		Bitrate:    p.Bitrate,
		SampleRate: p.SampleRate,
		Channels:   p.Channels,
	}, nil
}

// Path is the file the tag was scanned from.
func (t *Tag) Path() string { return t.path }

// Info returns the stream properties.
func (t *Tag) Info() StreamInfo { return t.info }

// Field returns the first value of f, or "".
func (t *Tag) Field(f metadata.Field) string {
	vals := t.props[fieldKeys[f]]
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// Values returns every text field keyed by field name.
func (t *Tag) Values() map[metadata.Field]string {
	values := make(map[metadata.Field]string, len(fieldKeys))
	for f := range fieldKeys {
		values[f] = t.Field(f)
	}
	return values
}

// SetField sets f to value. A blank value removes the field.
func (t *Tag) SetField(f metadata.Field, value string) {
	key, ok := fieldKeys[f]
	if !ok {
		return
	}
	if strings.TrimSpace(value) == "" {
		delete(t.props, key)
		return
	}
	t.props[key] = []string{value}
}

// RemoveField removes f.
func (t *Tag) RemoveField(f metadata.Field) {
	delete(t.props, fieldKeys[f])
}

// Picture returns the embedded front cover, or nil.
func (t *Tag) Picture() []byte { return t.picture }

// SetPicture replaces the embedded cover.
func (t *Tag) SetPicture(data []byte) { t.picture = data }

// RemovePicture drops the embedded cover.
func (t *Tag) RemovePicture() { t.picture = nil }

// Clear removes every property and the picture.
func (t *Tag) Clear() {
	t.props = map[string][]string{}
	t.picture = nil
}

// IsEmpty reports whether every known field is blank and there is no picture.
func (t *Tag) IsEmpty() bool {
	if len(t.picture) > 0 {
		return false
	}
	for f := range fieldKeys {
		if strings.TrimSpace(t.Field(f)) != "" {
			return false
		}
	}
	return true
}

// WriteTo writes the tag to path, replacing whatever tag it had. An empty tag
// removes the tag altogether.
func (t *Tag) WriteTo(path string) error {
	if t.closed {
		return fmt.Errorf("tag for %s is closed", t.path)
	}

	props := t.props
	if t.IsEmpty() {
		props = map[string][]string{}
	}
	if err := taglib.WriteTags(path, props, taglib.Clear); err != nil {
		return fmt.Errorf("failed to write tags to %s: %w", path, err)
	}
	if err := taglib.WriteImage(path, t.picture); err != nil {
		return fmt.Errorf("failed to write artwork to %s: %w", path, err)
	}
	return nil
}

// Close releases the tag. Later writes fail.
func (t *Tag) Close() error {
	t.closed = true
	t.picture = nil
	return nil
}
