// Package tags writes ID3 metadata into mp3 results.
package tags

import (
	"fmt"
	"os"

	"github.com/bogem/id3v2/v2"
)

type Meta struct {
	Title  string
	Artist string
	Album  string
	// Cover is a JPEG file path; empty means no artwork.
	Cover string
}

// Write sets the text frames that are non-empty and replaces the front cover.
func Write(path string, m Meta) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("failed to open id3 tag: %w", err)
	}
	defer tag.Close()

	tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	if m.Title != "" {
		tag.SetTitle(m.Title)
	}
	if m.Artist != "" {
		tag.SetArtist(m.Artist)
	}
	if m.Album != "" {
		tag.SetAlbum(m.Album)
	}
	if m.Cover != "" {
		art, err := os.ReadFile(m.Cover)
		if err != nil {
			return fmt.Errorf("failed to read cover: %w", err)
		}
		tag.DeleteFrames(tag.CommonID("Attached picture"))
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    "image/jpeg",
			PictureType: id3v2.PTFrontCover,
			Description: "Front cover",
			Picture:     art,
		})
	}
	if err := tag.Save(); err != nil {
		return fmt.Errorf("failed to save id3 tag: %w", err)
	}
	return nil
}
