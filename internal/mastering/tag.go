package mastering

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"
)

const tagTimeout = 5 * time.Minute

// WriteTags rewrites path in place with the given ID3 tags and optional
// cover art, using a separate ffmpeg invocation that copies the audio
// stream untouched. Inline cover bytes are spilled to a temp file that is
// removed afterwards.
func (e *Engine) WriteTags(ctx context.Context, jobID, path string, tags ID3) error {
	coverPath := tags.CoverPath
	if coverPath == "" && len(tags.CoverData) > 0 {
		tmp := e.tempFile(jobID, "cover.jpg")
		if err := os.WriteFile(tmp, tags.CoverData, 0o644); err != nil {
			return fmt.Errorf("failed to write inline cover art: %w", err)
		}
		defer e.cleanup(jobID, []string{tmp})
		coverPath = tmp
	}

	tagged := e.tempFile(jobID, "tagged.mp3")
	defer e.cleanup(jobID, []string{tagged})

	args := []string{"-y", "-i", path}
	if coverPath != "" {
		args = append(args, "-i", coverPath)
	}
	args = append(args, "-map", "0:a")
	if coverPath != "" {
		args = append(args,
			"-map", "1:0",
			"-c:v", "copy",
			"-disposition:v:0", "attached_pic")
	}
	args = append(args, "-c:a", "copy", "-id3v2_version", "3")

	for _, kv := range [][2]string{
		{"title", tags.Title},
		{"artist", tags.Artist},
		{"album", tags.Album},
		{"album_artist", tags.AlbumArtist},
		{"date", tags.Year},
		{"genre", tags.Genre},
	} {
		if kv[1] != "" {
			args = append(args, "-metadata", kv[0]+"="+kv[1])
		}
	}
	if tags.TrackIndex > 0 {
		track := strconv.Itoa(tags.TrackIndex)
		if tags.TrackTotal > 0 {
			track += "/" + strconv.Itoa(tags.TrackTotal)
		}
		args = append(args, "-metadata", "track="+track)
	}
	args = append(args, tagged)

	if _, err := e.run.run(ctx, tagTimeout, args...); err != nil {
		return fmt.Errorf("failed to tag %s: %w", path, err)
	}
	if err := moveFile(tagged, path); err != nil {
		return fmt.Errorf("failed to replace tagged file: %w", err)
	}
	return nil
}
