package downloader

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"blog_vault/internal/domain"
)

// handlerSpec drives the one parameterized handling routine shared by
// all post types: how to derive the dedup key, whether the payload is
// a binary transfer or a text append, and which category file text
// payloads land in.
type handlerSpec struct {
	binary   bool
	category string
	key      func(domain.Post) string
}

// urlListManifest collects binary URLs when a blog runs in
// URL-list-only mode.
const urlListManifest = "urls.txt"

var handlers = map[domain.PostType]handlerSpec{
	domain.TypePhoto: {binary: true, key: fileNameFromURL},
	domain.TypeVideo: {binary: true, key: fileNameFromURL},
	domain.TypeAudio: {binary: true, key: fileNameFromURL},

	domain.TypeText:         {category: "texts.txt", key: postID},
	domain.TypeQuote:        {category: "quotes.txt", key: postID},
	domain.TypeLink:         {category: "links.txt", key: postID},
	domain.TypeConversation: {category: "conversations.txt", key: postID},
	domain.TypeAnswer:       {category: "answers.txt", key: postID},
	domain.TypePhotoMeta:    {category: "meta_photos.txt", key: postID},
	domain.TypeVideoMeta:    {category: "meta_videos.txt", key: postID},
	domain.TypeAudioMeta:    {category: "meta_audios.txt", key: postID},
}

func postID(p domain.Post) string {
	return p.ID
}

// fileNameFromURL derives the local file name for a binary post from
// the last segment of its URL path.
func fileNameFromURL(p domain.Post) string {
	if u, err := url.Parse(p.URL); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(p.URL)
}

// targetPath is where a binary payload lands on disk.
func targetPath(blog domain.Blog, fileName string) string {
	return filepath.Join(blog.Dir, fileName)
}

// categoryPath is the per-category text file for one blog.
func categoryPath(blog domain.Blog, category string) string {
	return filepath.Join(blog.Dir, category)
}

// animatedExts are image extensions previewed as video rather than as
// a still photo.
var animatedExts = map[string]bool{
	".gif":  true,
	".gifv": true,
	".webm": true,
}

func isAnimated(fileName string) bool {
	return animatedExts[strings.ToLower(filepath.Ext(fileName))]
}
