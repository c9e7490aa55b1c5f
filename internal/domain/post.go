package domain

import "time"

// PostType identifies the kind of content a post descriptor points at.
type PostType int

const (
	TypePhoto PostType = iota
	TypeVideo
	TypeAudio
	TypeText
	TypeQuote
	TypeLink
	TypeConversation
	TypeAnswer
	TypePhotoMeta
	TypeVideoMeta
	TypeAudioMeta
)

var postTypeNames = map[PostType]string{
	TypePhoto:        "photo",
	TypeVideo:        "video",
	TypeAudio:        "audio",
	TypeText:         "text",
	TypeQuote:        "quote",
	TypeLink:         "link",
	TypeConversation: "conversation",
	TypeAnswer:       "answer",
	TypePhotoMeta:    "photo_meta",
	TypeVideoMeta:    "video_meta",
	TypeAudioMeta:    "audio_meta",
}

func (t PostType) String() string {
	if name, ok := postTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// Binary reports whether posts of this type carry a downloadable payload.
// The remaining types are persisted as one line in a per-category text file.
func (t PostType) Binary() bool {
	switch t {
	case TypePhoto, TypeVideo, TypeAudio:
		return true
	default:
		return false
	}
}

// Post is an immutable descriptor for one discoverable content item.
type Post struct {
	ID        string
	URL       string
	Timestamp int64 // seconds since epoch; zero means unknown
	Type      PostType
	Tags      []string
}

// PublishedAt returns the publish time in the local zone. Descriptors
// without a timestamp default to the current time.
func (p Post) PublishedAt() time.Time {
	if p.Timestamp == 0 {
		return time.Now()
	}
	return time.Unix(p.Timestamp, 0)
}

// HasAnyTag reports whether the post carries at least one of the given
// tags. An empty filter matches everything.
func (p Post) HasAnyTag(tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	for _, want := range tags {
		for _, have := range p.Tags {
			if have == want {
				return true
			}
		}
	}
	return false
}
