package source

// apiResponse is the page envelope of the v1-style JSON feed.
type apiResponse struct {
	TotalPosts int64     `json:"posts-total"`
	Posts      []apiPost `json:"posts"`
}

type apiPost struct {
	ID            string   `json:"id"`
	Type          string   `json:"type"`
	URL           string   `json:"url"`
	PhotoURL      string   `json:"photo-url-1280"`
	VideoURL      string   `json:"video-url"`
	AudioURL      string   `json:"audio-url"`
	UnixTimestamp int64    `json:"unix-timestamp"`
	Tags          []string `json:"tags"`
}
