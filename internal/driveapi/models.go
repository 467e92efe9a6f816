package driveapi

// RawURL is a time-limited, signed download or preview URL resolved from the
// vendor API for a single file.
type RawURL struct {
	DriveID    string `json:"drive_id"`
	FileID     string `json:"file_id"`
	URL        string `json:"url"`
	Size       int64  `json:"size"`
	ExpireTime int64  `json:"expire_time"`

	// Transcoded preview variants; empty for plain downloads.
	Duration float64 `json:"duration"`
	URLQHD   string  `json:"url_qhd"`
	URLFHD   string  `json:"url_fhd"`
	URLHD    string  `json:"url_hd"`
	URLSD    string  `json:"url_sd"`
	URLLD    string  `json:"url_ld"`

	Subtitles []Subtitle `json:"subtitles,omitempty"`
}

// Subtitle is a sidecar subtitle stream attached to a transcoded preview.
type Subtitle struct {
	Language string `json:"language"`
	URL      string `json:"url"`
}

// BestPreviewURL returns the highest-quality transcoded variant available,
// falling back to the plain URL.
func (r *RawURL) BestPreviewURL() string {
	for _, u := range []string{r.URLQHD, r.URLFHD, r.URLHD, r.URLSD, r.URLLD} {
		if u != "" {
			return u
		}
	}
	return r.URL
}

// ResolutionError carries the vendor API's error message verbatim. The
// vendor signals failure with an error string in the response body rather
// than a structured payload, and that text is what callers surface.
type ResolutionError struct {
	Message string
}

func (e *ResolutionError) Error() string { return e.Message }
