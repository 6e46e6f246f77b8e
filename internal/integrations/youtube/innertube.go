package youtube

const (
	defaultBaseURL   = "https://www.youtube.com"
	playerPath       = "/youtubei/v1/player"
	androidVersion   = "20.10.38"
	androidUserAgent = "com.google.android.youtube/" + androidVersion + " (Linux; U; Android 11) gzip"
	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

	playerResponseMarker = "ytInitialPlayerResponse = "
)

type playerRequest struct {
	VideoID        string        `json:"videoId"`
	Context        playerContext `json:"context"`
	RacyCheckOk    bool          `json:"racyCheckOk"`
	ContentCheckOk bool          `json:"contentCheckOk"`
}

type playerContext struct {
	Client playerClient `json:"client"`
}

type playerClient struct {
	ClientName        string `json:"clientName"`
	ClientVersion     string `json:"clientVersion"`
	AndroidSdkVersion int    `json:"androidSdkVersion,omitempty"`
	Hl                string `json:"hl,omitempty"`
	Gl                string `json:"gl,omitempty"`
}

// playerResponse is the subset of the player response that lists captions.
type playerResponse struct {
	Captions *struct {
		PlayerCaptionsTracklistRenderer struct {
			CaptionTracks []captionTrack `json:"captionTracks"`
		} `json:"playerCaptionsTracklistRenderer"`
	} `json:"captions"`
	PlayabilityStatus *struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
}

type captionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	Kind         string `json:"kind"` // "asr" = auto-generated
}

// timedText is the default timedtext XML format: one <text> per caption with
// start and dur in seconds.
type timedText struct {
	Lines []timedLine `xml:"text"`
}

type timedLine struct {
	Start float64 `xml:"start,attr"`
	Dur   float64 `xml:"dur,attr"`
	Text  string  `xml:",chardata"`
}
