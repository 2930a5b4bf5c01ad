package player

// Environment describes the host as seen by the UI layer.
type Environment struct {
	UserAgent        string
	ScreenWidth      int
	ScreenHeight     int
	PixelRatio       float64
	MaxTouchPoints   int
	HasKeyboard      bool
	TextTracks       bool
	PictureInPicture bool
	Fullscreen       bool
	CanPlayType      func(mime string) bool
}

// Capabilities tells the UI which controls make sense on this host.
type Capabilities struct {
	HLS              bool     `json:"hls"`
	DASH             bool     `json:"dash"`
	WebVTT           bool     `json:"webvtt"`
	PictureInPicture bool     `json:"pictureInPicture"`
	Fullscreen       bool     `json:"fullscreen"`
	Keyboard         bool     `json:"keyboard"`
	Touch            bool     `json:"touch"`
	MaxResolution    string   `json:"maxResolution"`
	Codecs           []string `json:"codecs"`
}

var codecProbes = []struct {
	name string
	mime string
}{
	{"h264", `video/mp4; codecs="avc1.42E01E"`},
	{"hevc", `video/mp4; codecs="hvc1.1.6.L93.B0"`},
	{"vp8", `video/webm; codecs="vp8"`},
	{"vp9", `video/webm; codecs="vp9"`},
	{"av1", `video/mp4; codecs="av01.0.05M.08"`},
	{"aac", `audio/mp4; codecs="mp4a.40.2"`},
	{"opus", `audio/webm; codecs="opus"`},
}

// DetectCapabilities reports what env and engines support. It has no side
// effects.
func DetectCapabilities(env Environment, engines EngineProvider) Capabilities {
	if engines == nil {
		engines = NoEngines{}
	}
	canPlay := env.CanPlayType
	if canPlay == nil {
		canPlay = func(string) bool { return false }
	}

	c := Capabilities{
		HLS:              engines.IsHLSAvailable() || canPlay(hlsMime),
		DASH:             engines.IsDASHAvailable(),
		WebVTT:           env.TextTracks,
		PictureInPicture: env.PictureInPicture,
		Fullscreen:       env.Fullscreen,
		Keyboard:         env.HasKeyboard || env.MaxTouchPoints == 0,
		Touch:            env.MaxTouchPoints > 0,
		MaxResolution:    maxResolution(env),
		Codecs:           []string{},
	}

	for _, p := range codecProbes {
		if canPlay(p.mime) {
			c.Codecs = append(c.Codecs, p.name)
		}
	}
	return c
}

func maxResolution(env Environment) string {
	short := env.ScreenHeight
	if env.ScreenWidth > 0 && (short == 0 || env.ScreenWidth < short) {
		short = env.ScreenWidth
	}
	if short == 0 {
		return "1080p"
	}

	ratio := env.PixelRatio
	if ratio < 1 {
		ratio = 1
	}
	h := int(float64(short) * ratio)

	switch {
	case h >= 2160:
		return "2160p"
	case h >= 1440:
		return "1440p"
	case h >= 1080:
		return "1080p"
	case h >= 720:
		return "720p"
	default:
		return "480p"
	}
}
