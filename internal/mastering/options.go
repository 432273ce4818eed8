// Package mastering turns raw synthesized audio into a retail-ready file:
// de-essing, two-pass loudness normalization, room tone padding, advisory
// verification and ID3 tagging, all driven through ffmpeg subprocesses.
package mastering

import "time"

// Options controls the mastering chain. The zero value is not usable; start
// from DefaultOptions and override.
type Options struct {
	TargetLUFS  float64 // integrated loudness target
	TruePeak    float64 // true peak ceiling, dBTP
	LRA         float64 // loudness range target
	DeEss       bool    // attenuate sibilant band before normalization
	DeEssGainDB float64 // negative gain applied around 6.5 kHz

	LeadInSilence time.Duration // room tone before the first word
	TailSilence   time.Duration // room tone after the last word

	SampleRate int    // output sample rate, Hz
	Bitrate    string // output bitrate, e.g. "128k"

	StageTimeout time.Duration // hard kill per ffmpeg stage
	ProbeTimeout time.Duration // hard kill for analysis passes
}

// DefaultOptions are the ACX-oriented settings: -20 LUFS, -3 dBTP ceiling,
// 44.1 kHz 128 kbps mono, one second of head room tone and three of tail.
func DefaultOptions() Options {
	return Options{
		TargetLUFS:    -20,
		TruePeak:      -3,
		LRA:           9,
		DeEss:         true,
		DeEssGainDB:   -4,
		LeadInSilence: time.Second,
		TailSilence:   3 * time.Second,
		SampleRate:    44100,
		Bitrate:       "128k",
		StageTimeout:  30 * time.Minute,
		ProbeTimeout:  10 * time.Minute,
	}
}

// LoudnormAnalysis is the measurement report of ffmpeg's loudnorm filter.
// Values stay strings, exactly as the filter prints them, and are fed back
// verbatim into the correction pass.
type LoudnormAnalysis struct {
	InputI       string `json:"input_i"`
	InputTP      string `json:"input_tp"`
	InputLRA     string `json:"input_lra"`
	InputThresh  string `json:"input_thresh"`
	OutputI      string `json:"output_i"`
	OutputTP     string `json:"output_tp"`
	OutputLRA    string `json:"output_lra"`
	OutputThresh string `json:"output_thresh"`
	TargetOffset string `json:"target_offset"`
}

// ID3 is the tag set written onto the mastered file. Track is rendered as
// "index/total". Cover art comes from CoverPath or, failing that, from the
// inline CoverData bytes.
type ID3 struct {
	Title       string
	Artist      string
	Album       string
	AlbumArtist string
	Year        string
	TrackIndex  int
	TrackTotal  int
	Genre       string
	CoverPath   string
	CoverData   []byte
}

// Report summarizes one mastering run for the caller's records.
type Report struct {
	Analysis   LoudnormAnalysis
	Verified   bool
	VerifyNote string
}
