package mastering

import (
	"encoding/json"
	"fmt"
	"strings"
)

// analysisFilter is the measurement-only loudnorm pass.
func analysisFilter(opts Options) string {
	return fmt.Sprintf("loudnorm=I=%g:TP=%g:LRA=%g:print_format=json",
		opts.TargetLUFS, opts.TruePeak, opts.LRA)
}

// correctionFilter is the second loudnorm pass, seeded with every measured
// value from the analysis. linear=true keeps the correction a constant gain
// change; dynamic mode pumps on long spoken material and is not acceptable
// for retail audiobook masters.
func correctionFilter(opts Options, a LoudnormAnalysis) string {
	return fmt.Sprintf(
		"loudnorm=I=%g:TP=%g:LRA=%g:measured_I=%s:measured_TP=%s:measured_LRA=%s:measured_thresh=%s:offset=%s:linear=true",
		opts.TargetLUFS, opts.TruePeak, opts.LRA,
		a.InputI, a.InputTP, a.InputLRA, a.InputThresh, a.TargetOffset)
}

// deEssFilter attenuates the sibilant band around 6.5 kHz.
func deEssFilter(opts Options) string {
	return fmt.Sprintf("equalizer=f=6500:t=q:w=1:g=%g", opts.DeEssGainDB)
}

// roomToneFilter pads silence before and after the speech.
func roomToneFilter(opts Options) string {
	return fmt.Sprintf("adelay=%d:all=1,apad=pad_dur=%g",
		opts.LeadInSilence.Milliseconds(), opts.TailSilence.Seconds())
}

// parseLoudnorm locates the loudnorm JSON report inside ffmpeg's otherwise
// free-form stderr and decodes it. The report is the first brace-balanced
// object after the "Parsed_loudnorm" banner when present.
func parseLoudnorm(stderr string) (LoudnormAnalysis, error) {
	var a LoudnormAnalysis

	raw, ok := extractJSON(stderr)
	if !ok {
		return a, fmt.Errorf("no loudnorm JSON found in ffmpeg output")
	}
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return a, fmt.Errorf("failed to decode loudnorm JSON: %w", err)
	}
	if a.InputI == "" {
		return a, fmt.Errorf("loudnorm JSON missing input_i: %s", raw)
	}
	return a, nil
}

// extractJSON returns the first balanced {...} object in s, starting after
// the loudnorm banner when one is present. ffmpeg interleaves progress lines
// and the filter report on the same stream, so brace scanning is the only
// reliable way to pull the report out.
func extractJSON(s string) (string, bool) {
	if i := strings.LastIndex(s, "Parsed_loudnorm"); i >= 0 {
		s = s[i:]
	}
	start := strings.Index(s, "{")
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
