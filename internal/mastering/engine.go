package mastering

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
)

// Engine runs the mastering chain. One Engine serves all concurrent jobs;
// every invocation works on its own uniquely named temp files.
type Engine struct {
	run    *runner
	log    *log.Logger
	tmpDir string
}

// NewEngine creates an engine invoking ffmpegPath (empty means "ffmpeg" on
// PATH) with temp files under tmpDir (empty means the system temp dir).
func NewEngine(ffmpegPath, tmpDir string, logger *log.Logger) *Engine {
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	return &Engine{
		run:    newRunner(ffmpegPath),
		log:    logger,
		tmpDir: tmpDir,
	}
}

// Master runs the full chain on inputPath and writes the result to
// outputPath. De-essing and room tone degrade to a pass-through when their
// stage fails; analysis and correction failures abort the run, and the
// caller decides whether to fall back to the raw input. Verification is
// advisory: its outcome lands in the Report, never in the error.
func (e *Engine) Master(ctx context.Context, jobID, inputPath, outputPath string, opts Options) (*Report, error) {
	var temps []string
	defer func() { e.cleanup(jobID, temps) }()

	current := inputPath

	if opts.DeEss {
		deessed := e.tempFile(jobID, "deess.mp3")
		temps = append(temps, deessed)
		_, err := e.run.run(ctx, opts.StageTimeout,
			"-y", "-i", current,
			"-af", deEssFilter(opts),
			"-ar", strconv.Itoa(opts.SampleRate), "-ac", "1", "-b:a", opts.Bitrate,
			deessed)
		if err != nil {
			e.log.Printf("mastering %s: de-ess failed, continuing without: %v", jobID, err)
		} else {
			current = deessed
		}
	}

	stderr, err := e.run.run(ctx, opts.ProbeTimeout,
		"-hide_banner", "-nostats", "-i", current,
		"-af", analysisFilter(opts),
		"-f", "null", "-")
	if err != nil {
		return nil, fmt.Errorf("loudness analysis: %w", err)
	}
	analysis, err := parseLoudnorm(stderr)
	if err != nil {
		return nil, fmt.Errorf("loudness analysis: %w", err)
	}

	corrected := e.tempFile(jobID, "loudnorm.mp3")
	temps = append(temps, corrected)
	_, err = e.run.run(ctx, opts.StageTimeout,
		"-y", "-i", current,
		"-af", correctionFilter(opts, analysis),
		"-ar", strconv.Itoa(opts.SampleRate), "-ac", "1", "-b:a", opts.Bitrate,
		corrected)
	if err != nil {
		return nil, fmt.Errorf("loudness correction: %w", err)
	}
	current = corrected

	padded := e.tempFile(jobID, "roomtone.mp3")
	temps = append(temps, padded)
	_, err = e.run.run(ctx, opts.StageTimeout,
		"-y", "-i", current,
		"-af", roomToneFilter(opts),
		"-ar", strconv.Itoa(opts.SampleRate), "-ac", "1", "-b:a", opts.Bitrate,
		padded)
	if err != nil {
		e.log.Printf("mastering %s: room tone failed, continuing without: %v", jobID, err)
	} else {
		current = padded
	}

	if err := moveFile(current, outputPath); err != nil {
		return nil, fmt.Errorf("failed to place mastered file: %w", err)
	}

	report := &Report{Analysis: analysis}
	e.verify(ctx, jobID, outputPath, opts, report)
	return report, nil
}

// verify re-measures the final file and records whether it landed within
// ±1 LUFS of target with the peak under the ceiling. Failures here are
// logged and noted, never returned.
func (e *Engine) verify(ctx context.Context, jobID, path string, opts Options, report *Report) {
	stderr, err := e.run.run(ctx, opts.ProbeTimeout,
		"-hide_banner", "-nostats", "-i", path,
		"-af", analysisFilter(opts),
		"-f", "null", "-")
	if err != nil {
		report.VerifyNote = fmt.Sprintf("verification pass failed: %v", err)
		e.log.Printf("mastering %s: %s", jobID, report.VerifyNote)
		return
	}
	measured, err := parseLoudnorm(stderr)
	if err != nil {
		report.VerifyNote = fmt.Sprintf("verification parse failed: %v", err)
		e.log.Printf("mastering %s: %s", jobID, report.VerifyNote)
		return
	}

	loudness, err1 := strconv.ParseFloat(measured.InputI, 64)
	peak, err2 := strconv.ParseFloat(measured.InputTP, 64)
	if err1 != nil || err2 != nil {
		report.VerifyNote = fmt.Sprintf("verification values unreadable: I=%q TP=%q", measured.InputI, measured.InputTP)
		e.log.Printf("mastering %s: %s", jobID, report.VerifyNote)
		return
	}

	withinLoudness := math.Abs(loudness-opts.TargetLUFS) <= 1.0
	withinPeak := peak <= opts.TruePeak+0.1
	report.Verified = withinLoudness && withinPeak
	report.VerifyNote = fmt.Sprintf("measured %.1f LUFS (target %.1f), peak %.1f dBTP (ceiling %.1f)",
		loudness, opts.TargetLUFS, peak, opts.TruePeak)
	if !report.Verified {
		e.log.Printf("mastering %s: out of spec: %s", jobID, report.VerifyNote)
	}
}

func (e *Engine) tempFile(jobID, suffix string) string {
	return filepath.Join(e.tmpDir, fmt.Sprintf("%s-%s-%s", jobID, uuid.NewString(), suffix))
}

// cleanup removes intermediate files. Deletion failures are logged and
// swallowed; a stray temp file must never fail a finished job.
func (e *Engine) cleanup(jobID string, temps []string) {
	for _, p := range temps {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			e.log.Printf("mastering %s: failed to remove temp file %s: %v", jobID, p, err)
		}
	}
}

// moveFile renames src onto dst, copying when the rename crosses devices.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
