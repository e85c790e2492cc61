package sink

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/RyanBlaney/zumbido/algorithms/common"
	"github.com/RyanBlaney/zumbido/algorithms/filters"
	"github.com/RyanBlaney/zumbido/capture"
	"github.com/RyanBlaney/zumbido/detect"
	"github.com/RyanBlaney/zumbido/logging"
)

// Uploader ships a finished recording somewhere off the box
type Uploader interface {
	Upload(ctx context.Context, path string) error
}

// RecorderConfig controls snippet capture around alerts
type RecorderConfig struct {
	Directory     string
	SampleRate    int
	PreRoll       time.Duration
	PostRoll      time.Duration
	MaxFileSizeMB float64 // 0 disables the cap
	BitDepth      int
	Bands         []filters.TargetBand
	Threshold     float64
	// Queue is how many finished snippets may wait for the writer
	Queue int
	// UploadTimeout bounds each Uploader call
	UploadTimeout time.Duration
}

func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		Directory:     "recordings",
		SampleRate:    44100,
		PreRoll:       2 * time.Second,
		PostRoll:      5 * time.Second,
		MaxFileSizeMB: 50,
		BitDepth:      16,
		Bands:         filters.DefaultBands(),
		Threshold:     3.0,
		Queue:         8,
		UploadTimeout: 2 * time.Minute,
	}
}

// Recording describes a snippet written to disk
type Recording struct {
	AudioPath  string
	ReportPath string
	Alert      detect.AlertEvent
	Analysis   ClipAnalysis
}

type clip struct {
	started    time.Time
	alert      detect.AlertEvent
	samples    []float64
	limit      int
	truncated  bool
	open       int // outstanding alerts
	tailing    bool
	postRemain int // samples still to record after the last clear
}

func (c *clip) append(samples []float64) {
	if c.limit > 0 && len(c.samples)+len(samples) > c.limit {
		samples = samples[:max(0, c.limit-len(c.samples))]
		c.truncated = true
	}
	c.samples = append(c.samples, samples...)
}

// Recorder keeps a rolling pre-roll of audio and, while an alert is
// outstanding, captures a WAV snippet plus an analysis report. Files are
// written by a background goroutine so OnFrame never blocks on disk.
type Recorder struct {
	config   RecorderConfig
	uploader Uploader
	logger   logging.Logger

	mu         sync.Mutex
	pre        *common.SampleRing
	active     *clip
	closed     bool
	rateWarned bool

	pending chan *clip
	wg      sync.WaitGroup

	savedMu sync.Mutex
	saved   []Recording
}

// NewRecorder creates the output directory and starts the writer.
// uploader may be nil.
func NewRecorder(config RecorderConfig, uploader Uploader, logger logging.Logger) (*Recorder, error) {
	defaults := DefaultRecorderConfig()
	if config.SampleRate <= 0 {
		return nil, common.NewConfigError("sample_rate", "must be positive, got %d", config.SampleRate)
	}
	if config.PreRoll < 0 {
		return nil, common.NewConfigError("pre_record_seconds", "must not be negative")
	}
	if config.PostRoll < 0 {
		return nil, common.NewConfigError("post_record_seconds", "must not be negative")
	}
	if config.MaxFileSizeMB < 0 {
		return nil, common.NewConfigError("max_file_size_mb", "must not be negative")
	}
	if config.BitDepth == 0 {
		config.BitDepth = defaults.BitDepth
	}
	if config.BitDepth != 16 && config.BitDepth != 24 && config.BitDepth != 32 {
		return nil, common.NewConfigError("bit_depth", "must be 16, 24 or 32, got %d", config.BitDepth)
	}
	if config.Directory == "" {
		config.Directory = defaults.Directory
	}
	if config.Queue <= 0 {
		config.Queue = defaults.Queue
	}
	if config.UploadTimeout <= 0 {
		config.UploadTimeout = defaults.UploadTimeout
	}

	if err := os.MkdirAll(config.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recording directory: %w", err)
	}

	preSamples := int(config.PreRoll.Seconds() * float64(config.SampleRate))
	r := &Recorder{
		config:   config,
		uploader: uploader,
		pre:      common.NewSampleRing(max(preSamples, 1)),
		pending:  make(chan *clip, config.Queue),
		logger: logging.OrGlobal(logger).WithFields(logging.Fields{
			"component": "recorder",
			"directory": config.Directory,
		}),
	}
	if preSamples == 0 {
		r.pre = nil
	}

	r.wg.Add(1)
	go r.writer()
	return r, nil
}

func (r *Recorder) Name() string {
	return "recorder"
}

func (r *Recorder) maxSamples() int {
	if r.config.MaxFileSizeMB <= 0 {
		return 0
	}
	bytesPerSample := r.config.BitDepth / 8
	return int(r.config.MaxFileSizeMB * 1024 * 1024 / float64(bytesPerSample))
}

// OnFrame feeds the pre-roll and any snippet being captured
func (r *Recorder) OnFrame(frame capture.AudioFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if frame.SampleRate != r.config.SampleRate {
		if !r.rateWarned {
			r.rateWarned = true
			r.logger.Warn("Ignoring frames at unexpected sample rate", logging.Fields{
				"sample_rate": frame.SampleRate,
				"expected":    r.config.SampleRate,
			})
		}
		return
	}

	if r.pre != nil {
		r.pre.Write(frame.Samples)
	}

	c := r.active
	if c == nil {
		return
	}
	c.append(frame.Samples)
	if c.tailing {
		c.postRemain -= len(frame.Samples)
	}
	if c.truncated || c.tailing && c.postRemain <= 0 {
		r.finishLocked()
	}
}

func (r *Recorder) OnAlertRaised(ctx context.Context, event detect.AlertEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return os.ErrClosed
	}

	if r.active != nil {
		r.active.open++
		r.active.tailing = false
		return nil
	}

	c := &clip{
		alert:   event,
		started: event.Timestamp,
		limit:   r.maxSamples(),
		open:    1,
	}
	if c.started.IsZero() {
		c.started = time.Now()
	}
	if r.pre != nil {
		preroll := make([]float64, r.pre.Available())
		r.pre.Peek(preroll)
		c.append(preroll)
		c.started = c.started.Add(-time.Duration(float64(len(preroll)) / float64(r.config.SampleRate) * float64(time.Second)))
	}
	r.active = c

	r.logger.Info("Recording started with pre-roll", logging.Fields{
		"alert_id":        event.ID.String(),
		"preroll_seconds": float64(len(c.samples)) / float64(r.config.SampleRate),
	})
	if c.truncated {
		r.finishLocked()
	}
	return nil
}

func (r *Recorder) OnAlertCleared(ctx context.Context, event detect.AlertEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return os.ErrClosed
	}

	c := r.active
	if c == nil {
		return nil
	}
	c.open--
	if c.open > 0 {
		return nil
	}

	c.tailing = true
	c.postRemain = int(math.Round(r.config.PostRoll.Seconds() * float64(r.config.SampleRate)))
	if c.postRemain <= 0 {
		r.finishLocked()
	}
	return nil
}

// finishLocked hands the active snippet to the writer. A full queue drops
// the snippet rather than stalling acquisition.
func (r *Recorder) finishLocked() {
	c := r.active
	r.active = nil
	if c == nil || len(c.samples) == 0 {
		return
	}
	if c.truncated {
		r.logger.Warn("Recording reached max_file_size_mb and was truncated", logging.Fields{
			"alert_id": c.alert.ID.String(),
			"limit_mb": r.config.MaxFileSizeMB,
		})
	}

	select {
	case r.pending <- c:
	default:
		r.logger.Error(fmt.Errorf("writer queue full (%d)", cap(r.pending)), "Dropping recording", logging.Fields{
			"alert_id": c.alert.ID.String(),
		})
	}
}

func (r *Recorder) writer() {
	defer r.wg.Done()
	for c := range r.pending {
		rec, err := r.save(c)
		if err != nil {
			r.logger.Error(err, "Failed to save recording", logging.Fields{
				"alert_id": c.alert.ID.String(),
			})
			continue
		}

		r.savedMu.Lock()
		r.saved = append(r.saved, rec)
		r.savedMu.Unlock()

		r.logger.Info("Recording saved", logging.Fields{
			"file":     filepath.Base(rec.AudioPath),
			"duration": rec.Analysis.Duration.String(),
			"detected": rec.Analysis.Detected,
		})

		if r.uploader != nil {
			r.upload(rec.AudioPath)
			r.upload(rec.ReportPath)
		}
	}
}

func (r *Recorder) upload(path string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.UploadTimeout)
	defer cancel()
	if err := r.uploader.Upload(ctx, path); err != nil {
		r.logger.Error(err, "Failed to upload recording", logging.Fields{
			"file": filepath.Base(path),
		})
	}
}

// SnippetName returns the file name used for a snippet starting at t
func SnippetName(t time.Time) string {
	return fmt.Sprintf("panel_buzz_%s.wav", t.Format("20060102_150405"))
}

func (r *Recorder) save(c *clip) (Recording, error) {
	audioPath := r.uniquePath(SnippetName(c.started))
	reportPath := strings.TrimSuffix(audioPath, ".wav") + "_analysis.txt"

	if err := r.writeWAV(audioPath, c.samples); err != nil {
		return Recording{}, err
	}

	analysis := AnalyzeClip(c.samples, r.config.SampleRate, r.config.Bands, r.config.Threshold)
	analysis.Recorded = c.started
	analysis.Truncated = c.truncated

	f, err := os.Create(reportPath)
	if err != nil {
		return Recording{}, fmt.Errorf("failed to create analysis report: %w", err)
	}
	if err := analysis.WriteReport(f, filepath.Base(audioPath)); err != nil {
		f.Close()
		return Recording{}, fmt.Errorf("failed to write analysis report: %w", err)
	}
	if err := f.Close(); err != nil {
		return Recording{}, err
	}

	return Recording{
		AudioPath:  audioPath,
		ReportPath: reportPath,
		Alert:      c.alert,
		Analysis:   analysis,
	}, nil
}

// uniquePath avoids clobbering a snippet that started in the same second
func (r *Recorder) uniquePath(name string) string {
	path := filepath.Join(r.config.Directory, name)
	base := strings.TrimSuffix(path, ".wav")
	for i := 1; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		path = fmt.Sprintf("%s_%d.wav", base, i)
	}
}

func (r *Recorder) writeWAV(path string, samples []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create recording: %w", err)
	}

	enc := wav.NewEncoder(f, r.config.SampleRate, r.config.BitDepth, 1, 1)
	full := float64(int64(1)<<(r.config.BitDepth-1) - 1)
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(math.Round(common.Clamp(s, -1, 1) * full))
	}

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: r.config.SampleRate},
		Data:           data,
		SourceBitDepth: r.config.BitDepth,
	}
	if err := enc.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode recording: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("failed to finalise recording: %w", err)
	}
	return f.Close()
}

// Recording reports whether a snippet is currently being captured
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

// Saved lists the snippets written so far
func (r *Recorder) Saved() []Recording {
	r.savedMu.Lock()
	defer r.savedMu.Unlock()
	out := make([]Recording, len(r.saved))
	copy(out, r.saved)
	return out
}

// Close saves any snippet in progress and waits for the writer to finish
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.finishLocked()
	r.closed = true
	close(r.pending)
	r.mu.Unlock()

	r.wg.Wait()
	return nil
}
