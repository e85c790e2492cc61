package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanBlaney/zumbido/algorithms/filters"
	"github.com/RyanBlaney/zumbido/capture"
	"github.com/RyanBlaney/zumbido/detect"
	"github.com/RyanBlaney/zumbido/logging"
)

var noop = &logging.NoOpLogger{}

func testEvent(direction detect.Direction, at time.Time) detect.AlertEvent {
	return detect.AlertEvent{
		ID:          uuid.New(),
		Timestamp:   at,
		Direction:   direction,
		Bands:       []string{"60Hz"},
		Frequency:   60.02,
		Magnitude:   12.5,
		Prominence:  48.3,
		NoiseFloor:  0.26,
		WindowIndex: 42,
		Device:      "synth:60",
	}
}

type countingSink struct {
	mu      sync.Mutex
	raised  []detect.AlertEvent
	cleared []detect.AlertEvent
	err     error
	closed  bool
}

func (c *countingSink) OnAlertRaised(ctx context.Context, e detect.AlertEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.raised = append(c.raised, e)
	return c.err
}

func (c *countingSink) OnAlertCleared(ctx context.Context, e detect.AlertEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleared = append(c.cleared, e)
	return c.err
}

func (c *countingSink) Close() error {
	c.closed = true
	return nil
}

func TestMultiDeliversPastFailures(t *testing.T) {
	failing := &countingSink{err: errors.New("broker unreachable")}
	healthy := &countingSink{}
	m := NewMulti(failing, nil, healthy)
	require.Equal(t, 2, m.Len())

	err := m.OnAlertRaised(context.Background(), testEvent(detect.Raised, time.Now()))
	require.Error(t, err)
	assert.ErrorIs(t, err, failing.err)

	var sinkErr *Error
	require.ErrorAs(t, err, &sinkErr)
	assert.Contains(t, sinkErr.Sink, "countingSink")

	assert.Len(t, failing.raised, 1)
	assert.Len(t, healthy.raised, 1)

	require.NoError(t, m.Close())
	assert.True(t, failing.closed)
	assert.True(t, healthy.closed)
}

// stuckSink never returns until its context ends
type stuckSink struct{}

func (stuckSink) Name() string { return "stuck" }

func (stuckSink) OnAlertRaised(ctx context.Context, _ detect.AlertEvent) error {
	<-ctx.Done()
	return ctx.Err()
}

func (s stuckSink) OnAlertCleared(ctx context.Context, e detect.AlertEvent) error {
	return s.OnAlertRaised(ctx, e)
}

func TestMultiTimesOutStuckSink(t *testing.T) {
	healthy := &countingSink{}
	m := NewMulti(stuckSink{}, healthy)
	m.SetTimeout(50 * time.Millisecond)

	start := time.Now()
	err := m.OnAlertCleared(context.WithoutCancel(context.Background()), testEvent(detect.Cleared, time.Now()))
	assert.Less(t, time.Since(start), 2*time.Second)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	var sinkErr *Error
	require.ErrorAs(t, err, &sinkErr)
	assert.Equal(t, "stuck", sinkErr.Sink)
	assert.Len(t, healthy.cleared, 1)
}

func TestLogSink(t *testing.T) {
	var out, errOut bytes.Buffer
	logger := logging.NewDefaultLoggerWithWriters(&out, &errOut, false)
	l := NewLog(logger)

	require.NoError(t, l.OnAlertRaised(context.Background(), testEvent(detect.Raised, time.Now())))
	cleared := testEvent(detect.Cleared, time.Now())
	cleared.Duration = 3 * time.Second
	require.NoError(t, l.OnAlertCleared(context.Background(), cleared))

	assert.Contains(t, errOut.String(), "[WARN] Electrical hum detected")
	assert.Contains(t, errOut.String(), "bands=60Hz")
	assert.Contains(t, errOut.String(), "prominence=48.3")
	assert.Contains(t, out.String(), "[INFO] Electrical hum cleared")
	assert.Contains(t, out.String(), "duration=3s")
}

func TestConsoleSink(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, PlainConsoleStyles())
	at := time.Date(2026, 3, 1, 21, 4, 5, 0, time.UTC)

	require.NoError(t, c.OnAlertRaised(context.Background(), testEvent(detect.Raised, at)))
	cleared := testEvent(detect.Cleared, at)
	cleared.Duration = 1500 * time.Millisecond
	require.NoError(t, c.OnAlertCleared(context.Background(), cleared))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "HUM DETECTED 21:04:05  60.0 Hz  prominence 48.3  [60Hz]", lines[0])
	assert.True(t, strings.HasSuffix(lines[1], "after 1.5s"), lines[1])
}

func TestJSONLSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events", "alerts.jsonl")
	j, err := OpenJSONL(path)
	require.NoError(t, err)

	raised := testEvent(detect.Raised, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, j.OnAlertRaised(context.Background(), raised))
	require.NoError(t, j.OnAlertCleared(context.Background(), testEvent(detect.Cleared, time.Now())))
	require.NoError(t, j.Close())
	assert.ErrorIs(t, j.OnAlertRaised(context.Background(), raised), os.ErrClosed)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &decoded))
	assert.Equal(t, raised.ID.String(), decoded["id"])
	assert.Equal(t, "raised", decoded["direction"])
	assert.Equal(t, 60.02, decoded["frequency_hz"])
	assert.Equal(t, "synth:60", decoded["device"])
}

type fakePublisher struct {
	topics   []string
	payloads [][]byte
	err      error
}

func (f *fakePublisher) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, payload)
	return f.err
}

func TestMQTTSink(t *testing.T) {
	pub := &fakePublisher{}
	m := NewMQTT(pub, MQTTConfig{Topic: "panels/{device_id}/{direction}", QoS: 1})

	event := testEvent(detect.Raised, time.Now())
	event.Device = "ffmpeg:pulse:usb/mic"
	require.NoError(t, m.OnAlertRaised(context.Background(), event))

	require.Len(t, pub.topics, 1)
	assert.Equal(t, "panels/ffmpeg:pulse:usb_mic/raised", pub.topics[0])

	var decoded detect.AlertEvent
	require.NoError(t, json.Unmarshal(pub.payloads[0], &decoded))
	assert.Equal(t, event.ID, decoded.ID)

	pub.err = errors.New("not connected")
	err := m.OnAlertCleared(context.Background(), testEvent(detect.Cleared, time.Now()))
	assert.ErrorIs(t, err, pub.err)
}

func TestFormatTopicDefaults(t *testing.T) {
	m := NewMQTT(&fakePublisher{}, MQTTConfig{})
	assert.Equal(t, "zumbido/default/alerts", FormatTopic(m.config.Topic, detect.AlertEvent{}))
}

type fakeExecer struct {
	queries []string
	args    [][]any
	err     error
}

func (f *fakeExecer) Exec(ctx context.Context, query string, args ...any) error {
	f.queries = append(f.queries, query)
	f.args = append(f.args, args)
	return f.err
}

func TestClickHouseSink(t *testing.T) {
	conn := &fakeExecer{}
	ch, err := NewClickHouse(context.Background(), conn, "")
	require.NoError(t, err)
	require.Len(t, conn.queries, 1)
	assert.Contains(t, conn.queries[0], "CREATE TABLE IF NOT EXISTS hum_alerts")

	event := testEvent(detect.Cleared, time.Now())
	event.Duration = 2 * time.Second
	require.NoError(t, ch.OnAlertCleared(context.Background(), event))

	require.Len(t, conn.queries, 2)
	assert.Contains(t, conn.queries[1], "INSERT INTO hum_alerts")
	args := conn.args[1]
	require.Len(t, args, 11)
	assert.Equal(t, event.ID, args[1])
	assert.Equal(t, "cleared", args[3])
	assert.Equal(t, []string{"60Hz"}, args[4])
	assert.Equal(t, int64(2000), args[10])

	conn.err = errors.New("table is read-only")
	assert.ErrorIs(t, ch.OnAlertRaised(context.Background(), event), conn.err)
}

func TestClickHouseSchemaFailure(t *testing.T) {
	_, err := NewClickHouse(context.Background(), &fakeExecer{err: errors.New("no such database")}, "alerts")
	assert.Error(t, err)
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	err     error
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := *in.Bucket + "/" + *in.Key
	f.objects[key] = data
	f.types[key] = *in.ContentType
	return &s3.PutObjectOutput{}, nil
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte), types: make(map[string]string)}
}

func TestS3Uploader(t *testing.T) {
	file := filepath.Join(t.TempDir(), "panel_buzz_20260301_120000.wav")
	require.NoError(t, os.WriteFile(file, []byte("RIFF"), 0o644))

	client := newFakeS3()
	u := NewS3Uploader(client, "hum", "/site-a/")
	require.NoError(t, u.Upload(context.Background(), file))

	key := "hum/site-a/panel_buzz_20260301_120000.wav"
	assert.Equal(t, []byte("RIFF"), client.objects[key])
	assert.Equal(t, "audio/wav", client.types[key])

	assert.Error(t, u.Upload(context.Background(), filepath.Join(t.TempDir(), "missing.wav")))

	client.err = errors.New("access denied")
	assert.ErrorIs(t, u.Upload(context.Background(), file), client.err)
}

func TestHistoryRecentNewestFirst(t *testing.T) {
	h, err := OpenHistory(HistoryOptions{InMemory: true, Logger: noop})
	require.NoError(t, err)
	defer h.Close()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var ids []uuid.UUID
	for i := range 5 {
		direction := detect.Raised
		if i%2 == 1 {
			direction = detect.Cleared
		}
		event := testEvent(direction, base.Add(time.Duration(i)*time.Minute))
		ids = append(ids, event.ID)
		require.NoError(t, detect.Notify(context.Background(), h, event))
	}

	recent, err := h.Recent(3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, ids[4], recent[0].ID)
	assert.Equal(t, ids[2], recent[2].ID)
	assert.True(t, recent[0].Timestamp.Equal(base.Add(4*time.Minute)))
	assert.Equal(t, detect.Cleared, recent[1].Direction)
	assert.Equal(t, []string{"60Hz"}, recent[1].Bands)

	all, err := h.Recent(0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestOpenHistoryNeedsDir(t *testing.T) {
	_, err := OpenHistory(HistoryOptions{})
	assert.Error(t, err)
}

// tone returns n samples of a sine at freq starting at sample offset
func tone(freq float64, amplitude float64, sampleRate, offset, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amplitude * math.Sin(2*math.Pi*freq*float64(offset+i)/float64(sampleRate))
	}
	return out
}

type recordingFeeder struct {
	r        *Recorder
	rate     int
	position int
	sequence uint64
}

func (f *recordingFeeder) frames(n, size int) {
	for range n {
		f.r.OnFrame(capture.AudioFrame{
			Samples:    tone(60, 0.5, f.rate, f.position, size),
			SampleRate: f.rate,
			Sequence:   f.sequence,
		})
		f.position += size
		f.sequence++
	}
}

type recordingUploader struct {
	mu    sync.Mutex
	paths []string
}

func (u *recordingUploader) Upload(ctx context.Context, path string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.paths = append(u.paths, filepath.Base(path))
	return nil
}

func newTestRecorder(t *testing.T, mutate func(*RecorderConfig), uploader Uploader) *Recorder {
	config := RecorderConfig{
		Directory:  filepath.Join(t.TempDir(), "recordings"),
		SampleRate: 8000,
		PreRoll:    time.Second,
		PostRoll:   500 * time.Millisecond,
		Bands:      []filters.TargetBand{filters.NewBand(60, 3)},
		Threshold:  3,
	}
	if mutate != nil {
		mutate(&config)
	}
	r, err := NewRecorder(config, uploader, noop)
	require.NoError(t, err)
	return r
}

func TestRecorderCapturesPreAndPostRoll(t *testing.T) {
	uploader := &recordingUploader{}
	r := newTestRecorder(t, nil, uploader)
	feed := &recordingFeeder{r: r, rate: 8000}
	at := time.Date(2026, 3, 1, 12, 0, 1, 0, time.UTC)
	ctx := context.Background()

	feed.frames(15, 800) // 1.5 s, only the last second survives as pre-roll
	require.NoError(t, r.OnAlertRaised(ctx, testEvent(detect.Raised, at)))
	assert.True(t, r.Recording())
	feed.frames(10, 800)
	require.NoError(t, r.OnAlertCleared(ctx, testEvent(detect.Cleared, at.Add(time.Second))))
	feed.frames(4, 800)
	assert.True(t, r.Recording(), "post-roll still running")
	feed.frames(1, 800)
	assert.False(t, r.Recording())
	feed.frames(3, 800)

	require.NoError(t, r.Close())

	saved := r.Saved()
	require.Len(t, saved, 1)
	rec := saved[0]
	assert.Equal(t, "panel_buzz_20260301_120000.wav", filepath.Base(rec.AudioPath))
	assert.Equal(t, "panel_buzz_20260301_120000_analysis.txt", filepath.Base(rec.ReportPath))
	assert.Equal(t, 2500*time.Millisecond, rec.Analysis.Duration)
	assert.True(t, rec.Analysis.Detected)
	require.Len(t, rec.Analysis.Bands, 1)
	assert.InDelta(t, 60.0, rec.Analysis.Bands[0].Frequency, 0.5)
	assert.InDelta(t, 0.5, rec.Analysis.Bands[0].Amplitude, 0.05)
	assert.InDelta(t, 0.5/math.Sqrt2, rec.Analysis.RMS, 0.01)

	f, err := os.Open(rec.AudioPath)
	require.NoError(t, err)
	defer f.Close()
	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	assert.Equal(t, 8000, int(dec.SampleRate))
	assert.Equal(t, 1, int(dec.NumChans))
	assert.Len(t, buf.Data, 20000)

	report, err := os.ReadFile(rec.ReportPath)
	require.NoError(t, err)
	assert.Contains(t, string(report), "Electrical Panel Audio Analysis")
	assert.Contains(t, string(report), "Duration: 2.50 seconds")
	assert.Contains(t, string(report), "Electrical Frequencies Detected: true")
	assert.Contains(t, string(report), "60Hz:")
	assert.Contains(t, string(report), "File: panel_buzz_20260301_120000.wav")

	assert.ElementsMatch(t, []string{filepath.Base(rec.AudioPath), filepath.Base(rec.ReportPath)}, uploader.paths)
}

func TestRecorderOverlappingAlertsShareOneSnippet(t *testing.T) {
	r := newTestRecorder(t, func(c *RecorderConfig) { c.PostRoll = 0 }, nil)
	feed := &recordingFeeder{r: r, rate: 8000}
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, r.OnAlertRaised(ctx, testEvent(detect.Raised, at)))
	feed.frames(2, 800)
	require.NoError(t, r.OnAlertRaised(ctx, testEvent(detect.Raised, at)))
	feed.frames(2, 800)
	require.NoError(t, r.OnAlertCleared(ctx, testEvent(detect.Cleared, at)))
	assert.True(t, r.Recording())
	require.NoError(t, r.OnAlertCleared(ctx, testEvent(detect.Cleared, at)))
	assert.False(t, r.Recording())

	require.NoError(t, r.Close())
	saved := r.Saved()
	require.Len(t, saved, 1)
	assert.Equal(t, 400*time.Millisecond, saved[0].Analysis.Duration)
}

func TestRecorderTruncatesAtMaxFileSize(t *testing.T) {
	r := newTestRecorder(t, func(c *RecorderConfig) { c.MaxFileSizeMB = 0.01 }, nil)
	feed := &recordingFeeder{r: r, rate: 8000}
	feed.frames(10, 800)

	require.NoError(t, r.OnAlertRaised(context.Background(), testEvent(detect.Raised, time.Now())))
	assert.False(t, r.Recording(), "pre-roll alone exceeds the cap")
	require.NoError(t, r.Close())

	saved := r.Saved()
	require.Len(t, saved, 1)
	assert.True(t, saved[0].Analysis.Truncated)
	// 0.01 MB of 16-bit samples
	assert.Equal(t, time.Duration(float64(5242)/8000*float64(time.Second)), saved[0].Analysis.Duration)
}

func TestRecorderCloseSavesSnippetInProgress(t *testing.T) {
	r := newTestRecorder(t, nil, nil)
	feed := &recordingFeeder{r: r, rate: 8000}
	require.NoError(t, r.OnAlertRaised(context.Background(), testEvent(detect.Raised, time.Now())))
	feed.frames(5, 800)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	assert.Len(t, r.Saved(), 1)
	assert.ErrorIs(t, r.OnAlertRaised(context.Background(), testEvent(detect.Raised, time.Now())), os.ErrClosed)
}

func TestRecorderIgnoresForeignSampleRate(t *testing.T) {
	r := newTestRecorder(t, nil, nil)
	r.OnFrame(capture.AudioFrame{Samples: make([]float64, 441), SampleRate: 44100})
	require.NoError(t, r.OnAlertRaised(context.Background(), testEvent(detect.Raised, time.Now())))
	require.NoError(t, r.Close())
	assert.Empty(t, r.Saved(), "no audio at the recorder's rate, nothing to save")
}

func TestNewRecorderValidation(t *testing.T) {
	for _, config := range []RecorderConfig{
		{SampleRate: 0, Directory: t.TempDir()},
		{SampleRate: 8000, Directory: t.TempDir(), PreRoll: -time.Second},
		{SampleRate: 8000, Directory: t.TempDir(), BitDepth: 12},
		{SampleRate: 8000, Directory: t.TempDir(), MaxFileSizeMB: -1},
	} {
		_, err := NewRecorder(config, nil, noop)
		assert.Error(t, err)
	}
}

func TestSnippetName(t *testing.T) {
	at := time.Date(2026, 10, 19, 7, 8, 9, 0, time.UTC)
	assert.Equal(t, "panel_buzz_20261019_070809.wav", SnippetName(at))
}

func TestAnalyzeClipShortClip(t *testing.T) {
	a := AnalyzeClip(tone(60, 0.5, 8000, 0, 16), 8000, []filters.TargetBand{filters.NewBand(60, 3)}, 3)
	assert.Empty(t, a.Bands, "16 samples cannot resolve a 6 Hz band")
	assert.Greater(t, a.RMS, 0.0)
}
