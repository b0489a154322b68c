package recording

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/reelchat/call-service/internal/media"
	"github.com/reelchat/call-service/pkg/logger"
	"go.uber.org/zap"
)

// Recording dimensions match the capture defaults.
const (
	recordWidth  = 1280
	recordHeight = 720
)

// Recorder writes one local recording of the local capture stream. The remote
// party is never recorded and no recording control ever crosses the signaling
// channel; the artifact stays on this machine.
type Recorder struct {
	path string
	file *os.File

	mu  sync.Mutex
	mux *muxer

	readers []media.FrameReader
	wg      sync.WaitGroup

	stopOnce sync.Once
	stopErr  error
}

// Start opens the recording file in dir and begins pumping encoded frames
// from the stream. withVideo selects between a VP9+Opus file and an
// Opus-only file.
func Start(dir string, src media.Recordable, withVideo bool) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recording directory: %w", err)
	}

	name := fmt.Sprintf("call-recording-%s.webm", time.Now().UTC().Format("20060102T150405Z"))
	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording file: %w", err)
	}

	mux, err := newMuxer(file, withVideo, recordWidth, recordHeight)
	if err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return nil, err
	}

	r := &Recorder{path: path, file: file, mux: mux}

	audioReader, err := src.AudioReader()
	if err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return nil, err
	}
	r.readers = append(r.readers, audioReader)

	var videoReader media.FrameReader
	if withVideo {
		videoReader, err = src.VideoReader()
		if err != nil {
			_ = audioReader.Close()
			_ = file.Close()
			_ = os.Remove(path)
			return nil, err
		}
		r.readers = append(r.readers, videoReader)
	}

	logger.Base().Info("recording started", zap.String("path", path), zap.Bool("video", withVideo))

	r.wg.Add(1)
	go r.pump(audioReader, false)
	if videoReader != nil {
		r.wg.Add(1)
		go r.pump(videoReader, true)
	}
	return r, nil
}

// Path returns the recording file path.
func (r *Recorder) Path() string {
	return r.path
}

// pump drains one frame reader into the muxer until the reader fails, which
// is how Stop (closing the reader) terminates it.
func (r *Recorder) pump(reader media.FrameReader, video bool) {
	defer r.wg.Done()
	for {
		f, err := reader.ReadFrame()
		if err != nil {
			return
		}
		r.mu.Lock()
		if video {
			err = r.mux.WriteVideo(f.TimestampMs, f.Keyframe, f.Data)
		} else {
			err = r.mux.WriteAudio(f.TimestampMs, f.Data)
		}
		r.mu.Unlock()
		if err != nil {
			logger.Base().Warn("recording write failed", zap.String("path", r.path), zap.Error(err))
			return
		}
	}
}

// Stop ends the recording, flushes the final cluster and closes the file.
// Idempotent; returns the finished file path.
func (r *Recorder) Stop() (string, error) {
	r.stopOnce.Do(func() {
		for _, reader := range r.readers {
			_ = reader.Close()
		}
		r.wg.Wait()

		r.mu.Lock()
		flushErr := r.mux.Close()
		r.mu.Unlock()
		closeErr := r.file.Close()

		r.stopErr = errors.Join(flushErr, closeErr)
		logger.Base().Info("recording stopped", zap.String("path", r.path))
	})
	return r.path, r.stopErr
}
