package usecase

import (
	"errors"
	"io"
	"sync"
	"time"

	"livemic/internal/domain"
	"livemic/internal/ports"
)

// captureSource cuts the device byte stream into fragments at a fixed
// cadence. One emitter goroutine assigns sequence numbers and delivers each
// fragment synchronously, so emission order is the delivery order.
type captureSource struct {
	audio     ports.AudioSession
	sessionID string
	interval  time.Duration
	readSize  int
	emit      func(domain.Chunk)
	onFatal   func(error)

	mu        sync.Mutex
	buf       []byte
	nextSeq   int64
	disarming bool

	newTicker  tickerFactory
	readerDone chan error
	done       chan struct{}
	disarmOnce sync.Once
	stopErr    error
}

// tickerFactory returns a tick channel and its stop function.
type tickerFactory func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

func newCaptureSource(
	audio ports.AudioSession,
	sessionID string,
	interval time.Duration,
	readSize int,
	emit func(domain.Chunk),
	onFatal func(error),
	newTicker tickerFactory,
) *captureSource {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if readSize < 256 {
		readSize = 4096
	}
	if newTicker == nil {
		newTicker = realTicker
	}
	return &captureSource{
		audio:      audio,
		sessionID:  sessionID,
		interval:   interval,
		readSize:   readSize,
		emit:       emit,
		onFatal:    onFatal,
		newTicker:  newTicker,
		readerDone: make(chan error, 1),
		done:       make(chan struct{}),
	}
}

// arm starts reading and emitting. It must be called once.
func (s *captureSource) arm() {
	go s.readLoop()
	go s.emitLoop()
}

func (s *captureSource) readLoop() {
	buf := make([]byte, s.readSize)
	for {
		n, err := s.audio.Read(buf)
		if n > 0 {
			s.mu.Lock()
			s.buf = append(s.buf, buf[:n]...)
			s.mu.Unlock()
		}
		if err != nil {
			// Once disarmed, any read error just means the device is gone.
			if errors.Is(err, io.EOF) || s.isDisarming() {
				err = nil
			}
			s.readerDone <- err
			return
		}
	}
}

func (s *captureSource) emitLoop() {
	defer close(s.done)

	ticks, stopTicker := s.newTicker(s.interval)
	defer stopTicker()

	for {
		select {
		case <-ticks:
			// Disarm owns the last cut; the device may take a while to hit EOF.
			if s.isDisarming() {
				continue
			}
			s.flush()
		case err := <-s.readerDone:
			// Final partial fragment, whatever ended the stream.
			s.flush()
			if err != nil && !s.isDisarming() && s.onFatal != nil {
				s.onFatal(err)
			}
			return
		}
	}
}

func (s *captureSource) flush() {
	s.mu.Lock()
	data := s.buf
	s.buf = nil
	seq := s.nextSeq
	s.nextSeq++
	s.mu.Unlock()

	s.emit(domain.Chunk{
		SessionID: s.sessionID,
		Sequence:  seq,
		Data:      data,
		EmittedAt: time.Now(),
	})
}

// stop disarms the source: the device is stopped, the remaining bytes are
// emitted as the last fragment and no fragment is emitted afterwards. It is
// safe to call more than once and after a fatal error.
func (s *captureSource) stop() error {
	s.disarmOnce.Do(func() {
		s.mu.Lock()
		s.disarming = true
		s.mu.Unlock()
		s.stopErr = s.audio.Stop()
		<-s.done
	})
	return s.stopErr
}

func (s *captureSource) isDisarming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disarming
}

func (s *captureSource) buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

func (s *captureSource) emitted() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextSeq
}
