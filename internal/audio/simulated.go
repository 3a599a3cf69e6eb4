package audio

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// SimulatedInterval is how often the synthetic volume changes.
const SimulatedInterval = 50 * time.Millisecond

// SimulatedSample is the synthetic loudness at wall-clock millisecond ms
// with noise r in [0,1).
func SimulatedSample(ms int64, r float64) float64 {
	v := 0.4 + math.Sin(float64(ms)/100)*0.3 + r*0.3
	return clamp(v, 0.1, 1)
}

// SimulatedVolume stands in for a real analyser when speech is produced
// somewhere the process cannot tap, such as a local synthesizer.
type SimulatedVolume struct {
	mu     sync.RWMutex
	value  float64
	stop   chan struct{}
	done   chan struct{}
	now    func() time.Time
	random func() float64
}

func NewSimulatedVolume() *SimulatedVolume {
	return &SimulatedVolume{now: time.Now, random: rand.Float64}
}

// Start begins updating the value every SimulatedInterval until Stop.
func (s *SimulatedVolume) Start() {
	s.mu.Lock()
	if s.stop != nil {
		s.mu.Unlock()
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stop, s.done
	s.mu.Unlock()

	s.tick()
	go func() {
		defer close(done)
		ticker := time.NewTicker(SimulatedInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *SimulatedVolume) tick() {
	v := SimulatedSample(s.now().UnixMilli(), s.random())
	s.mu.Lock()
	s.value = v
	s.mu.Unlock()
}

// Stop halts updates and drops the value to 0.
func (s *SimulatedVolume) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}

	s.mu.Lock()
	s.value = 0
	s.mu.Unlock()
}

// Volume implements VolumeSource.
func (s *SimulatedVolume) Volume() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}
