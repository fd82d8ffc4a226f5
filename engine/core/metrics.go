package core

import "time"

const avgCount = 30

// FrameMetrics keeps a rolling average of frame times and the frames counted
// over the last second.
type FrameMetrics struct {
	frameAvgCounter    int
	msTimes            [avgCount]float64
	msAvg              float64
	frames             int
	accumulatedFrameMS float64
	fps                float64
}

func NewFrameMetrics() *FrameMetrics {
	return &FrameMetrics{}
}

func (m *FrameMetrics) Update(frameElapsed time.Duration) {
	// Calculate frame ms average
	frameMS := float64(frameElapsed) / float64(time.Millisecond)
	m.msTimes[m.frameAvgCounter] = frameMS
	if m.frameAvgCounter == avgCount-1 {
		m.msAvg = 0
		for _, t := range m.msTimes {
			m.msAvg += t
		}
		m.msAvg /= avgCount
	}
	m.frameAvgCounter = (m.frameAvgCounter + 1) % avgCount

	// Calculate frames per second.
	m.accumulatedFrameMS += frameMS
	if m.accumulatedFrameMS > 1000 {
		m.fps = float64(m.frames)
		m.accumulatedFrameMS -= 1000
		m.frames = 0
	}

	// Count all frames.
	m.frames++
}

func (m *FrameMetrics) FPS() float64 {
	return m.fps
}

// FrameTime is the average frame time in milliseconds over the last window.
func (m *FrameMetrics) FrameTime() float64 {
	return m.msAvg
}
