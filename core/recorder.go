package core

import "time"

// Recorder receives kernel measurements. The Prometheus collector in
// internal/observability implements it; the kernel itself never imports a
// metrics library.
type Recorder interface {
	ObserveSampling(d time.Duration, points int, err error)
	ObserveRay(mode ScanMode, err error)
	ObserveScan(mode ScanMode, status ScanStatus, d time.Duration)
	RaysInFlight(delta int)
}

// NoopRecorder discards all measurements.
func NoopRecorder() Recorder { return noopRecorder{} }

type noopRecorder struct{}

func (noopRecorder) ObserveSampling(time.Duration, int, error)       {}
func (noopRecorder) ObserveRay(ScanMode, error)                      {}
func (noopRecorder) ObserveScan(ScanMode, ScanStatus, time.Duration) {}
func (noopRecorder) RaysInFlight(int)                                {}
