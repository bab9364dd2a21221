package netcond

import (
	"fmt"
	"time"
)

// Profile describes the network conditions injected into relayed traffic.
// It is a value object; both relay directions share one profile.
type Profile struct {
	// Latency is the fixed delay added to every packet.
	Latency time.Duration
	// Jitter bounds the uniform random variation applied around Latency.
	Jitter time.Duration
	// Loss is the independent probability that a packet is dropped.
	Loss float64
}

func NewProfile(latency, jitter time.Duration, loss float64) (Profile, error) {
	if latency < 0 {
		return Profile{}, fmt.Errorf("latency must be non-negative, got %s", latency)
	}
	if jitter < 0 {
		return Profile{}, fmt.Errorf("jitter must be non-negative, got %s", jitter)
	}
	if loss < 0 || loss > 1 {
		return Profile{}, fmt.Errorf("loss probability must be in [0,1], got %g", loss)
	}
	return Profile{Latency: latency, Jitter: jitter, Loss: loss}, nil
}

func (p Profile) String() string {
	return fmt.Sprintf("latency=%s jitter=%s loss=%.1f%%", p.Latency, p.Jitter, p.Loss*100)
}
