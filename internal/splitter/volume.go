package splitter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"dexguard/internal/domain"
)

// syntheticSessionVolume seeds expected per-window volume when no real
// profile is available for a pair.
const syntheticSessionVolume = 100_000.0

// volumeProfiles resolves intraday volume profiles for VWAP planning. It
// checks a process-local map first, then the external cache, and finally
// synthesizes a U-shaped default profile. Synthesized and cache-fetched
// profiles are kept locally for the life of the process.
type volumeProfiles struct {
	cache domain.VolumeProfileCache // optional

	mu    sync.Mutex
	local map[string][]domain.VolumeWindow
}

func newVolumeProfiles(cache domain.VolumeProfileCache) *volumeProfiles {
	return &volumeProfiles{
		cache: cache,
		local: make(map[string][]domain.VolumeWindow),
	}
}

// profile returns the pair's volume windows re-anchored to start at now and
// span the given window.
func (p *volumeProfiles) profile(ctx context.Context, pair string, now time.Time, window time.Duration, logger *slog.Logger) []domain.VolumeWindow {
	p.mu.Lock()
	cached, ok := p.local[pair]
	p.mu.Unlock()
	if ok {
		return anchorProfile(cached, now, window)
	}

	if p.cache != nil {
		profile, err := p.cache.GetProfile(ctx, pair)
		if err == nil && len(profile) > 0 {
			p.remember(pair, profile)
			return anchorProfile(profile, now, window)
		}
		if err != nil && err != domain.ErrNotFound {
			logger.Warn("volume profile cache read failed",
				slog.String("pair", pair),
				slog.String("error", err.Error()),
			)
		}
	}

	profile := syntheticProfile()
	p.remember(pair, profile)
	if p.cache != nil {
		if err := p.cache.SetProfile(ctx, pair, profile); err != nil {
			logger.Warn("volume profile cache write failed",
				slog.String("pair", pair),
				slog.String("error", err.Error()),
			)
		}
	}
	return anchorProfile(profile, now, window)
}

func (p *volumeProfiles) remember(pair string, profile []domain.VolumeWindow) {
	p.mu.Lock()
	p.local[pair] = profile
	p.mu.Unlock()
}

// syntheticProfile models the usual session shape: quiet open, heavy
// mid-session, moderate close. Ten windows of equal width carry the weights.
func syntheticProfile() []domain.VolumeWindow {
	windows := make([]domain.VolumeWindow, 0, 10)
	for i := 0; i < 10; i++ {
		var weight float64
		switch {
		case i < 3:
			weight = 0.05
		case i < 8:
			weight = 0.15
		default:
			weight = 0.10
		}
		windows = append(windows, domain.VolumeWindow{
			ExpectedVolume: syntheticSessionVolume * weight,
			Weight:         weight,
		})
	}
	return windows
}

// anchorProfile maps the profile's windows onto [now, now+window), keeping
// the weights and stretching each bucket to an equal share of the span.
func anchorProfile(profile []domain.VolumeWindow, now time.Time, window time.Duration) []domain.VolumeWindow {
	if len(profile) == 0 {
		return nil
	}
	width := window / time.Duration(len(profile))
	out := make([]domain.VolumeWindow, len(profile))
	for i, w := range profile {
		start := now.Add(time.Duration(i) * width)
		out[i] = domain.VolumeWindow{
			Start:          start,
			End:            start.Add(width),
			ExpectedVolume: w.ExpectedVolume,
			Weight:         w.Weight,
		}
	}
	return out
}
