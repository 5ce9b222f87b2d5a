package scheduler

import "emotion-monitor/internal/domain"

// isBusy reports whether a capture cycle is in flight.
func isBusy(status domain.ChannelStatus) bool {
	switch status {
	case domain.ChannelStatusCapturing, domain.ChannelStatusSubmitting:
		return true
	default:
		return false
	}
}

// isValidTransition enforces the per-channel lane state machine edges.
func isValidTransition(from, to domain.ChannelStatus) bool {
	switch from {
	case domain.ChannelStatusIdle:
		return to == domain.ChannelStatusScheduled
	case domain.ChannelStatusScheduled:
		return to == domain.ChannelStatusCapturing || to == domain.ChannelStatusIdle
	case domain.ChannelStatusCapturing:
		return to == domain.ChannelStatusSubmitting || to == domain.ChannelStatusScheduled || to == domain.ChannelStatusIdle
	case domain.ChannelStatusSubmitting:
		return to == domain.ChannelStatusScheduled || to == domain.ChannelStatusIdle
	default:
		return false
	}
}
