package ingest

import "sync/atomic"

// Stats pipeline counters, safe for concurrent use
type Stats struct {
	received             atomic.Uint64
	done                 atomic.Uint64
	rejectedTopic        atomic.Uint64
	rejectedMalformed    atomic.Uint64
	rejectedUnregistered atomic.Uint64
	failed               atomic.Uint64
	readings             atomic.Uint64
	alerts               atomic.Uint64
	broadcasts           atomic.Uint64
	broadcastErrors      atomic.Uint64
}

// StatsSnapshot point-in-time copy of Stats
type StatsSnapshot struct {
	Received             uint64 `json:"received"`
	Done                 uint64 `json:"done"`
	RejectedTopic        uint64 `json:"rejected_topic"`
	RejectedMalformed    uint64 `json:"rejected_malformed"`
	RejectedUnregistered uint64 `json:"rejected_unregistered"`
	Failed               uint64 `json:"failed"`
	Readings             uint64 `json:"readings"`
	Alerts               uint64 `json:"alerts"`
	Broadcasts           uint64 `json:"broadcasts"`
	BroadcastErrors      uint64 `json:"broadcast_errors"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Received:             s.received.Load(),
		Done:                 s.done.Load(),
		RejectedTopic:        s.rejectedTopic.Load(),
		RejectedMalformed:    s.rejectedMalformed.Load(),
		RejectedUnregistered: s.rejectedUnregistered.Load(),
		Failed:               s.failed.Load(),
		Readings:             s.readings.Load(),
		Alerts:               s.alerts.Load(),
		Broadcasts:           s.broadcasts.Load(),
		BroadcastErrors:      s.broadcastErrors.Load(),
	}
}

func (s *Stats) record(o Outcome) {
	switch o.State {
	case StateDone:
		s.done.Add(1)
	case StateFailed:
		s.failed.Add(1)
	case StateRejected:
		switch o.Reason {
		case ReasonTopicMismatch:
			s.rejectedTopic.Add(1)
		case ReasonMalformed:
			s.rejectedMalformed.Add(1)
		case ReasonUnregistered:
			s.rejectedUnregistered.Add(1)
		}
	}
}
