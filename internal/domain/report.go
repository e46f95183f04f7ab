package domain

import "time"

// GroupState is the position of a feed group inside one pass.
type GroupState int

const (
	StatePending GroupState = iota
	StateFetching
	StateParsing
	StateMatching
	StateScoring
	StateUpserting
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StatePending:   "PENDING",
	StateFetching:  "FETCHING",
	StateParsing:   "PARSING",
	StateMatching:  "MATCHING",
	StateScoring:   "SCORING",
	StateUpserting: "UPSERTING",
	StateDone:      "DONE",
	StateFailed:    "FAILED",
}

func (s GroupState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

// Terminal reports whether no further transition is allowed.
func (s GroupState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// LanguageStats holds per-edition counters of one pass.
type LanguageStats struct {
	Fetched int
	New     int
	Err     error
}

// GroupStats holds statistics about one feed group pass.
type GroupStats struct {
	FeedSlug   string
	State      GroupState
	Reason     error
	Warning    error
	Languages  map[Language]*LanguageStats
	Fetched    int
	New        int
	Matched    int
	NearMisses int
	Inserted   int
	Duplicates int
	Errored    int
	Published  int
	PublishErr int
	Duration   time.Duration
}

// RunStats aggregates one orchestrator pass over every active feed group.
type RunStats struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration
	Groups    []*GroupStats
}

func (r *RunStats) Inserted() int {
	n := 0
	for _, g := range r.Groups {
		n += g.Inserted
	}
	return n
}

func (r *RunStats) Failed() int {
	n := 0
	for _, g := range r.Groups {
		if g.State == StateFailed {
			n++
		}
	}
	return n
}
