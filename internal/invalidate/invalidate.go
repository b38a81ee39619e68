// Package invalidate signals downstream views that attendance data changed.
//
// Every attendance mutation publishes one signal per logical view of the
// affected schedule. Delivery is best effort: publishers log failures and
// never fail the mutation that triggered them.
package invalidate

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/go-redis/redis/v8"
)

// View names a cached page or list that depends on attendance state.
type View string

const (
	ViewCheckInList    View = "checkin_list"
	ViewAttendanceList View = "attendance_list"
	ViewScheduleDetail View = "schedule_detail"
)

// Signal tells consumers to drop one view for one schedule.
type Signal struct {
	View       View  `json:"view"`
	ScheduleID int64 `json:"schedule_id"`
	PhaseID    int64 `json:"phase_id,omitempty"`
}

// ForSchedule returns the three signals every attendance mutation emits.
func ForSchedule(scheduleID, phaseID int64) []Signal {
	return []Signal{
		{View: ViewCheckInList, ScheduleID: scheduleID, PhaseID: phaseID},
		{View: ViewAttendanceList, ScheduleID: scheduleID, PhaseID: phaseID},
		{View: ViewScheduleDetail, ScheduleID: scheduleID, PhaseID: phaseID},
	}
}

// Publisher delivers signals.
type Publisher interface {
	Publish(ctx context.Context, signals ...Signal)
}

// RedisPublisher sends each signal as JSON on a pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

func NewRedisPublisher(client *redis.Client, channel string, logger *slog.Logger) *RedisPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisPublisher{client: client, channel: channel, logger: logger}
}

func (p *RedisPublisher) Publish(ctx context.Context, signals ...Signal) {
	for _, s := range signals {
		payload, err := json.Marshal(s)
		if err != nil {
			p.logger.ErrorContext(ctx, "encode invalidation", "view", s.View, "error", err)
			continue
		}
		if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
			p.logger.WarnContext(ctx, "publish invalidation",
				"view", s.View, "schedule_id", s.ScheduleID, "error", err)
		}
	}
}

// LogPublisher only logs signals. It is used when no Redis is configured.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(ctx context.Context, signals ...Signal) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, s := range signals {
		logger.DebugContext(ctx, "invalidate view",
			"view", s.View, "schedule_id", s.ScheduleID, "phase_id", s.PhaseID)
	}
}

// Recorder keeps published signals in memory.
type Recorder struct {
	mu      sync.Mutex
	signals []Signal
}

func (r *Recorder) Publish(_ context.Context, signals ...Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, signals...)
}

// Signals returns a copy of everything published so far.
func (r *Recorder) Signals() []Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Signal(nil), r.signals...)
}

// Reset drops recorded signals.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = nil
}
