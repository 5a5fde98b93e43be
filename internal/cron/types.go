package cron

import (
	"time"

	"github.com/google/uuid"

	"github.com/stellarlinkco/modclaw/internal/bus"
)

const (
	KindCron  = "cron"
	KindEvery = "every"
	KindAt    = "at"
)

// Schedule is one of: a six-field cron expression (with seconds), a fixed
// interval, or a single instant.
type Schedule struct {
	Kind    string `json:"kind"`
	Expr    string `json:"expr,omitempty"`
	EveryMs int64  `json:"everyMs,omitempty"`
	AtMs    int64  `json:"atMs,omitempty"`
}

// Payload is the directive a job executes when it fires.
type Payload struct {
	Directive bus.Directive `json:"directive"`
}

type JobState struct {
	LastRunAtMs int64  `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"`
	LastError   string `json:"lastError,omitempty"`
}

type CronJob struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Enabled        bool     `json:"enabled"`
	Schedule       Schedule `json:"schedule"`
	Payload        Payload  `json:"payload"`
	State          JobState `json:"state"`
	DeleteAfterRun bool     `json:"deleteAfterRun,omitempty"`
	CreatedAtMs    int64    `json:"createdAtMs"`
}

func NewCronJob(name string, schedule Schedule, payload Payload) CronJob {
	return CronJob{
		ID:          uuid.NewString(),
		Name:        name,
		Enabled:     true,
		Schedule:    schedule,
		Payload:     payload,
		CreatedAtMs: time.Now().UnixMilli(),
	}
}

// At builds a one-shot schedule firing at t.
func At(t time.Time) Schedule {
	return Schedule{Kind: KindAt, AtMs: t.UnixMilli()}
}

func Every(d time.Duration) Schedule {
	return Schedule{Kind: KindEvery, EveryMs: d.Milliseconds()}
}

func Cron(expr string) Schedule {
	return Schedule{Kind: KindCron, Expr: expr}
}
