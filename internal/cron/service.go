package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	rcron "github.com/robfig/cron/v3"

	"github.com/stellarlinkco/modclaw/internal/apperr"
	"github.com/stellarlinkco/modclaw/internal/bus"
	"github.com/stellarlinkco/modclaw/internal/store"
)

var exprParser = rcron.NewParser(
	rcron.Second | rcron.Minute | rcron.Hour | rcron.Dom | rcron.Month | rcron.Dow | rcron.Descriptor,
)

// Service persists scheduled directives and fires them from its own
// goroutines through OnJob. It never touches engine state.
type Service struct {
	storePath string
	mu        sync.Mutex
	jobs      []CronJob
	OnJob     func(job CronJob) (string, error)
	cron      *rcron.Cron
	entryMap  map[string]rcron.EntryID // job ID -> cron entry ID
	cancel    context.CancelFunc
	stopCh    chan struct{}
}

func NewService(storePath string) *Service {
	return &Service{
		storePath: storePath,
		entryMap:  make(map[string]rcron.EntryID),
	}
}

func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	stopCh := make(chan struct{})
	s.mu.Lock()
	s.cancel = cancel
	s.stopCh = stopCh
	s.mu.Unlock()

	if err := s.load(); err != nil {
		log.Printf("[cron] warning: failed to load jobs: %v", err)
	}

	s.mu.Lock()
	s.cron = rcron.New(rcron.WithParser(exprParser))
	for i := range s.jobs {
		if s.jobs[i].Enabled && s.jobs[i].Schedule.Kind == KindCron {
			s.registerJob(&s.jobs[i])
		}
	}
	count := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	log.Printf("[cron] started with %d jobs", count)

	go s.tickLoop(runCtx)

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopCh:
			return
		}
	}()

	return nil
}

func (s *Service) registerJob(job *CronJob) {
	jobID := job.ID
	id, err := s.cron.AddFunc(job.Schedule.Expr, func() {
		if j, ok := s.job(jobID); ok {
			s.executeJob(j)
		}
	})
	if err != nil {
		log.Printf("[cron] failed to register job %s (%s): %v", job.Name, job.Schedule.Expr, err)
		return
	}
	s.entryMap[job.ID] = id
}

func (s *Service) job(id string) (CronJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.ID == id {
			return j, true
		}
	}
	return CronJob{}, false
}

func (s *Service) executeJob(job CronJob) {
	log.Printf("[cron] executing job %s (%s)", job.Name, job.ID)

	if s.OnJob == nil {
		log.Printf("[cron] no OnJob handler set")
		return
	}

	result, err := s.OnJob(job)

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.jobs {
		if s.jobs[i].ID != job.ID {
			continue
		}
		s.jobs[i].State.LastRunAtMs = time.Now().UnixMilli()
		if err != nil {
			s.jobs[i].State.LastStatus = "error"
			s.jobs[i].State.LastError = err.Error()
			log.Printf("[cron] job %s error: %v", job.Name, err)
		} else {
			s.jobs[i].State.LastStatus = "ok"
			s.jobs[i].State.LastError = ""
			log.Printf("[cron] job %s result: %s", job.Name, truncate(result, 100))
		}

		if s.jobs[i].DeleteAfterRun {
			s.unregister(job.ID)
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
		}
		break
	}

	if err := s.save(); err != nil {
		log.Printf("[cron] save jobs: %v", err)
	}
}

// due returns the interval and one-shot jobs that should run at nowMs.
// One-shot jobs are disabled before they are returned so they fire once.
func (s *Service) due(nowMs int64) []CronJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []CronJob
	for i := range s.jobs {
		job := &s.jobs[i]
		if !job.Enabled {
			continue
		}
		switch job.Schedule.Kind {
		case KindEvery:
			if job.Schedule.EveryMs > 0 && nowMs >= job.State.LastRunAtMs+job.Schedule.EveryMs {
				job.State.LastRunAtMs = nowMs
				out = append(out, *job)
			}
		case KindAt:
			if job.Schedule.AtMs > 0 && nowMs >= job.Schedule.AtMs {
				job.Enabled = false
				out = append(out, *job)
			}
		}
	}
	return out
}

func (s *Service) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, job := range s.due(time.Now().UnixMilli()) {
				s.executeJob(job)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	stopCh := s.stopCh
	s.cancel = nil
	s.stopCh = nil
	c := s.cron
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if stopCh != nil {
		close(stopCh)
	}

	if c != nil {
		stopCtx := c.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(5 * time.Second):
			log.Printf("[cron] stop timeout waiting for running jobs")
		}
	}
	log.Printf("[cron] stopped")
}

func validateSchedule(schedule Schedule) error {
	switch schedule.Kind {
	case KindCron:
		if _, err := exprParser.Parse(schedule.Expr); err != nil {
			return fmt.Errorf("cron expression %q: %w: %v", schedule.Expr, apperr.ErrInvalidInput, err)
		}
	case KindEvery:
		if schedule.EveryMs <= 0 {
			return fmt.Errorf("interval must be positive: %w", apperr.ErrInvalidInput)
		}
	case KindAt:
		if schedule.AtMs <= 0 {
			return fmt.Errorf("instant must be set: %w", apperr.ErrInvalidInput)
		}
	default:
		return fmt.Errorf("schedule kind %q: %w", schedule.Kind, apperr.ErrInvalidInput)
	}
	return nil
}

func (s *Service) AddJob(name string, schedule Schedule, payload Payload) (*CronJob, error) {
	if err := validateSchedule(schedule); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job := NewCronJob(name, schedule, payload)
	job.DeleteAfterRun = schedule.Kind == KindAt
	s.jobs = append(s.jobs, job)

	if job.Schedule.Kind == KindCron && s.cron != nil {
		s.registerJob(&s.jobs[len(s.jobs)-1])
	}

	if err := s.save(); err != nil {
		return nil, fmt.Errorf("save jobs: %w", err)
	}

	return &job, nil
}

// ScheduleDirective runs d once after its Delay. The Delay is cleared on the
// stored copy so the job executes it inline.
func (s *Service) ScheduleDirective(d bus.Directive) (*CronJob, error) {
	at := time.Now().Add(d.Delay)
	d.Delay = 0
	name := fmt.Sprintf("%s %s", d.Kind, d.ChannelID)
	return s.AddJob(name, At(at), Payload{Directive: d})
}

// EnsureJob makes the job called name match schedule and payload, adding it
// when missing. Existing state is kept.
func (s *Service) EnsureJob(name string, schedule Schedule, payload Payload) (*CronJob, error) {
	if err := validateSchedule(schedule); err != nil {
		return nil, err
	}

	s.mu.Lock()
	for i := range s.jobs {
		if s.jobs[i].Name != name {
			continue
		}
		job := &s.jobs[i]
		job.Payload = payload
		if job.Schedule != schedule {
			job.Schedule = schedule
			if s.cron != nil {
				s.unregister(job.ID)
				if job.Enabled && schedule.Kind == KindCron {
					s.registerJob(job)
				}
			}
		}
		out := *job
		err := s.save()
		s.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("save jobs: %w", err)
		}
		return &out, nil
	}
	s.mu.Unlock()
	return s.AddJob(name, schedule, payload)
}

func (s *Service) unregister(id string) {
	if entryID, ok := s.entryMap[id]; ok {
		if s.cron != nil {
			s.cron.Remove(entryID)
		}
		delete(s.entryMap, id)
	}
}

func (s *Service) RemoveJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, job := range s.jobs {
		if job.ID == id {
			s.unregister(id)
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			_ = s.save()
			return true
		}
	}
	return false
}

func (s *Service) ListJobs() []CronJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]CronJob, len(s.jobs))
	copy(result, s.jobs)
	return result
}

// LoadJobs reads the persisted jobs without starting the scheduler.
func (s *Service) LoadJobs() ([]CronJob, error) {
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	return s.ListJobs(), nil
}

func (s *Service) EnableJob(id string, enabled bool) (*CronJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.jobs {
		if s.jobs[i].ID != id {
			continue
		}
		s.jobs[i].Enabled = enabled
		if s.jobs[i].Schedule.Kind == KindCron && s.cron != nil {
			if enabled {
				if _, ok := s.entryMap[id]; !ok {
					s.registerJob(&s.jobs[i])
				}
			} else {
				s.unregister(id)
			}
		}
		_ = s.save()
		job := s.jobs[i]
		return &job, nil
	}
	return nil, fmt.Errorf("job %s: %w", id, apperr.ErrNotFound)
}

func (s *Service) load() error {
	data, err := os.ReadFile(s.storePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var jobs []CronJob
	if err := json.Unmarshal(data, &jobs); err != nil {
		return err
	}
	s.mu.Lock()
	s.jobs = jobs
	s.mu.Unlock()
	return nil
}

func (s *Service) save() error {
	dir := filepath.Dir(s.storePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.jobs, "", "  ")
	if err != nil {
		return err
	}
	return store.WriteFileAtomic(s.storePath, data)
}

// truncate keeps the first n runes of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
