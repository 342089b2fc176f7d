package rotation

import (
	"sort"
	"sync"
	"time"

	"github.com/navcom/groupctl/internal/keys"
	"github.com/navcom/groupctl/internal/model"
)

const defaultFailure = "rotation failure"

// Scheduler owns the single live rotation job of each group. Safe for concurrent use.
type Scheduler struct {
	mu     sync.Mutex
	policy Policy
	jobs   map[string]model.RotationJob
	now    func() int64
}

// NewScheduler returns a scheduler with p resolved against the defaults. A nil clock uses wall time.
func NewScheduler(p Policy, now func() int64) *Scheduler {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	return &Scheduler{policy: p.Resolve(), jobs: map[string]model.RotationJob{}, now: now}
}

func (s *Scheduler) at(ts int64) int64 {
	if ts > 0 {
		return ts
	}
	return s.now()
}

// Policy returns the resolved policy.
func (s *Scheduler) Policy() Policy { return s.policy }

// Get returns the job of a group.
func (s *Scheduler) Get(groupID string) (model.RotationJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[groupID]
	return job, ok
}

// List returns all jobs ordered by group id.
func (s *Scheduler) List() []model.RotationJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.RotationJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupID < out[j].GroupID })
	return out
}

// Schedule puts the group job into pending. A live job keeps its attempts and
// scheduledAt; a completed or missing job is replaced by a fresh one.
func (s *Scheduler) Schedule(groupID, keyID string, trigger model.RotationTrigger, at int64) model.RotationJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedule(groupID, keyID, trigger, s.at(at))
}

func (s *Scheduler) schedule(groupID, keyID string, trigger model.RotationTrigger, now int64) model.RotationJob {
	if cur, ok := s.jobs[groupID]; ok && cur.Status != model.JobCompleted {
		cur.KeyID = keyID
		cur.Trigger = trigger
		cur.Status = model.JobPending
		cur.UpdatedAt = now
		s.jobs[groupID] = cur
		return cur
	}
	job := model.RotationJob{
		GroupID:     groupID,
		KeyID:       keyID,
		Trigger:     trigger,
		Status:      model.JobPending,
		ScheduledAt: now,
		UpdatedAt:   now,
	}
	s.jobs[groupID] = job
	return job
}

// ScheduleIfNeeded schedules a rotation when ShouldRotate says so. The key
// id defaults to the group session key.
func (s *Scheduler) ScheduleIfNeeded(groupID string, key *model.KeyState, trigger model.RotationTrigger, at int64) (model.RotationJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.at(at)
	if !ShouldRotate(key, trigger, now, s.policy) {
		return model.RotationJob{}, false
	}
	keyID := keys.SessionKeyID(groupID)
	if key != nil && key.KeyID != "" {
		keyID = key.KeyID
	}
	return s.schedule(groupID, keyID, trigger, now), true
}

// ScheduleMembershipTriggered schedules a membership-change rotation when
// remote events change membership.
func (s *Scheduler) ScheduleMembershipTriggered(groupID string, key *model.KeyState, remote []model.Event, at int64) (model.RotationJob, bool) {
	if !HasMembershipChange(remote) {
		return model.RotationJob{}, false
	}
	return s.ScheduleIfNeeded(groupID, key, model.TriggerMembershipChange, at)
}

// RecordFailure counts a failed attempt and offers the next retry, or none
// once the retry budget is spent.
func (s *Scheduler) RecordFailure(groupID string, cause error, at int64) (model.RotationJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[groupID]
	if !ok {
		return model.RotationJob{}, false
	}
	now := s.at(at)
	job.Attempts++
	job.Status = model.JobFailed
	job.LastAttemptAt = now
	job.UpdatedAt = now
	job.NextRetryAt = 0
	if job.Attempts < s.policy.MaxRetries {
		job.NextRetryAt = now + s.policy.RetryDelay(job.Attempts)
	}
	job.LastError = defaultFailure
	if cause != nil && cause.Error() != "" {
		job.LastError = cause.Error()
	}
	s.jobs[groupID] = job
	return job, true
}

// CanRetry reports whether a failed job is retry eligible at the given time.
func (s *Scheduler) CanRetry(groupID string, at int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canRetry(groupID, s.at(at))
}

func (s *Scheduler) canRetry(groupID string, now int64) bool {
	job, ok := s.jobs[groupID]
	if !ok || job.Status != model.JobFailed {
		return false
	}
	if job.Attempts >= s.policy.MaxRetries {
		return false
	}
	return job.NextRetryAt > 0 && now >= job.NextRetryAt
}

// MarkRetryScheduled moves a retry eligible job back to pending.
func (s *Scheduler) MarkRetryScheduled(groupID string, at int64) (model.RotationJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.at(at)
	if !s.canRetry(groupID, now) {
		return model.RotationJob{}, false
	}
	job := s.jobs[groupID]
	job.Status = model.JobPending
	job.UpdatedAt = now
	job.NextRetryAt = 0
	s.jobs[groupID] = job
	return job, true
}

// Complete marks the group job completed.
func (s *Scheduler) Complete(groupID string, at int64) (model.RotationJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[groupID]
	if !ok {
		return model.RotationJob{}, false
	}
	job.Status = model.JobCompleted
	job.UpdatedAt = s.at(at)
	job.NextRetryAt = 0
	job.LastError = ""
	s.jobs[groupID] = job
	return job, true
}

// Reset drops every job.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = map[string]model.RotationJob{}
}
