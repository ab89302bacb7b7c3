package session

import (
	"sort"
	"time"
)

const maxJobsPerSession = 200

// BackgroundJob tracks one long-running shell process reported by a tool.
type BackgroundJob struct {
	TaskID    string    `json:"taskId"`
	Status    string    `json:"status"`
	Command   string    `json:"command,omitempty"`
	URLs      []string  `json:"urls,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UpdateJob applies a job event to the session's job table. Fields already
// known (command, URLs) survive updates that omit them. Returns the merged
// record.
func (m *Manager) UpdateJob(sessionID, taskID, status, command string, urls []string) (BackgroundJob, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok || taskID == "" {
		return BackgroundJob{}, false
	}

	j, exists := s.jobs[taskID]
	if !exists {
		if len(s.jobOrder) >= maxJobsPerSession {
			oldest := s.jobOrder[0]
			s.jobOrder = s.jobOrder[1:]
			delete(s.jobs, oldest)
		}
		j = &BackgroundJob{TaskID: taskID}
		s.jobs[taskID] = j
		s.jobOrder = append(s.jobOrder, taskID)
	}
	if status != "" {
		j.Status = status
	}
	if command != "" {
		j.Command = command
	}
	for _, u := range urls {
		if !containsString(j.URLs, u) {
			j.URLs = append(j.URLs, u)
		}
	}
	j.UpdatedAt = time.Now()
	return *j, true
}

// Jobs returns the session's job records, most recently updated first.
func (m *Manager) Jobs(sessionID string) []BackgroundJob {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]BackgroundJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].UpdatedAt.After(out[k].UpdatedAt) })
	return out
}

// RunningJobs returns only the jobs still in the running state.
func (m *Manager) RunningJobs(sessionID string) []BackgroundJob {
	all := m.Jobs(sessionID)
	out := all[:0]
	for _, j := range all {
		if j.Status == "running" {
			out = append(out, j)
		}
	}
	return out
}

// AllJobs returns jobs across every session, optionally filtered by cwd.
func (m *Manager) AllJobs(cwd string) map[string][]BackgroundJob {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id, s := range m.sessions {
		if cwd == "" || s.Cwd == cwd {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	out := make(map[string][]BackgroundJob, len(ids))
	for _, id := range ids {
		if jobs := m.Jobs(id); len(jobs) > 0 {
			out[id] = jobs
		}
	}
	return out
}

func containsString(xs []string, want string) bool {
	for _, x := range xs {
		if x == want {
			return true
		}
	}
	return false
}
