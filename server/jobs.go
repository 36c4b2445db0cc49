package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/stevecastle/retouch/auth"
	"github.com/stevecastle/retouch/jobqueue"
	"github.com/stevecastle/retouch/presets"
	"github.com/stevecastle/retouch/restore"
	"github.com/stevecastle/retouch/stream"
	"github.com/stevecastle/retouch/tasks"
)

// jobRequest is a job or a workflow: children run before the parent.
type jobRequest struct {
	Command   string       `json:"command"`
	Input     string       `json:"input"`
	Arguments []string     `json:"arguments"`
	Children  []jobRequest `json:"children"`
}

func (req jobRequest) workflow(known tasks.TaskMap) (jobqueue.Workflow, error) {
	if _, ok := known[req.Command]; !ok {
		return jobqueue.Workflow{}, fmt.Errorf("unknown command %q", req.Command)
	}
	w := jobqueue.Workflow{Command: req.Command, Arguments: req.Arguments, Input: req.Input}
	for _, c := range req.Children {
		child, err := c.workflow(known)
		if err != nil {
			return w, err
		}
		w.Children = append(w.Children, child)
	}
	return w, nil
}

// jobsHandler lists jobs on GET and queues a job or workflow on POST.
func jobsHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, deps.Queue.GetJobs())
		case http.MethodPost:
			var req jobRequest
			if err := readJSONBody(r, &req); err != nil {
				http.Error(w, "bad json", http.StatusBadRequest)
				return
			}
			wf, err := req.workflow(tasks.GetTasks())
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			id, err := deps.Queue.AddWorkflow(wf)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]string{"id": id})
		default:
			http.Error(w, "Use GET or POST", http.StatusMethodNotAllowed)
		}
	}
}

type jobDetail struct {
	jobqueue.Job
	Stdout []string `json:"stdout"`
}

func detailHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Use GET", http.StatusMethodNotAllowed)
			return
		}
		for _, job := range deps.Queue.GetJobs() {
			if job.ID == r.PathValue("id") {
				writeJSON(w, http.StatusOK, jobDetail{Job: job, Stdout: job.Stdout})
				return
			}
		}
		http.NotFound(w, r)
	}
}

func queueErrorStatus(err error) int {
	switch {
	case errors.Is(err, jobqueue.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobqueue.ErrNotCancelable), errors.Is(err, jobqueue.ErrNotInProgress):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func cancelHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Use POST", http.StatusMethodNotAllowed)
			return
		}
		if err := deps.Queue.CancelJob(r.PathValue("id")); err != nil {
			http.Error(w, err.Error(), queueErrorStatus(err))
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Job cancelled successfully"))
	}
}

func copyHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Use POST", http.StatusMethodNotAllowed)
			return
		}
		newID, err := deps.Queue.CopyJob(r.PathValue("id"))
		if err != nil {
			http.Error(w, err.Error(), queueErrorStatus(err))
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": newID, "message": "Job copied successfully"})
	}
}

func removeHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Use POST", http.StatusMethodNotAllowed)
			return
		}
		if err := deps.Queue.RemoveJob(r.PathValue("id")); err != nil {
			http.Error(w, err.Error(), queueErrorStatus(err))
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Job removed successfully"))
	}
}

func clearNonRunningJobsHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Use POST", http.StatusMethodNotAllowed)
			return
		}
		clearedCount, err := deps.Queue.ClearNonRunningJobs()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"cleared_count": clearedCount,
			"message":       fmt.Sprintf("Cleared %d non-running jobs", clearedCount),
		})
	}
}

func tasksHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Use GET", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, tasks.List())
	}
}

func presetsHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Use GET", http.StatusMethodNotAllowed)
			return
		}
		if deps.Presets == nil {
			writeJSON(w, http.StatusOK, presets.Builtin())
			return
		}
		writeJSON(w, http.StatusOK, deps.Presets.All())
	}
}

// putPresetHandler saves a custom preset. Omitted fields are zero.
func putPresetHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			http.Error(w, "Use PUT", http.StatusMethodNotAllowed)
			return
		}
		if deps.Presets == nil {
			http.Error(w, "presets are not configured", http.StatusNotFound)
			return
		}
		var p restore.Params
		if err := readJSONBody(r, &p); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if err := deps.Presets.Put(r.PathValue("name"), p); err != nil {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, presets.ErrBuiltin):
				status = http.StatusConflict
			case errors.Is(err, presets.ErrUnknownPreset):
				status = http.StatusBadRequest
			}
			http.Error(w, err.Error(), status)
			return
		}
		writeJSON(w, http.StatusOK, p.Clamped())
	}
}

// historyHandler lists recent restorations (GET, ?limit=n) or clears them
// (DELETE).
func historyHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.History == nil {
			http.Error(w, "history is disabled", http.StatusNotFound)
			return
		}
		switch r.Method {
		case http.MethodGet:
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			entries, err := deps.History.List(r.Context(), limit)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, entries)
		case http.MethodDelete:
			n, err := deps.History.Clear(r.Context())
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, map[string]int64{"cleared_count": n})
		default:
			http.Error(w, "Use GET or DELETE", http.StatusMethodNotAllowed)
		}
	}
}

func loginHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Use POST", http.StatusMethodNotAllowed)
			return
		}
		if deps.Auth == nil {
			http.Error(w, "authentication is disabled", http.StatusNotFound)
			return
		}
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := readJSONBody(r, &req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		token, err := deps.Auth.Login(req.Username, req.Password)
		if errors.Is(err, auth.ErrInvalidCreds) {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)
			return
		} else if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"token": token})
	}
}

// healthHandler reports queue and stream statistics.
func healthHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Use GET", http.StatusMethodNotAllowed)
			return
		}
		jobStats := map[string]int{"total": 0}
		if deps.Queue != nil {
			for _, job := range deps.Queue.GetJobs() {
				jobStats["total"]++
				jobStats[job.State.Name()]++
			}
		}
		workers := 1
		if deps.Restorer != nil && deps.Restorer.Pipeline != nil {
			workers = deps.Restorer.Pipeline.Workers()
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "healthy",
			"version":   deps.Version,
			"timestamp": time.Now().Unix(),
			"workers":   workers,
			"stream":    stream.GetStats(),
			"jobs":      jobStats,
		})
	}
}
