package server

import (
	"net/http"

	"github.com/citizenweb/kraken/errors"
	"github.com/citizenweb/kraken/jobs"
	"github.com/citizenweb/kraken/messages"
)

// handleListJobs returns the polling URLs of all live jobs.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	ids, err := jobs.List(r.Context(), s.store)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	urls := make([]string, 0, len(ids))
	for _, id := range ids {
		urls = append(urls, "/api/jobs/"+id)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": urls})
}

// handleGetJob reports a job's state. The HTTP status code carries the job
// status itself (200 running, success code, 400 or 500); the body is the
// latest progress notification of the job's thread, when one exists.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status, ok, err := jobs.Status(r.Context(), s.store, id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	body := map[string]interface{}{}
	if latest, err := messages.Latest(r.Context(), s.store, id); err == nil {
		body["notification"] = latest
	} else if !errors.IsNotFound(err) {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, status, body)
}

// handleListNotifications returns the latest event of every live
// notification id, oldest first.
func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	list, err := messages.List(r.Context(), s.store)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if list == nil {
		list = []*messages.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"notifications": list})
}

type notificationRequest struct {
	Notification struct {
		ID       string `json:"id"`
		Level    string `json:"level"`
		Comp     string `json:"comp"`
		Message  string `json:"message"`
		Class    string `json:"cls"`
		Title    string `json:"title"`
		Complete bool   `json:"complete"`
	} `json:"notification"`
}

// handlePostNotification accepts a client-submitted notification: standalone
// when no id is given, a thread step (terminal when complete) otherwise.
func (s *Server) handlePostNotification(w http.ResponseWriter, r *http.Request) {
	var req notificationRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}
	body := req.Notification
	if body.Message == "" || body.Level == "" || body.Comp == "" {
		writeError(w, http.StatusBadRequest, "notification requires message, level and comp")
		return
	}

	n := messages.New(messages.Level(body.Level), body.Comp, body.Message)
	n.Class = body.Class
	n.Title = body.Title

	var err error
	if body.ID != "" {
		thread := messages.ResumeThread(s.store, body.ID)
		if body.Complete {
			err = thread.Complete(r.Context(), n)
		} else {
			err = thread.Update(r.Context(), n)
		}
	} else {
		err = messages.Send(r.Context(), s.store, n)
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"notification": n})
}

// notificationDetail is a notification plus its earlier thread events,
// oldest first.
type notificationDetail struct {
	*messages.Notification
	History []*messages.Notification `json:"history"`
}

// handleGetNotification returns the latest event for an id with its thread
// history. Standalone notifications have an empty history.
func (s *Server) handleGetNotification(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	events, err := messages.GetThread(r.Context(), s.store, id)
	if errors.IsNotFound(err) {
		var n *messages.Notification
		if n, err = messages.GetNotification(r.Context(), s.store, id); err == nil {
			events = []*messages.Notification{n}
		}
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}

	detail := notificationDetail{
		Notification: events[len(events)-1],
		History:      events[:len(events)-1],
	}
	if detail.History == nil {
		detail.History = []*messages.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"notification": detail})
}

// handleDeleteNotification removes a notification or thread and tells
// clients to drop it from their stores.
func (s *Server) handleDeleteNotification(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := messages.Delete(r.Context(), s.store, id); err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.pusher.Remove(r.Context(), "notification", id); err != nil {
		s.logger.Warnw("Failed to purge deleted notification",
			"notification_id", id,
			"error", err,
		)
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteAllNotifications clears every notification record.
func (s *Server) handleDeleteAllNotifications(w http.ResponseWriter, r *http.Request) {
	if err := messages.DeleteAll(r.Context(), s.store); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUpdates drains the poll buffers for clients without a websocket.
func (s *Server) handleUpdates(w http.ResponseWriter, r *http.Request) {
	update, err := s.pusher.Drain(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, update)
}

// handleHealth reports liveness and store reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.Exists(r.Context(), "health"); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
