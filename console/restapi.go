package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"code.linksmart.eu/dt/ops-console/deploy"
	"code.linksmart.eu/dt/ops-console/model"
	"code.linksmart.eu/dt/ops-console/pipeline"
	"code.linksmart.eu/dt/ops-console/scheduler"
	"code.linksmart.eu/dt/ops-console/targets"
	"github.com/cskr/pubsub"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/justinas/alice"
	"github.com/rs/cors"
	"github.com/urfave/negroni"
)

const (
	// query parameter keys
	_commit    = "commit"
	_restart   = "restart"
	_execute   = "execute"
	_wait      = "wait"
	_env       = "env"
	_target    = "target"
	_component = "component"
	_kind      = "kind"
)

var components = map[string]model.Intent{
	"backend": model.IntentPullBackend,
	"ui":      model.IntentPullUI,
	"plugin":  model.IntentSyncPlugin,
}

type restAPI struct {
	service *deploy.Service
	events  *pubsub.PubSub
	auth    *authenticator
	router  *mux.Router
}

type event struct {
	Topic   string      `json:"topic"`
	Payload interface{} `json:"payload"`
}

func newRESTAPI(service *deploy.Service, events *pubsub.PubSub, auth *authenticator) *restAPI {
	a := &restAPI{
		service: service,
		events:  events,
		auth:    auth,
	}
	a.setupRouter()
	return a
}

func (a *restAPI) handler() http.Handler {
	chain := alice.New(
		recoveryMiddleware,
		loggingMiddleware,
		cors.AllowAll().Handler,
		a.auth.middleware,
	)
	return chain.Then(a.router)
}

func (a *restAPI) setupRouter() {
	r := mux.NewRouter()

	// targets
	r.HandleFunc("/targets", a.getTargets).Methods(http.MethodGet)
	r.HandleFunc("/targets/{id}", a.getTarget).Methods(http.MethodGet)
	r.HandleFunc("/targets/{id}/status", a.getStatus).Methods(http.MethodGet)
	// deployment
	r.HandleFunc("/targets/{id}/pull/{component}", a.pull).Methods(http.MethodPost)
	r.HandleFunc("/targets/{id}/restart", a.trigger(model.IntentRestart)).Methods(http.MethodPost)
	r.HandleFunc("/targets/{id}/kill", a.trigger(model.IntentKillAll)).Methods(http.MethodPost)
	r.HandleFunc("/targets/{id}/reschema", a.trigger(model.IntentReschema)).Methods(http.MethodPost)
	r.HandleFunc("/targets/{id}/cache/clear", a.trigger(model.IntentClearCache)).Methods(http.MethodPost)
	r.HandleFunc("/targets/{id}/environment", a.trigger(model.IntentChangeEnvironment)).Methods(http.MethodPost)
	// logs
	r.HandleFunc("/targets/{id}/logs.tgz", a.getLogBundle).Methods(http.MethodGet)
	r.HandleFunc("/targets/{id}/logs/{kind}", a.streamLog).Methods(http.MethodGet)
	// tasks
	r.HandleFunc("/tasks", a.getTasks).Methods(http.MethodGet)
	r.HandleFunc("/tasks/{id}", a.getTask).Methods(http.MethodGet)
	// health
	r.HandleFunc("/health", a.getHealth).Methods(http.MethodGet)

	// websocket
	r.PathPrefix("/events").HandlerFunc(a.websocket)

	a.router = r
}

func (a *restAPI) getTargets(w http.ResponseWriter, r *http.Request) {
	list, err := a.service.Targets.List()
	if err != nil {
		HTTPResponseError(w, http.StatusInternalServerError, err)
		return
	}
	a.writeJSON(w, http.StatusOK, list)
}

func (a *restAPI) getTarget(w http.ResponseWriter, r *http.Request) {
	target, err := a.service.Targets.Resolve(mux.Vars(r)["id"])
	if err != nil {
		HTTPResponseError(w, errorCode(err), err)
		return
	}
	a.writeJSON(w, http.StatusOK, target)
}

func (a *restAPI) getStatus(w http.ResponseWriter, r *http.Request) {
	snapshot, err := a.service.Status(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		HTTPResponseError(w, errorCode(err), err)
		return
	}
	a.writeJSON(w, http.StatusOK, snapshot)
}

func (a *restAPI) pull(w http.ResponseWriter, r *http.Request) {
	component := mux.Vars(r)[_component]
	intent, found := components[component]
	if !found {
		HTTPResponseError(w, http.StatusNotFound, "unknown component: ", component)
		return
	}
	a.trigger(intent)(w, r)
}

// trigger returns the handler requesting intent on the target of the path
func (a *restAPI) trigger(intent model.Intent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := parseRequest(r, intent)
		if err != nil {
			HTTPResponseError(w, http.StatusBadRequest, err)
			return
		}
		log.Printf("Received %s request for %s: %+v", intent, req.TargetID, req)

		outcome, err := a.service.Trigger(r.Context(), *req)
		if err != nil {
			HTTPResponseError(w, errorCode(err), err)
			return
		}

		switch {
		case outcome.Run == nil && outcome.Task != nil:
			a.writeJSON(w, http.StatusAccepted, outcome)
		case outcome.Run != nil && !outcome.Run.Success:
			a.writeJSON(w, http.StatusInternalServerError, newFailure(outcome))
		default:
			a.writeJSON(w, http.StatusOK, outcome)
		}
	}
}

// failure is the response to a failed pipeline
type failure struct {
	Error      string `json:"error"`
	Step       string `json:"step"`
	Command    string `json:"command"`
	Stderr     string `json:"stderr"`
	ReturnCode int    `json:"returnCode"`
	*deploy.Outcome
}

func newFailure(outcome *deploy.Outcome) failure {
	f := failure{Error: outcome.Run.Message, Outcome: outcome}
	if step := outcome.Run.Failed(); step != nil {
		f.Step = step.Name
		f.Command = step.Command
		f.Stderr = step.Stderr
		f.ReturnCode = step.ReturnCode
	}
	return f
}

func parseRequest(r *http.Request, intent model.Intent) (*deploy.Request, error) {
	query := r.URL.Query()
	req := &deploy.Request{
		TargetID:    mux.Vars(r)["id"],
		Intent:      intent,
		Commit:      query.Get(_commit),
		Environment: query.Get(_env),
	}
	var err error
	if req.Execute, err = parseBool(query.Get(_execute)); err != nil {
		return nil, fmt.Errorf("error parsing %s query parameter: %s", _execute, err)
	}
	if req.Restart, err = parseBool(query.Get(_restart)); err != nil {
		return nil, fmt.Errorf("error parsing %s query parameter: %s", _restart, err)
	}
	if v := query.Get(_wait); v != "" {
		wait, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("error parsing %s query parameter: %s", _wait, err)
		}
		req.Wait = &wait
	}
	return req, nil
}

func parseBool(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}

// errorCode maps configuration errors to response codes
func errorCode(err error) int {
	switch {
	case errors.Is(err, targets.ErrNotFound), errors.Is(err, deploy.ErrUnknownLog):
		return http.StatusNotFound
	case errors.Is(err, targets.ErrDisabled):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrUnknownIntent), errors.Is(err, pipeline.ErrInvalidEnvironment),
		errors.Is(err, pipeline.ErrInvalidRef):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// streamLog writes the tail of a log as text/event-stream until the client goes away
func (a *restAPI) streamLog(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	flusher, ok := w.(http.Flusher)
	if !ok {
		HTTPResponseError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	cursor, err := a.service.OpenLog(r.Context(), vars["id"], deploy.LogKind(vars[_kind]))
	if err != nil {
		HTTPResponseError(w, errorCode(err), err)
		return
	}
	defer cursor.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for line := range cursor.Lines() {
		_, err := fmt.Fprintf(w, "data: %s\n\n", line)
		if err != nil {
			log.Printf("streamLog: error writing to client: %s", err)
			return
		}
		flusher.Flush()
	}
}

func (a *restAPI) getLogBundle(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	target, err := a.service.Targets.Resolve(id)
	if err != nil {
		HTTPResponseError(w, errorCode(err), err)
		return
	}
	if target.Remote() {
		HTTPResponseError(w, http.StatusNotImplemented, "log bundles are only available for local targets")
		return
	}

	var b bytes.Buffer
	err = bundleLogs(&b, a.service.LogFiles(target))
	if err != nil {
		HTTPResponseError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("%s-logs-%d.tgz", id, time.Now().Unix())))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(b.Bytes()); err != nil {
		log.Printf("getLogBundle: error writing response: %s", err)
	}
}

func (a *restAPI) getTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := a.service.Scheduler.List()
	if err != nil {
		HTTPResponseError(w, http.StatusInternalServerError, err)
		return
	}
	if target := r.URL.Query().Get(_target); target != "" {
		filtered := make([]model.TaskRecord, 0, len(tasks))
		for _, t := range tasks {
			if t.TargetID == target {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}
	a.writeJSON(w, http.StatusOK, tasks)
}

func (a *restAPI) getTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	task, err := a.service.Scheduler.Get(id)
	if err != nil {
		HTTPResponseError(w, http.StatusInternalServerError, err)
		return
	}
	if task == nil {
		HTTPResponseError(w, http.StatusNotFound, id+" is not found!")
		return
	}
	a.writeJSON(w, http.StatusOK, task)
}

func (a *restAPI) getHealth(w http.ResponseWriter, r *http.Request) {
	HTTPResponseSuccess(w, http.StatusOK, "OK")
}

func (a *restAPI) websocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true }, // allow all origins
	}
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("websocket: upgrade error:", err)
		return
	}
	defer c.Close()

	target := r.URL.Query().Get(_target)

	events := a.events.Sub(scheduler.TopicTasks)
	defer a.events.Unsub(events, scheduler.TopicTasks) // publisher only uses TryPub

	// detect the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case raw, ok := <-events:
			if !ok {
				return
			}
			record, ok := raw.(model.TaskRecord)
			if !ok || (target != "" && record.TargetID != target) {
				continue
			}
			b, _ := json.Marshal(event{Topic: scheduler.TopicTasks, Payload: record})
			err = c.WriteMessage(websocket.TextMessage, b)
			if err != nil {
				log.Println("websocket: write error:", err)
				return
			}
		}
	}
}

func (a *restAPI) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		HTTPResponseError(w, http.StatusInternalServerError, err)
		return
	}
	HTTPResponse(w, code, b)
}

// HTTPResponseError serializes and writes an error response
//	If no message is provided, the status text will be set as the message
func HTTPResponseError(w http.ResponseWriter, code int, message ...interface{}) {
	if len(message) == 0 {
		message = make([]interface{}, 1)
		message[0] = http.StatusText(code)
	}
	log.Println("Request error:", message)
	body, _ := json.Marshal(&map[string]string{
		"error": fmt.Sprint(message...),
	})
	HTTPResponse(w, code, body)
}

// HTTPResponseSuccess serializes and writes a success response
//	If no message is provided, the status text will be set as the message
func HTTPResponseSuccess(w http.ResponseWriter, code int, message ...interface{}) {
	if len(message) == 0 {
		message = make([]interface{}, 1)
		message[0] = http.StatusText(code)
	}
	body, _ := json.Marshal(&map[string]string{
		"message": fmt.Sprint(message...),
	})
	HTTPResponse(w, code, body)
}

// HTTPResponse writes a response
func HTTPResponse(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, err := w.Write(body)
	if err != nil {
		log.Printf("HTTPResponse: error writing response: %s", err)
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		nw := negroni.NewResponseWriter(w)
		next.ServeHTTP(nw, r)
		log.Printf("\"%s %s %s\" %d %d %v\n", r.Method, r.URL.Path, r.Proto, nw.Status(), nw.Size(), time.Since(start))
	})
}

func recoveryMiddleware(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("PANIC: %v\n%s", r, debug.Stack())
				HTTPResponseError(w, 500, r)
			}
		}()
		next.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}
