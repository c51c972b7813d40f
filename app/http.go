package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/dtalk/dtalk-ack-adapter/adapter"
	"github.com/dtalk/dtalk-ack-adapter/broker/message"

	"github.com/gorilla/schema"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
)

type ackPublisher interface {
	Publish(ctx context.Context, ack *message.Ack) error
}

type commandTracker interface {
	Track(deviceID int32, cmdSn int64, timeout time.Duration) (*adapter.Pending, error)
	Release(key adapter.CommandKey)
}

type commandStore interface {
	Command(ctx context.Context, deviceID int32, cmdSn int64) (*adapter.CommandState, error)
}

// api serves the HTTP endpoints of the adapter.
type api struct {
	logger    logrus.FieldLogger
	publisher ackPublisher
	tracker   commandTracker
	store     commandStore
	gatherer  prometheus.Gatherer
	timeout   time.Duration
	decoder   *schema.Decoder
}

func newAPI(logger logrus.FieldLogger, publisher ackPublisher, tracker commandTracker, store commandStore, gatherer prometheus.Gatherer, timeout time.Duration) *api {
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)
	return &api{
		logger:    logger,
		publisher: publisher,
		tracker:   tracker,
		store:     store,
		gatherer:  gatherer,
		timeout:   timeout,
		decoder:   decoder,
	}
}

func (a *api) handler() http.Handler {
	mux := http.NewServeMux()

	// Health check.
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "OK")
	})

	// Prometheus metrics.
	mux.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))

	// Profiling data.
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/debug/pprof/block", pprof.Handler("block"))
	mux.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	mux.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))

	// Ack publishing and command tracking.
	mux.HandleFunc("/acks", a.acks)
	mux.HandleFunc("/commands", a.commands)

	return mux
}

type ackForm struct {
	CmdSn         int64  `schema:"cmdSn,required"`
	DeviceID      int32  `schema:"deviceId,required"`
	DeviceMac     string `schema:"deviceMac"`
	Item          string `schema:"item"`
	Value         string `schema:"value"`
	Status        string `schema:"status,required"`
	StatusMessage string `schema:"statusMessage"`
}

func (f ackForm) ack() (*message.Ack, error) {
	status, err := message.ParseStatus(f.Status)
	if err != nil {
		return nil, err
	}
	return new(message.Ack).
		SetCmdSn(f.CmdSn).
		SetDeviceID(f.DeviceID).
		SetDeviceMac(f.DeviceMac).
		SetItem(f.Item).
		SetValue(message.ParseValue(f.Value)).
		SetStatus(status).
		SetStatusMessage(f.StatusMessage), nil
}

type commandForm struct {
	CmdSn    int64  `schema:"cmdSn,required"`
	DeviceID int32  `schema:"deviceId,required"`
	Timeout  string `schema:"timeout"`
	Wait     bool   `schema:"wait"`
}

// acks publishes the ack described by a form, e.g.
// "cmdSn=42&deviceId=7&status=PROGRESS&value=63.9".
func (a *api) acks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		httpError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	form := ackForm{}
	if err := a.decodeForm(r, &form); err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	ack, err := form.ack()
	if err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.publisher.Publish(r.Context(), ack); err != nil {
		a.logger.WithError(err).Error("Ack could not be published")
		httpError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ack)
}

// commands reports the last known state of a command on GET, and starts
// tracking a command on POST. Tracking requests with wait=true are answered
// with the terminal ack of the command.
func (a *api) commands(w http.ResponseWriter, r *http.Request) {
	form := commandForm{}
	if err := a.decodeForm(r, &form); err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	switch r.Method {
	case http.MethodGet:
		a.getCommand(w, r, form)
	case http.MethodPost:
		a.trackCommand(w, r, form)
	default:
		w.Header().Set("Allow", http.MethodGet+", "+http.MethodPost)
		httpError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	}
}

func (a *api) getCommand(w http.ResponseWriter, r *http.Request, form commandForm) {
	state, err := a.store.Command(r.Context(), form.DeviceID, form.CmdSn)
	if err == adapter.ErrCommandNotFound {
		httpError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (a *api) trackCommand(w http.ResponseWriter, r *http.Request, form commandForm) {
	timeout := a.timeout
	if form.Timeout != "" {
		var err error
		if timeout, err = cast.ToDurationE(form.Timeout); err != nil {
			httpError(w, http.StatusBadRequest, errors.Wrap(err, "invalid timeout"))
			return
		}
	}
	p, err := a.tracker.Track(form.DeviceID, form.CmdSn, timeout)
	if err != nil {
		httpError(w, http.StatusConflict, err)
		return
	}
	if !form.Wait {
		writeJSON(w, http.StatusCreated, map[string]string{"command": p.Key.String()})
		return
	}
	ack, err := p.Wait(r.Context())
	if err != nil {
		a.tracker.Release(p.Key)
		httpError(w, http.StatusGatewayTimeout, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

func (a *api) decodeForm(r *http.Request, dst interface{}) error {
	if err := r.ParseForm(); err != nil {
		return err
	}
	return a.decoder.Decode(dst, r.Form)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
