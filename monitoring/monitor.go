// Package monitoring exposes running flash simulations over HTTP.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	// Enable profiling
	_ "net/http/pprof"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/process"
	log "github.com/sirupsen/logrus"
	"github.com/syifan/goseth"

	"github.com/sarchlab/norflashsim/idgen"
	"github.com/sarchlab/norflashsim/mem/norflash"
	"github.com/sarchlab/norflashsim/timing"
)

type monitoredFlash struct {
	name     string
	channel  *SnapshotChannel
	latest   *norflash.Snapshot
	timings  timing.Timings
	hasTimes bool
}

// Monitor serves the latest snapshots of the registered flashes, the
// progress of the workloads, and the resource usage of the process.
//
// The flashes are never touched by the monitor. The goroutines that own them
// publish snapshots through SnapshotChannels.
type Monitor struct {
	portNumber      int
	profileDuration time.Duration
	ids             idgen.Generator
	server          *http.Server

	flashesLock sync.Mutex
	flashes     []*monitoredFlash

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a new Monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		profileDuration: time.Second,
		ids:             idgen.NewParallel(),
	}
}

// WithPortNumber sets the port number of the monitor. Port 0 selects a random
// free port.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		log.WithField("port", portNumber).
			Warn("privileged port is not allowed, using a random port instead")

		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterFlash makes the snapshots published on ch available under name.
func (m *Monitor) RegisterFlash(name string, ch *SnapshotChannel) {
	m.flashesLock.Lock()
	defer m.flashesLock.Unlock()

	if m.findFlash(name) != nil {
		log.Panicf("flash %s is already registered", name)
	}

	m.flashes = append(m.flashes, &monitoredFlash{name: name, channel: ch})
}

// RegisterTimings sets the timing model used to estimate the operation time
// of a registered flash.
func (m *Monitor) RegisterTimings(name string, t timing.Timings) {
	m.flashesLock.Lock()
	defer m.flashesLock.Unlock()

	f := m.findFlash(name)
	if f == nil {
		log.Panicf("flash %s is not registered", name)
	}

	f.timings = t
	f.hasTimes = true
}

func (m *Monitor) findFlash(name string) *monitoredFlash {
	for _, f := range m.flashes {
		if f.name == name {
			return f
		}
	}

	return nil
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        m.ids.Generate(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar from the progress list.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

func (m *Monitor) router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/flashes", m.listFlashes)
	r.HandleFunc("/api/snapshot/{name}", m.snapshot)
	r.HandleFunc("/api/snapshot/{name}/field/{path}", m.snapshotField)
	r.HandleFunc("/api/time/{name}", m.estimateTime)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)

	return r
}

// StartServer starts serving in the background and returns the URL of the
// server.
func (m *Monitor) StartServer() (string, error) {
	if m.server != nil {
		return "", errors.New("monitor server is already running")
	}

	listener, err := net.Listen("tcp", ":"+strconv.Itoa(m.portNumber))
	if err != nil {
		return "", err
	}

	m.server = &http.Server{
		Handler:           m.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	log.WithField("url", url).Info("monitoring flash simulation")

	go func() {
		err := m.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("monitor server stopped")
		}
	}()

	return url, nil
}

// StopServer shuts the server down.
func (m *Monitor) StopServer(ctx context.Context) error {
	if m.server == nil {
		return nil
	}

	err := m.server.Shutdown(ctx)
	m.server = nil

	return err
}

func (m *Monitor) listFlashes(w http.ResponseWriter, _ *http.Request) {
	m.flashesLock.Lock()
	names := make([]string, 0, len(m.flashes))
	for _, f := range m.flashes {
		names = append(names, f.name)
	}
	m.flashesLock.Unlock()

	writeJSON(w, names)
}

// latestSnapshot consumes the pending snapshot of the named flash, if any, and
// returns the most recent one seen.
func (m *Monitor) latestSnapshot(
	w http.ResponseWriter,
	name string,
) (*monitoredFlash, *norflash.Snapshot) {
	m.flashesLock.Lock()
	defer m.flashesLock.Unlock()

	f := m.findFlash(name)
	if f == nil {
		http.Error(w, "flash not found", http.StatusNotFound)
		return nil, nil
	}

	if s, ok := f.channel.Latest(); ok {
		f.latest = &s
	}

	if f.latest == nil {
		w.WriteHeader(http.StatusNoContent)
		return f, nil
	}

	return f, f.latest
}

func (m *Monitor) snapshot(w http.ResponseWriter, r *http.Request) {
	_, s := m.latestSnapshot(w, mux.Vars(r)["name"])
	if s == nil {
		return
	}

	writeJSON(w, s)
}

func (m *Monitor) snapshotField(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	_, s := m.latestSnapshot(w, vars["name"])
	if s == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(s)
	serializer.SetMaxDepth(1)

	err := serializer.SetEntryPoint(strings.Split(vars["path"], "."))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = serializer.Serialize(w)
	dieOnErr(err)
}

type timeRsp struct {
	Flash    string           `json:"flash"`
	Model    string           `json:"model"`
	Estimate timing.Breakdown `json:"estimate"`
	Total    string           `json:"total"`
}

func (m *Monitor) estimateTime(w http.ResponseWriter, r *http.Request) {
	f, s := m.latestSnapshot(w, mux.Vars(r)["name"])
	if s == nil {
		return
	}

	if !f.hasTimes {
		http.Error(w, "no timing model registered", http.StatusNotFound)
		return
	}

	estimate := f.timings.Estimate(s.Counters)

	writeJSON(w, timeRsp{
		Flash:    f.name,
		Model:    f.timings.String(),
		Estimate: estimate,
		Total:    estimate.Total.String(),
	})
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	bars := make([]*ProgressBar, len(m.progressBars))
	copy(bars, m.progressBars)
	m.progressBarsLock.Unlock()

	writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	time.Sleep(m.profileDuration)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")

	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
