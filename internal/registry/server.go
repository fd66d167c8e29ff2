package registry

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/canopyrun/canopy/internal/hostname"
	"github.com/canopyrun/canopy/internal/logging"
)

// Server exposes the registry over a consul-compatible HTTP surface:
//
//	PUT /v1/agent/service/register
//	PUT /v1/agent/service/deregister/{id}
//	GET /v1/health/service/{name}?passing=1&index=N&wait=60s
//
// Blocking queries carry the new version in the X-Consul-Index header, so
// the stock hashicorp/consul/api client works as the watch client.
type Server struct {
	reg         *Registry
	log         *logging.Logger
	defaultWait time.Duration
	mux         *http.ServeMux
}

// NewServer creates the HTTP surface over reg. defaultWait bounds blocking
// queries that do not pass an explicit wait.
func NewServer(reg *Registry, log *logging.Logger, defaultWait time.Duration) *Server {
	s := &Server{reg: reg, log: log, defaultWait: defaultWait, mux: http.NewServeMux()}
	s.mux.HandleFunc("PUT /v1/agent/service/register", s.handleRegister)
	s.mux.HandleFunc("PUT /v1/agent/service/deregister/{id}", s.handleDeregister)
	s.mux.HandleFunc("GET /v1/health/service/{name}", s.handleHealth)
	return s
}

// Handler returns the root handler for the registry API.
func (s *Server) Handler() http.Handler { return s.mux }

// serviceRegistration mirrors the consul agent registration payload.
type serviceRegistration struct {
	ID      string   `json:"ID"`
	Name    string   `json:"Name"`
	Address string   `json:"Address"`
	Port    int      `json:"Port"`
	Tags    []string `json:"Tags"`
	Check   struct {
		TCP                            string `json:"TCP"`
		Interval                       string `json:"Interval"`
		Timeout                        string `json:"Timeout"`
		DeregisterCriticalServiceAfter string `json:"DeregisterCriticalServiceAfter"`
	} `json:"Check"`
}

// Consul-wire health response shapes, field-compatible with the
// hashicorp/consul/api client's ServiceEntry decoding.
type healthNode struct {
	Node    string `json:"Node"`
	Address string `json:"Address"`
}

type healthService struct {
	ID      string   `json:"ID"`
	Service string   `json:"Service"`
	Address string   `json:"Address"`
	Port    int      `json:"Port"`
	Tags    []string `json:"Tags"`
}

type healthCheck struct {
	CheckID string `json:"CheckID"`
	Name    string `json:"Name"`
	Status  string `json:"Status"`
}

type serviceEntry struct {
	Node    healthNode    `json:"Node"`
	Service healthService `json:"Service"`
	Checks  []healthCheck `json:"Checks"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var reg serviceRegistration
	if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
		http.Error(w, "invalid registration payload", http.StatusBadRequest)
		return
	}
	if reg.ID == "" || reg.Name == "" {
		http.Error(w, "registration requires ID and Name", http.StatusBadRequest)
		return
	}
	name, err := hostname.Normalize(reg.Name)
	if err != nil {
		http.Error(w, "invalid service name", http.StatusBadRequest)
		return
	}

	b := Backend{
		ContainerID:  reg.ID,
		Address:      reg.Address,
		InternalPort: reg.Port,
		AppHostname:  name,
	}
	DecodeTags(reg.Tags, &b)

	check := Check{
		TCP:                     reg.Check.TCP,
		Interval:                parseDur(reg.Check.Interval, 0),
		Timeout:                 parseDur(reg.Check.Timeout, 2*time.Second),
		DeregisterCriticalAfter: parseDur(reg.Check.DeregisterCriticalServiceAfter, 60*time.Second),
	}

	s.reg.Register(b, check)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDeregister(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "missing service id", http.StatusBadRequest)
		return
	}
	s.reg.Deregister(id)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	name, err := hostname.Normalize(r.PathValue("name"))
	if err != nil {
		http.Error(w, "invalid service name", http.StatusBadRequest)
		return
	}

	q := r.URL.Query()
	passingOnly := false
	if v := q.Get("passing"); v != "" {
		passingOnly, _ = strconv.ParseBool(v)
	}
	var index uint64
	if v := q.Get("index"); v != "" {
		index, _ = strconv.ParseUint(v, 10, 64)
	}
	wait := parseDur(q.Get("wait"), s.defaultWait)

	var version uint64
	var backends []Backend
	if index > 0 {
		version, backends = s.reg.Watch(r.Context(), name, index, wait)
		if !passingOnly {
			backends = s.reg.QueryAll(name)
		}
	} else {
		version = s.reg.Version()
		if passingOnly {
			backends = s.reg.QueryHealthy(name)
		} else {
			backends = s.reg.QueryAll(name)
		}
	}

	entries := make([]serviceEntry, 0, len(backends))
	for _, b := range backends {
		entries = append(entries, serviceEntry{
			Node: healthNode{Node: "canopy-registry", Address: b.Address},
			Service: healthService{
				ID:      b.ContainerID,
				Service: b.AppHostname,
				Address: b.Address,
				Port:    b.InternalPort,
				Tags:    EncodeTags(b),
			},
			Checks: []healthCheck{{
				CheckID: "service:" + b.ContainerID,
				Name:    "tcp probe",
				Status:  string(b.Health),
			}},
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Consul-Index", strconv.FormatUint(version, 10))
	// The stock consul client refuses responses without these.
	w.Header().Set("X-Consul-LastContact", "0")
	w.Header().Set("X-Consul-KnownLeader", "true")
	if err := json.NewEncoder(w).Encode(entries); err != nil {
		s.log.Error("encode health response", "service", name, "error", err)
	}
}

func parseDur(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return def
	}
	return d
}
