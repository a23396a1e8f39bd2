package relay

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"courier/internal/domain"
	"courier/internal/platform/ratelimiter"
)

// Routes served by Server and used by Client.
const (
	pathKeys     = "/v1/keys"
	pathMessages = "/v1/messages"
	pathAccounts = "/v1/accounts"
	pathStream   = "/v1/stream"
)

type countResponse struct {
	Count int `json:"count"`
}

type canaryResponse struct {
	Canary string `json:"canary"`
}

// queued is an envelope waiting for the recipient to acknowledge it.
type queued struct {
	id  string
	env domain.Envelope
}

// mailbox holds everything the relay knows about one account.
type mailbox struct {
	bundle     *domain.PreKeyBundle
	oneTime    []domain.OneTimePreKeyPublic
	handedOut  map[domain.OneTimePreKeyID]bool
	canary     string
	queue      []queued
	changed    chan struct{}
	registered time.Time
}

// Server is an in-memory relay. It stores published prekey bundles and
// queues envelopes until the recipient acknowledges them on its stream. It
// never sees plaintext or private keys.
type Server struct {
	limiter *ratelimiter.MapLimiter
	now     func() time.Time

	mu    sync.Mutex
	boxes map[domain.Username]*mailbox
}

// NewServer returns an empty relay. limiter throttles message submissions
// per destination; nil disables throttling.
func NewServer(limiter *ratelimiter.MapLimiter) *Server {
	return &Server{
		limiter: limiter,
		now:     time.Now,
		boxes:   make(map[domain.Username]*mailbox),
	}
}

// Handler returns the relay's HTTP API.
//
//	POST /v1/keys                      publish a bundle
//	GET  /v1/keys/{username}           fetch a bundle, consuming one one-time prekey
//	GET  /v1/keys/{username}/count     count remaining one-time prekeys
//	POST /v1/messages/{username}       queue an envelope
//	GET  /v1/accounts/{username}/canary
//	GET  /v1/stream                    websocket envelope stream
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+pathKeys, s.handleRegister)
	mux.HandleFunc("GET "+pathKeys+"/{username}", s.handleFetchBundle)
	mux.HandleFunc("GET "+pathKeys+"/{username}/count", s.handleCount)
	mux.HandleFunc("POST "+pathMessages+"/{username}", s.handleSend)
	mux.HandleFunc("GET "+pathAccounts+"/{username}/canary", s.handleCanary)
	mux.HandleFunc("GET "+pathStream, s.handleStream)
	return accessLog(mux)
}

// boxLocked returns the mailbox for user, creating it. s.mu must be held.
func (s *Server) boxLocked(user domain.Username) *mailbox {
	b, ok := s.boxes[user]
	if !ok {
		b = &mailbox{
			handedOut: make(map[domain.OneTimePreKeyID]bool),
			changed:   make(chan struct{}),
		}
		s.boxes[user] = b
	}
	return b
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var b domain.PreKeyBundle
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if b.Username == "" {
		http.Error(w, "username required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	box := s.boxLocked(b.Username)
	// Keys already handed to an initiator are never offered twice.
	fresh := make([]domain.OneTimePreKeyPublic, 0, len(b.OneTimePreKeys))
	for _, k := range b.OneTimePreKeys {
		if !box.handedOut[k.ID] {
			fresh = append(fresh, k)
		}
	}
	b.OneTimePreKeys = nil
	box.bundle = &b
	box.oneTime = fresh
	if box.canary == "" {
		box.canary = uuid.NewString()
		box.registered = s.now()
	}
	n := len(fresh)
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "handleRegister",
		"username": b.Username,
		"one_time": n,
	}).Info("Registered prekey bundle")
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleFetchBundle(w http.ResponseWriter, r *http.Request) {
	user := domain.Username(r.PathValue("username"))

	s.mu.Lock()
	box, ok := s.boxes[user]
	if !ok || box.bundle == nil {
		s.mu.Unlock()
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	out := *box.bundle
	if len(box.oneTime) > 0 {
		k := box.oneTime[0]
		box.oneTime = box.oneTime[1:]
		box.handedOut[k.ID] = true
		out.OneTimePreKeys = []domain.OneTimePreKeyPublic{k}
	}
	s.mu.Unlock()

	writeJSON(w, out)
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	user := domain.Username(r.PathValue("username"))

	s.mu.Lock()
	box, ok := s.boxes[user]
	n := 0
	if ok {
		n = len(box.oneTime)
	}
	s.mu.Unlock()

	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, countResponse{Count: n})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	user := domain.Username(r.PathValue("username"))

	var env domain.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !s.limiter.Allow(user.String(), s.now()) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	if _, err := s.Enqueue(user, env); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleCanary(w http.ResponseWriter, r *http.Request) {
	user := domain.Username(r.PathValue("username"))

	s.mu.Lock()
	box, ok := s.boxes[user]
	canary := ""
	if ok {
		canary = box.canary
	}
	s.mu.Unlock()

	if canary == "" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, canaryResponse{Canary: canary})
}

var errUnknownUser = errors.New("relay: unknown recipient")

// Enqueue queues env for user and wakes any open stream. It fills in the
// destination, server timestamp and GUID and returns the GUID.
func (s *Server) Enqueue(user domain.Username, env domain.Envelope) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	box, ok := s.boxes[user]
	if !ok || box.bundle == nil {
		return "", errUnknownUser
	}
	id := uuid.NewString()
	env.Destination = user
	env.ServerGUID = id
	env.ServerTimestamp = s.now().UnixMilli()
	if env.Timestamp == 0 {
		env.Timestamp = env.ServerTimestamp
	}
	box.queue = append(box.queue, queued{id: id, env: env})
	close(box.changed)
	box.changed = make(chan struct{})
	return id, nil
}

// Queued reports how many envelopes wait for user.
func (s *Server) Queued(user domain.Username) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if box, ok := s.boxes[user]; ok {
		return len(box.queue)
	}
	return 0
}

// ack drops the envelope with id from user's queue.
func (s *Server) ack(user domain.Username, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	box, ok := s.boxes[user]
	if !ok {
		return false
	}
	for i, q := range box.queue {
		if q.id == id {
			box.queue = append(box.queue[:i], box.queue[i+1:]...)
			return true
		}
	}
	return false
}

// unsent returns the queued envelopes not yet written on this stream and
// the channel closed on the next enqueue.
func (s *Server) unsent(user domain.Username, sent map[string]bool) ([]queued, <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	box := s.boxLocked(user)
	var out []queued
	for _, q := range box.queue {
		if !sent[q.id] {
			out = append(out, q)
		}
	}
	return out, box.changed
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithField("function", "writeJSON").WithError(err).Warn("Failed to write response")
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// Hijack hands the connection to the websocket upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("relay: response writer cannot hijack")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		logrus.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"remote":   r.RemoteAddr,
			"status":   rec.status,
			"bytes":    rec.bytes,
			"duration": time.Since(start),
		}).Debug("Handled request")
	})
}
