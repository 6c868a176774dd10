// Package bankidtest runs an in-process fake of the BankID relying-party API
// for tests and load generation.
//
// The fake issues uuid order references and tokens, walks each order through a
// scripted sequence of collect results and can inject error responses or
// dropped connections per endpoint. Every accepted request body is recorded.
package bankidtest

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// APIPath is the path under which the fake serves its four endpoints.
const APIPath = "/rp/v5.1/"

// Step is one scripted collect result.
type Step struct {
	Status   string
	HintCode string
}

var (
	Pending  = Step{Status: "pending", HintCode: "outstandingTransaction"}
	UserSign = Step{Status: "pending", HintCode: "userSign"}
	Complete = Step{Status: "complete"}
)

// Failed returns a failed step with the given hint code.
func Failed(hint string) Step {
	return Step{Status: "failed", HintCode: hint}
}

// Fault replaces the next response of one endpoint.
type Fault struct {
	StatusCode int
	ErrorCode  string
	Details    string
	// Raw, when set, is written verbatim instead of an {errorCode, details} body.
	Raw string
	// Drop closes the connection without answering.
	Drop bool
}

// Request is one request received by the fake.
type Request struct {
	Method string
	Body   map[string]any
}

// Order is the fake's view of one issued order.
type Order struct {
	Kind           string
	OrderRef       string
	AutoStartToken string
	QRStartToken   string
	QRStartSecret  string
	PersonalNumber string
	EndUserIP      string
	Cancelled      bool
	// Settled is set once collect returned complete or failed.
	Settled        bool
	Collects       int
}

type order struct {
	Order
	script []Step
}

// Server is a running fake. Its methods are safe for concurrent use.
type Server struct {
	srv *httptest.Server

	mu       sync.Mutex
	script   []Step
	scripts  map[string][]Step
	orders   map[string]*order
	faults   map[string][]Fault
	requests []Request
}

// NewServer starts a plain HTTP fake.
func NewServer() *Server {
	s := newServer()
	s.srv = httptest.NewServer(s)
	return s
}

// NewTLSServer starts a fake behind a self-signed TLS certificate; use Client
// to talk to it.
func NewTLSServer() *Server {
	s := newServer()
	s.srv = httptest.NewTLSServer(s)
	return s
}

func newServer() *Server {
	return &Server{
		script:  []Step{Pending, UserSign, Complete},
		scripts: make(map[string][]Step),
		orders:  make(map[string]*order),
		faults:  make(map[string][]Fault),
	}
}

// URL returns the API root to configure a client with, ending in "/".
func (s *Server) URL() string {
	return s.srv.URL + APIPath
}

// Client returns an *http.Client that trusts the fake.
func (s *Server) Client() *http.Client {
	return s.srv.Client()
}

func (s *Server) Close() {
	s.srv.Close()
}

// SetScript sets the collect sequence of orders issued from now on. The last
// step repeats once reached.
func (s *Server) SetScript(steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append([]Step(nil), steps...)
}

// Script overrides the remaining collect sequence of one order.
func (s *Server) Script(orderRef string, steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[orderRef]; ok {
		o.script = append([]Step(nil), steps...)
		return
	}
	s.scripts[orderRef] = append([]Step(nil), steps...)
}

// Fail queues f as the next response of method ("auth", "sign", "collect" or
// "cancel"). Faults are consumed in order.
func (s *Server) Fail(method string, f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[method] = append(s.faults[method], f)
}

// Requests returns every request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Calls counts the requests received for method.
func (s *Server) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r.Method == method {
			n++
		}
	}
	return n
}

// Order returns a copy of an issued order.
func (s *Server) Order(orderRef string) (Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderRef]
	if !ok {
		return Order{}, false
	}
	return o.Order, true
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, APIPath) {
		writeError(w, http.StatusNotFound, "notFound", "No such endpoint")
		return
	}
	method := path.Base(r.URL.Path)
	switch method {
	case "auth", "sign", "collect", "cancel":
	default:
		writeError(w, http.StatusNotFound, "notFound", "No such endpoint")
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "methodNotAllowed", "Only POST is supported")
		return
	}
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		writeError(w, http.StatusUnsupportedMediaType, "unsupportedMediaType", "Content-Type must be application/json")
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalidParameters", "Unreadable body")
		return
	}
	body := map[string]any{}
	if err := json.Unmarshal(raw, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalidParameters", "Invalid JSON")
		return
	}

	s.mu.Lock()
	s.requests = append(s.requests, Request{Method: method, Body: body})
	fault, faulted := s.nextFault(method)
	s.mu.Unlock()

	if faulted {
		writeFault(w, fault)
		return
	}

	switch method {
	case "auth", "sign":
		s.start(w, method, body)
	case "collect":
		s.collect(w, body)
	case "cancel":
		s.cancel(w, body)
	}
}

func (s *Server) nextFault(method string) (Fault, bool) {
	queue := s.faults[method]
	if len(queue) == 0 {
		return Fault{}, false
	}
	s.faults[method] = queue[1:]
	return queue[0], true
}

func (s *Server) start(w http.ResponseWriter, kind string, body map[string]any) {
	ip := str(body, "endUserIp")
	if ip == "" {
		writeError(w, http.StatusBadRequest, "invalidParameters", "Invalid endUserIp")
		return
	}
	if kind == "sign" {
		visible := str(body, "userVisibleData")
		if _, err := base64.StdEncoding.DecodeString(visible); visible == "" || err != nil {
			writeError(w, http.StatusBadRequest, "invalidParameters", "Invalid userVisibleData")
			return
		}
		if hidden := str(body, "userNonVisibleData"); hidden != "" {
			if _, err := base64.StdEncoding.DecodeString(hidden); err != nil {
				writeError(w, http.StatusBadRequest, "invalidParameters", "Invalid userNonVisibleData")
				return
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pnr := str(body, "personalNumber")
	if pnr != "" {
		for _, o := range s.orders {
			if o.PersonalNumber == pnr && !o.Cancelled && !o.Settled {
				writeError(w, http.StatusBadRequest, "alreadyInProgress", "Order already in progress for pno")
				return
			}
		}
	}

	o := &order{
		Order: Order{
			Kind:           kind,
			OrderRef:       uuid.NewString(),
			AutoStartToken: uuid.NewString(),
			QRStartToken:   uuid.NewString(),
			QRStartSecret:  uuid.NewString(),
			PersonalNumber: pnr,
			EndUserIP:      ip,
		},
		script: append([]Step(nil), s.script...),
	}
	s.orders[o.OrderRef] = o

	writeJSON(w, http.StatusOK, map[string]string{
		"orderRef":       o.OrderRef,
		"autoStartToken": o.AutoStartToken,
		"qrStartToken":   o.QRStartToken,
		"qrStartSecret":  o.QRStartSecret,
	})
}

func (s *Server) collect(w http.ResponseWriter, body map[string]any) {
	ref := str(body, "orderRef")

	s.mu.Lock()
	o, ok := s.orders[ref]
	if !ok || o.Cancelled {
		s.mu.Unlock()
		writeError(w, http.StatusBadRequest, "invalidParameters", "No such order")
		return
	}
	if override, ok := s.scripts[ref]; ok {
		o.script = override
		delete(s.scripts, ref)
	}
	step := o.step()
	o.Collects++
	if step.Status != "pending" {
		o.Settled = true
	}
	snapshot := o.Order
	s.mu.Unlock()

	resp := map[string]any{
		"orderRef": snapshot.OrderRef,
		"status":   step.Status,
	}
	if step.HintCode != "" {
		resp["hintCode"] = step.HintCode
	}
	if step.Status == "complete" {
		resp["completionData"] = completionData(snapshot)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) cancel(w http.ResponseWriter, body map[string]any) {
	ref := str(body, "orderRef")

	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[ref]
	if !ok || o.Cancelled || o.Settled {
		writeError(w, http.StatusBadRequest, "invalidParameters", "No such order")
		return
	}
	o.Cancelled = true
	writeJSON(w, http.StatusOK, map[string]any{})
}

// step returns the current scripted result and advances past it unless it is the last.
func (o *order) step() Step {
	if len(o.script) == 0 {
		return Pending
	}
	st := o.script[0]
	if len(o.script) > 1 {
		o.script = o.script[1:]
	}
	return st
}

func completionData(o Order) map[string]any {
	pnr := o.PersonalNumber
	if pnr == "" {
		pnr = "190000000000"
	}
	now := time.Now()
	return map[string]any{
		"user": map[string]string{
			"personalNumber": pnr,
			"name":           "Test Testsson",
			"givenName":      "Test",
			"surname":        "Testsson",
		},
		"device": map[string]string{
			"ipAddress": o.EndUserIP,
		},
		"cert": map[string]string{
			"notBefore": strconv.FormatInt(now.Add(-24*time.Hour).UnixMilli(), 10),
			"notAfter":  strconv.FormatInt(now.Add(365*24*time.Hour).UnixMilli(), 10),
		},
		"signature":    base64.StdEncoding.EncodeToString([]byte("<sig order=\"" + o.OrderRef + "\"/>")),
		"ocspResponse": base64.StdEncoding.EncodeToString([]byte("ocsp:" + o.OrderRef)),
	}
}

func str(body map[string]any, key string) string {
	v, _ := body[key].(string)
	return strings.TrimSpace(v)
}

func writeFault(w http.ResponseWriter, f Fault) {
	if f.Drop {
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				_ = conn.Close()
				return
			}
		}
		panic(http.ErrAbortHandler)
	}
	status := f.StatusCode
	if status == 0 {
		status = http.StatusBadRequest
	}
	if f.Raw != "" {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, f.Raw)
		return
	}
	writeError(w, status, f.ErrorCode, f.Details)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, map[string]string{"errorCode": code, "details": details})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
