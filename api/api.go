// Package api serves a loaded disk image over HTTP. Every request holds
// the image lock for its duration and fails with 409 Conflict when
// another request holds it incompatibly.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/sergev/floppyflux/disk"
	"github.com/sergev/floppyflux/geom"
	"github.com/sergev/floppyflux/system34"
)

// ImageLock guards the served image; lock holders are named by request.
type ImageLock = disk.TrackingLock[*disk.Image, string]

// Server is the HTTP front end of an image.
type Server struct {
	address string
	image   *ImageLock
	weakRun int
	server  *http.Server
	seq     atomic.Uint64
}

// NewServer creates a server for the image. weakRun is the zero-run
// length used when detecting weak regions.
func NewServer(addr string, image *ImageLock, weakRun int) *Server {
	return &Server{address: addr, image: image, weakRun: weakRun}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter().StrictSlash(true)

	const track = "/tracks/{cyl:[0-9]+}/{head:[0-9]+}"
	addRoute(router, "tracks", "GET", "/tracks", s.tracks)
	addRoute(router, "track", "GET", track, s.track)
	addRoute(router, "sectors", "GET", track+"/sectors", s.sectors)
	addRoute(router, "sector", "GET", track+"/sectors/{sector:[0-9]+}", s.readSector)
	addRoute(router, "sector", "PUT", track+"/sectors/{sector:[0-9]+}", s.writeSector)
	addRoute(router, "raw", "GET", track+"/raw", s.raw)
	addRoute(router, "markers", "GET", track+"/markers", s.markers)
	addRoute(router, "weak", "GET", track+"/weak", s.weak)
	return router
}

// Serve listens until Stop is called.
func (s *Server) Serve() error {
	log.Infof("API starts listening on %s", s.address)
	s.server = &http.Server{Addr: s.address, Handler: s.Router()}
	err := s.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	log.Info("API server stopping...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	s.server = nil
	return err
}

func addRoute(r *mux.Router, name, method, pattern string, handler http.HandlerFunc) {
	r.Methods(method).
		Path(pattern).
		Name(name).
		Handler(requestLogger(handler, name))
}

func requestLogger(inner http.Handler, name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		inner.ServeHTTP(w, r)
		log.WithFields(log.Fields{
			"remote":   r.RemoteAddr,
			"method":   r.Method,
			"path":     r.RequestURI,
			"duration": time.Since(start),
		}).Debugf("API | %s", name)
	})
}

// holder names a request as a lock holder.
func (s *Server) holder(req *http.Request) string {
	return fmt.Sprintf("#%d %s %s", s.seq.Add(1), req.Method, req.URL.Path)
}

// trackAddr parses the {cyl}/{head} route variables.
func trackAddr(req *http.Request) (geom.Ch, error) {
	vars := mux.Vars(req)
	cyl, err := strconv.ParseUint(vars["cyl"], 10, 16)
	if err != nil {
		return geom.Ch{}, fmt.Errorf("bad cylinder %q", vars["cyl"])
	}
	head, err := strconv.ParseUint(vars["head"], 10, 8)
	if err != nil {
		return geom.Ch{}, fmt.Errorf("bad head %q", vars["head"])
	}
	return geom.Ch{Cyl: uint16(cyl), Head: uint8(head)}, nil
}

func sectorNumber(req *http.Request) (uint8, error) {
	v := mux.Vars(req)["sector"]
	n, err := strconv.ParseUint(v, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("bad sector %q", v)
	}
	return uint8(n), nil
}

// intArg reads an optional integer query argument.
func intArg(req *http.Request, arg string, def int) (int, error) {
	v := req.URL.Query().Get(arg)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("bad %s %q", arg, v)
	}
	return n, nil
}

// errorReply is the body of every failed request.
type errorReply struct {
	Error   string   `json:"error"`
	Write   bool     `json:"write,omitempty"`
	Holders []string `json:"holders,omitempty"`
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var conflict *disk.LockConflict[string]
	switch {
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.Is(err, disk.ErrNoTrack), errors.Is(err, disk.ErrNoSector):
		return http.StatusNotFound
	case errors.Is(err, disk.ErrUnresolved), errors.Is(err, disk.ErrUnsupported),
		errors.Is(err, system34.ErrNoData), errors.Is(err, system34.ErrSectorSize):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// handleError replies with err and reports whether there was one.
func handleError(err error, statusCode int, w http.ResponseWriter) bool {
	if err == nil {
		return false
	}
	reply := errorReply{Error: err.Error()}
	var conflict *disk.LockConflict[string]
	if errors.As(err, &conflict) {
		reply.Write = conflict.Write
		reply.Holders = conflict.Holders
	} else if statusCode >= http.StatusInternalServerError {
		log.Errorf("%v", err)
	}
	sendJSONReply(reply, statusCode, w)
	return true
}

func sendJSONReply(obj any, statusCode int, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(obj); err != nil {
		log.Errorf("problem sending reply: %v", err)
	}
}
