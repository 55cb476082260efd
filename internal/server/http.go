package server

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/halite-audio/halite/internal/loader"
	"github.com/halite-audio/halite/internal/protocol"
)

// restHandler serves the HTTP side door: identifier loading and track
// decoding without a WebSocket session.
func (s *Server) restHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/loadidentifiers", s.httpLoadIdentifiers)
	mux.HandleFunc("/decodetracks", s.httpDecodeTracks)
	return mux
}

func (s *Server) authorized(w http.ResponseWriter, r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	if subtle.ConstantTimeCompare([]byte(auth), []byte(s.cfg.Password)) != 1 {
		logrus.WithField("path", r.URL.Path).Warn("Invalid Authorization header on HTTP request")
		w.Header().Set("WWW-Authenticate", `None realm="Identifier loading."`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

func (s *Server) httpLoadIdentifiers(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}
	identifiers := r.URL.Query()["identifiers"]
	if len(identifiers) == 0 {
		http.Error(w, "Bad Request -- missing identifiers query parameter", http.StatusBadRequest)
		return
	}

	results := make([]protocol.LoadResponse, len(identifiers))
	var wg sync.WaitGroup
	for i, identifier := range identifiers {
		wg.Add(1)
		go func(i int, identifier string) {
			defer wg.Done()
			ch, err := loader.New(s.engine).Load(identifier)
			if err != nil {
				results[i] = s.loadResponse(loader.Result{Status: loader.StatusLoadFailed})
				return
			}
			results[i] = s.loadResponse(<-ch)
		}(i, identifier)
	}
	wg.Wait()

	writeJSON(w, results)
}

func (s *Server) httpDecodeTracks(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}
	tokens := r.URL.Query()["tracks"]
	if len(tokens) == 0 {
		http.Error(w, "Bad Request -- missing tracks query parameter", http.StatusBadRequest)
		return
	}

	tracks := make([]protocol.Track, len(tokens))
	for i, token := range tokens {
		t, err := s.codec.Decode(token)
		if err != nil {
			logrus.WithError(err).Error("Error decoding tracks")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		tracks[i] = trackJSON(token, t)
	}

	writeJSON(w, tracks)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Warn("Failed to write HTTP response")
	}
}
