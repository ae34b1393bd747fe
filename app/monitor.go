package app

import (
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/splatprep/splatprep/splatprep"
)

// StartMonitor serves the run state on addr. The endpoint is read-only; it
// exists so a long calibration can be watched from another terminal.
func StartMonitor(addr string, job *Job) {
	router := mux.NewRouter()
	router.HandleFunc("/run", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, job.Snapshot())
	}).Methods("GET")
	router.HandleFunc("/run/log", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, job.Snapshot().Log)
	}).Methods("GET")
	go func() {
		log.Printf("[monitor] listening on %s", addr)
		if err := http.ListenAndServe(addr, router); err != nil {
			log.Printf("[monitor] %v", err)
		}
	}()
}

func jsonResponse(w http.ResponseWriter, x interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(splatprep.JsonMarshal(x))
}
