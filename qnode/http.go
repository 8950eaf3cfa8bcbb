package qnode

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"log-indexer/deploy"
)

// Handler routes the HTTP API of n. Metrics in gatherer are served on
// /metrics when it is not nil.
func Handler(n *Node, gatherer prometheus.Gatherer) http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/deploy", n.handleDeploy).Methods(http.MethodPost)
	api.HandleFunc("/tablespaces", n.handleTablespaces).Methods(http.MethodGet)
	api.HandleFunc("/tablespaces/{name}", n.handleTablespace).Methods(http.MethodGet)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

func (n *Node) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		level.Warn(n.logger).Log("msg", "writing response", "err", err)
	}
}

func (n *Node) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var deployments []deploy.Deployment
	if err := json.NewDecoder(r.Body).Decode(&deployments); err != nil {
		n.writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("decoding deployments: %v", err)})
		return
	}
	if len(deployments) == 0 {
		n.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "no deployments"})
		return
	}

	deployed := make([]Tablespace, 0, len(deployments))
	for _, d := range deployments {
		ts, err := n.Deploy(r.Context(), d)
		if err != nil {
			level.Error(n.logger).Log("msg", "deployment failed", "tablespace", d.Tablespace, "uri", d.URI, "err", err)
			n.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
			return
		}
		deployed = append(deployed, *ts)
	}
	n.writeJSON(w, http.StatusOK, deployed)
}

func (n *Node) handleTablespaces(w http.ResponseWriter, _ *http.Request) {
	n.writeJSON(w, http.StatusOK, n.Tablespaces())
}

func (n *Node) handleTablespace(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	ts, ok := n.Tablespace(name)
	if !ok {
		n.writeJSON(w, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("tablespace %s not found", name)})
		return
	}
	n.writeJSON(w, http.StatusOK, ts)
}
