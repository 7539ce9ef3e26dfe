package httpapi

import (
	"net/http"
	"time"

	"github.com/voxbridge/voxbridge/internal/gateway"
	"github.com/voxbridge/voxbridge/internal/store"
)

// usageWindow parses the optional from/to RFC 3339 query bounds.
func usageWindow(r *http.Request) (store.UsageWindow, error) {
	var w store.UsageWindow
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return w, gateway.Newf(gateway.CodeValidation, "from %q is not an RFC 3339 timestamp", v)
		}
		w.From = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return w, gateway.Newf(gateway.CodeValidation, "to %q is not an RFC 3339 timestamp", v)
		}
		w.To = t
	}
	return w, nil
}

func (s *Server) handleUsageSummary(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	window, err := usageWindow(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	summary, err := s.store.GetUsageSummary(r.Context(), p.TenantID, window)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, summary)
}

func (s *Server) handleUsageBreakdown(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	groupBy := r.URL.Query().Get("groupBy")
	switch groupBy {
	case "provider", "agent", "day":
	default:
		s.fail(w, r, gateway.New(gateway.CodeValidation,
			"groupBy must be one of: provider, agent, day"))
		return
	}
	window, err := usageWindow(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	buckets, err := s.store.GetUsageBreakdown(r.Context(), p.TenantID, groupBy, window)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, buckets)
}

func (s *Server) handleTopAgents(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	buckets, err := s.store.GetTopAgents(r.Context(), p.TenantID, queryInt(r, "limit"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, buckets)
}
