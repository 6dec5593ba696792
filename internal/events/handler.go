package events

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/dgnsrekt/visionary/internal/telemetry"
)

// Outcomes lists the reply states a stream can be filtered by.
var Outcomes = []string{telemetry.OutcomeResolved, telemetry.OutcomeFile, telemetry.OutcomeTimeout}

const keepAliveInterval = 15 * time.Second

// Filter selects outcomes; a nil Filter passes everything.
type Filter map[string]bool

// ParseFilter reads a comma separated outcome list. Unknown outcomes are an error.
func ParseFilter(raw string) (Filter, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	f := Filter{}
	for _, outcome := range strings.Split(raw, ",") {
		outcome = strings.ToLower(strings.TrimSpace(outcome))
		if outcome == "" {
			continue
		}
		if !slices.Contains(Outcomes, outcome) {
			return nil, fmt.Errorf("unknown outcome %q, want one of %s", outcome, strings.Join(Outcomes, ","))
		}
		f[outcome] = true
	}
	return f, nil
}

func (f Filter) Allows(kind string) bool { return f == nil || f[kind] }

// SSEHandler streams reply outcomes as server-sent events, one event per
// terminal reply. ?outcomes=resolved,timeout narrows the stream.
func SSEHandler(broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := ParseFilter(r.URL.Query().Get("outcomes"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		flusher.Flush()

		id, ch := broker.Subscribe()
		defer broker.Unsubscribe(id)
		keepAlive := time.NewTicker(keepAliveInterval)
		defer keepAlive.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-keepAlive.C:
				fmt.Fprint(w, ": keep-alive\n\n")
				flusher.Flush()
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if !filter.Allows(evt.Kind) {
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Kind, evt.Payload)
				flusher.Flush()
			}
		}
	}
}
