package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/jeffsasaki/pledge-storefront/model"
)

// streamOrders sends the caller's visible orders as server-sent events, one
// full snapshot per change. A slow client skips straight to the newest one.
func (s *Server) streamOrders(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	filter, visible := s.visibleTo(userFrom(r))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if !visible {
		writeEvent(w, []model.Order{})
		flusher.Flush()
		select {
		case <-r.Context().Done():
		case <-s.Done:
		}
		return
	}

	var (
		mu     sync.Mutex
		latest []model.Order
		ready  = make(chan struct{}, 1)
	)
	unsubscribe := s.Orders.Subscribe(filter, func(orders []model.Order) {
		mu.Lock()
		latest = orders
		mu.Unlock()
		select {
		case ready <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.Done:
			return
		case <-ready:
			mu.Lock()
			orders := latest
			mu.Unlock()
			if err := writeEvent(w, orders); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, orders []model.Order) error {
	data, err := json.Marshal(present(orders))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: orders\ndata: %s\n\n", data)
	return err
}
