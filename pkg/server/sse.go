// Copyright 2026 AgentTrace Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/agenttrace/agenttrace/pkg/errs"
	"github.com/agenttrace/agenttrace/pkg/stream"
)

// sseKeepaliveInterval is how often an idle stream emits a comment frame so
// proxies do not drop the connection.
const sseKeepaliveInterval = 30 * time.Second

// handleStream serves real-time spans over server-sent events. The client
// picks a feed with ?trace_id= or ?channel=spans|llm|trace:<id>; the
// default is all spans. Unrecognized channel names are rejected.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Broker == nil {
		s.serviceUnavailable(w, "streaming")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	q := r.URL.Query()
	channel := stream.ChannelSpans
	if traceID := q.Get("trace_id"); traceID != "" {
		channel = stream.TraceChannel(traceID)
	} else if requested := q.Get("channel"); requested != "" {
		switch {
		case requested == stream.ChannelSpans:
		case requested == stream.ChannelLLM:
			channel = stream.ChannelLLM
		case strings.HasPrefix(requested, "trace:") && requested != "trace:":
			channel = requested
		default:
			s.respondError(w, errs.Validationf("unknown channel %q", requested))
			return
		}
	}

	sub, err := s.cfg.Broker.Subscribe(r.Context(), channel)
	if err != nil {
		s.respondError(w, err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case payload, open := <-sub.C():
			if !open {
				return
			}
			if _, err := fmt.Fprintf(w, "event: span\ndata: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
