/******************************************************************************
 *
 *  Description :
 *
 *    Prometheus instrumentation. Counters and gauges are package-level and
 *    safe for concurrent use; statsInit mounts the scrape endpoint.
 *
 *****************************************************************************/

package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	promMessagesIn = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "oxytalk",
		Name:      "messages_in_total",
		Help:      "Client packets received over websocket connections.",
	})
	promMessagesOut = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "oxytalk",
		Name:      "messages_out_total",
		Help:      "Server packets written to websocket connections.",
	})
	promSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "oxytalk",
		Name:      "sessions_live",
		Help:      "Currently connected websocket sessions.",
	})
	promChannels = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "oxytalk",
		Name:      "channels_live",
		Help:      "Currently active channel actors.",
	})
)

func statsInit(mux *http.ServeMux, path string) {
	if path == "" || path == "-" {
		return
	}
	mux.Handle(path, promhttp.Handler())
}

func statsMessageIn() {
	promMessagesIn.Inc()
}

func statsMessageOut() {
	promMessagesOut.Inc()
}

func statsSessionsSet(n int) {
	promSessions.Set(float64(n))
}

func statsChannelsInc(delta int) {
	promChannels.Add(float64(delta))
}
