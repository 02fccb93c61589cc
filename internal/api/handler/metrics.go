package handler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	chatTurns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pasta_chat_turns_total",
		Help: "Chat endpoint calls by feature and outcome.",
	}, []string{"feature", "outcome"})

	openStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pasta_message_streams_open",
		Help: "Websocket message streams currently open.",
	})
)

// Outcomes of a chat turn.
const (
	outcomeOK          = "ok"
	outcomeStoreFailed = "store_failed"
	outcomeNoReply     = "responder_failed"
	outcomeNotLogged   = "not_logged"
)
