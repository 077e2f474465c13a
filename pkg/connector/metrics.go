// Copyright 2024-2026 Aiku AI

package connector

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Forwarding directions used as metric labels.
const (
	directionToZulip = "slack_to_zulip"
	directionToSlack = "zulip_to_slack"
)

// Metrics holds the bridge's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	forwarded    *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	sendFailures *prometheus.CounterVec
	commands     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slack_zulip_bridge",
			Name:      "messages_forwarded_total",
			Help:      "Messages that matched a bridge and were forwarded.",
		}, []string{"direction"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slack_zulip_bridge",
			Name:      "messages_dropped_total",
			Help:      "Messages that were not forwarded.",
		}, []string{"direction", "reason"}),
		sendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slack_zulip_bridge",
			Name:      "send_failures_total",
			Help:      "Outbound sends that failed.",
		}, []string{"direction"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slack_zulip_bridge",
			Name:      "commands_total",
			Help:      "Link and unlink commands handled.",
		}, []string{"command", "result"}),
	}
	reg.MustRegister(m.forwarded, m.dropped, m.sendFailures, m.commands)
	return m
}

func (m *Metrics) countForwarded(direction string) {
	if m != nil {
		m.forwarded.WithLabelValues(direction).Inc()
	}
}

func (m *Metrics) countDropped(direction, reason string) {
	if m != nil {
		m.dropped.WithLabelValues(direction, reason).Inc()
	}
}

func (m *Metrics) countSendFailure(direction string) {
	if m != nil {
		m.sendFailures.WithLabelValues(direction).Inc()
	}
}

func (m *Metrics) countCommand(command, result string) {
	if m != nil {
		m.commands.WithLabelValues(command, result).Inc()
	}
}
