package gossip

import "github.com/arqmesh/arqmesh/metrics"

const subsystem = "gossip"

var (
	roundsInitiated = metrics.NewCounter(
		"rounds_initiated_total", subsystem,
		"number of gossip rounds initiated locally", []string{"type"})
	roundsAccepted = metrics.NewCounter(
		"rounds_accepted_total", subsystem,
		"number of gossip rounds accepted from remote peers", []string{"type"})
	roundsCompleted = metrics.NewCounter(
		"rounds_completed_total", subsystem,
		"number of gossip rounds run to completion", []string{"type"})
	roundsTimedOut = metrics.NewCounter(
		"rounds_timed_out_total", subsystem,
		"number of gossip rounds or initiates dropped for inactivity", []string{"type"})
	roundErrors = metrics.NewCounter(
		"round_errors_total", subsystem,
		"number of gossip rounds torn down by protocol errors", []string{"type"})
	bloomsSent = metrics.NewCounter(
		"op_blooms_sent_total", subsystem,
		"number of op bloom filters sent", []string{"type"})
	activeRounds = metrics.NewGauge(
		"active_rounds", subsystem,
		"number of currently active gossip rounds", []string{"type"})
)
