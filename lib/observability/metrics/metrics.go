/*
 * Stronghold
 * Copyright (C) 2024  Stronghold Security, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package metrics defines the prometheus collectors exported on the
// diagnostics listener.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "stronghold"

var (
	// PayloadRequests counts payload store round-trips by store, op and
	// result.
	PayloadRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payload_requests_total",
			Help:      "Payload store requests by backend, operation and result.",
		},
		[]string{"backend", "op", "result"},
	)

	// PayloadLatency observes payload store round-trip durations.
	PayloadLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payload_request_seconds",
			Help:      "Payload store request latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "op"},
	)

	// KMSRequests counts KMS round-trips by provider, op and result.
	KMSRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kms_requests_total",
			Help:      "KMS requests by provider, operation and result.",
		},
		[]string{"provider", "op", "result"},
	)

	// Rollbacks counts compensating actions by outcome.
	Rollbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Compensating actions run after failed workflows.",
		},
		[]string{"result"},
	)
)

// RegisterAll registers every collector of the package with reg.
func RegisterAll(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		PayloadRequests, PayloadLatency, KMSRequests, Rollbacks,
	} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

// ObservePayload records one payload store round-trip.
func ObservePayload(backend, op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	PayloadRequests.WithLabelValues(backend, op, result).Inc()
	PayloadLatency.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}

// ObserveKMS records one KMS round-trip.
func ObserveKMS(provider, op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	KMSRequests.WithLabelValues(provider, op, result).Inc()
}
