/*
Package health provides pluggable health checks for the engine's external
dependencies (the DBMS HTTP endpoint, the message bus connection) and a
rolling Status that requires a configurable number of consecutive failures
before flipping a target from healthy to unhealthy, so a single blip never
flaps the Admin Facade's status.

	checker := health.NewHTTPChecker("http://clickhouse-hot:8123/ping")
	status := health.NewStatus()
	status.Update(checker.Check(ctx), health.DefaultConfig())
	if !status.Healthy {
		// feed into /api/v1/storage/status's issues[]
	}

HTTPChecker and TCPChecker are the two Checker implementations; both are
dependency-agnostic (any URL, any host:port) so the same checker type probes
the DBMS endpoint, the bus, or the admin server's own liveness port.
*/
package health
