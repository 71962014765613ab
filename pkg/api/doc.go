/*
Package api implements the Coldstore origin's HTTP surface.

Three route groups share one mux:

	public        GET /health, GET /metrics
	mirror-facing POST /api/mirrors/redeem
	              POST /api/mirrors/heartbeat        (credential)
	              GET  /api/mirrors/content/{id}     (credential)
	admin         POST /api/pairing-codes
	              GET  /api/mirrors
	              GET  /api/mirrors/{id}/status
	              GET  /api/mirrors/{id}/logs
	              POST /api/mirrors/{id}/approve
	              POST /api/mirrors/{id}/reject
	              POST /api/mirrors/{id}/trigger-sync

Mirror routes authenticate with the mirror's bearer credential, resolved
through the registry on every call. Admin routes require the operator's
admin token. The mirror credential appears in exactly one response body:
the redemption reply; admin views never include it.

Errors use a flat {"error": "..."} JSON shape. Pairing failures map the
error taxonomy onto status codes: unknown code 404, expired 410, already
used 409, issuance rate limit 429.
*/
package api
