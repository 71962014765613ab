/*
Package pairing admits new mirrors into the fleet via single-use codes.

An operator issues a code out-of-band (chat, email); the mirror operator
feeds it to their agent, which redeems it at the origin:

	issue ──► code (15m TTL) ──► redeem ──► mirror (pending) + credential

Codes are single-use. Redemption consumes the code and creates the mirror
atomically (one storage transaction), so concurrent redemptions of the same
code admit exactly one mirror. A consumed code stays in storage until its
TTL expires so a second attempt gets the distinct "already used" error
rather than "unknown code"; the garbage collection loop deletes codes only
after expiry.

Issuance is capped: at most a fixed number of unconsumed, unexpired codes
may be outstanding at once (default 10), bounding how many registrations a
leaked admin token can mint.

The credential returned on redemption is the mirror's permanent identity.
It is generated here, stored with the mirror, and crosses the wire exactly
once in the redemption response.
*/
package pairing
