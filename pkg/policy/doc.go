/*
Package policy ranks catalog entries for mirror placement.

The ordering is popularity descending, then size ascending (more entries
fit a fixed capacity), then creation time descending, with entry ID as the
final tie-break. The ID tie-break makes the order total: any two rankings
over the same input agree, which the origin and the mirror agents rely on
to converge on the same file sets without coordinating.

Select(entries, n) returns the n best entries; it is the single source of
the "what should mirror X hold" decision everywhere in the system.
*/
package policy
