/*
Package heartbeat tracks mirror liveness for the Coldstore origin.

Mirrors send a heartbeat every 60 seconds carrying their holdings counters
(file count, bytes stored). Record refreshes the mirror's last-heartbeat
timestamp, transitions approved or offline mirrors to online, and stores
the counters. Pending and rejected mirrors are refused.

The monitor's sweep loop marks online mirrors offline once no heartbeat
has arrived for three intervals (180 seconds). Sweeping runs at a third of
the timeout so detection lag stays bounded. Liveness timing is fully
decoupled from sync timing: an offline transition stops new pushes (see
package orchestrator) but deletes nothing.
*/
package heartbeat
