// Package redis keeps the last published snapshot of every session in Redis
// so any replica can answer reads for sessions it does not host.
package redis
