// Package calendar wires the month pipeline (fetch, normalize, serialize)
// and the scheduled warmer that keeps upcoming months cached.
package calendar
