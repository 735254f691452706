// Package clock abstracts wall-clock time and timers.
//
// Session refresh, expiry and the cross-process lock's safety interval all
// read time and arm timers through a [Clock], so tests can drive them with
// the virtual [Fake] clock instead of sleeping.
package clock
