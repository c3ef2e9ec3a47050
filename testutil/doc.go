// Package testutil holds helpers shared by package tests: scripted routine
// logics, transports that fail on demand, envelope and frame fixtures, and
// waits for components running on another goroutine.
//
// routine and message tests keep local helpers since this package imports
// them.
package testutil
