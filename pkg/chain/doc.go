// Package chain provides the step chain orchestrator of the batch runtime.
//
// A chain is a singly linked list of named steps built backward from its
// tail to a root:
//
//	loaded := chain.Map(chain.From(), "load", load)
//	tail := loaded.Filter("guard", acceptable).Then("apply", apply)
//	err := tail.Run(ctx, chain.MaxAwait(time.Minute))
//
// Map and MapAsync change the value type so they are functions; Filter and
// Then are methods. Each step receives the Result of its predecessor. A
// Skip signal propagates to the end of the chain without invoking the
// remaining step bodies.
//
// Steps created with MapAsync return a promise.Promise: the chain forwards
// its payload immediately and awaits the completion signal at the end of
// the run, bounded by MaxAwait.
package chain
