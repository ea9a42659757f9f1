// Package admission decides whether a delegatee can accept a proposed
// delegation contract.
//
// Engine.Evaluate runs a fixed sequence of gates against a snapshot of the
// delegatee's capability manifest and its rolling reputation:
//
//  1. concurrency
//  2. reputation
//  3. permission token
//  4. firebreaks
//  5. resource fit
//  6. capability fit
//  7. timeout feasibility
//
// The first failing gate short-circuits the evaluation. A rejection is a
// Decision value with a human-readable reason, never an error. When every
// gate passes the Decision carries a confidence score built from the
// per-gate assessments.
package admission
