// Package contract defines the DelegationContract document exchanged between
// a delegator and a delegatee, together with its status state machine.
//
// A contract moves through
//
//	pending -> accepted | rejected
//	accepted -> active
//	active -> completed | failed | timeout
//
// and never backwards. Firebreaks are a tagged union decoded explicitly on
// their "type" field; each concrete firebreak carries only the fields it
// needs. Child contracts created with NewChild always sit one level deeper
// than their parent and share its root.
package contract
