// Package core implements the unit runtime.
//
// A Context owns a set of units. Each unit has its own bus and a single
// consumer goroutine that hands messages to the unit's MessageHandler, one
// at a time, while the unit is STARTED. Peers address each other through
// References obtained from the Context; a Reference never keeps the
// Context alive.
//
// Units implement MessageHandler and may add any of Initializable,
// Starter, Stopper, AttributeQueryable and ConfigSchema.
package core
