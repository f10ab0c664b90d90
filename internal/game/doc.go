// Package game holds the FreeCell data model: cards, boards, pile
// locations, and the seeded deck generator that lets two peers deal the
// same puzzle without exchanging it.
package game
