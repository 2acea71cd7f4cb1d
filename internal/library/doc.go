// Package library loads the declarative exercise library.
//
// A library directory holds:
//
//	aliases.yaml          canonical measurement vocabulary (required)
//	phrases.yaml          hint templates per language and section (optional)
//	exercises/**/*.yaml   one exercise definition per file
//
// An exercise may name a parent with `extends`. The parent is resolved first
// and deep-merged under the child: mappings merge key by key, lists and
// scalars in the child replace the parent's. `selectable` is never inherited,
// and ids ending in ".base" are never offered to the classifier.
//
// Loading is all-or-nothing. A missing id, duplicate id, unknown parent,
// inheritance cycle, malformed rule or cap, or a critical criterion that is
// not declared fails the whole load. A loaded Library is immutable; reloads
// build a new Library and swap it into a Holder atomically, so in-flight
// frames finish against the version they started with.
package library
