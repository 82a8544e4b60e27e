// Package pipeline is the frame orchestrator: it pulls frames from a
// FrameSource, drives each one through a fixed Chain of stages and
// publishes the outcome to a single-slot Store that any number of
// readers may poll through Query.
//
// One Orchestrator owns the write side. Traversals run strictly one at
// a time, and the Store swaps whole Results so readers never observe a
// partially built outcome.
package pipeline
