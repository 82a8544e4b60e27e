// Package astro holds the value types shared by the frame pipeline:
// detections, orbital summaries, telescope pointing and the linear
// world coordinate system written by calibration.
//
// Values in this package are immutable once handed to another stage.
// Nothing here imports pipeline/ or stages/.
package astro
