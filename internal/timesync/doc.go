// Package timesync aligns the IMU stream with camera frames.
//
// An Aligner holds the IMU-to-frame clock correction: a coarse offset that
// is estimated once from the newest IMU sample and the first synchronised
// frame, plus a fine time shift that may be retuned at any time from another
// goroutine. A Synchronizer walks frames in order and, for each one, returns
// the IMU samples recorded since the previous frame expressed in frame time.
//
// The Synchronizer is owned by a single worker goroutine. Its only blocking
// point is the store range query, which is released by Shutdown.
package timesync
