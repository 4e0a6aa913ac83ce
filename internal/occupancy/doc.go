// Package occupancy decides door status and the video-spoofing alert from
// per-frame person counts.
//
// Policy.Evaluate is a pure function over an explicit State: the door is open
// when the current count reaches the occupancy threshold, and a frame-to-frame
// jump larger than MaxPeopleChangePerFrame arms an alert latch that holds for
// AlertDuration. Tracker wraps one State for a live stream and publishes
// snapshots that HTTP handlers can read while the capture loop writes.
package occupancy
