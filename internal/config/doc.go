// Package config defines the door monitor settings and the layers they are
// read from: built-in defaults, an optional YAML file, an optional .env file,
// and environment variables such as MAX_PEOPLE_CHANGE_PER_FRAME,
// ALERT_DURATION and OCCUPANCY_THRESHOLD.
package config
