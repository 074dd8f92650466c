// Package wsstats records connection, message and close activity to
// local CSV files, for setups that want a rollup of reactor activity
// without standing up a metrics backend.
package wsstats
