// Package series reconciles cumulative inverter history.
//
// Raw device samples are aligned onto canonical bucket boundaries (Aligner),
// completed to one sample per bucket (Fill) and merged across devices
// (Merger). The site aggregate follows a strict join: it exists for a bucket
// or a period only when every expected device contributed to it.
//
// All transforms return new values; input series are never modified.
package series
