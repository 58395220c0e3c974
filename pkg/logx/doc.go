// Package logx is a thin structured-logging layer over zerolog.
//
// It exists so application packages can log through a small, stable API
// (Logger + Field helpers) while sinks and levels stay swappable at
// runtime via Service.Apply. The zero value of Logger is a safe no-op,
// which keeps constructors usable in tests without wiring a sink.
package logx
