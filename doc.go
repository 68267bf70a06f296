// Package moku is a client driver for a two-channel networked measurement
// instrument. The device exposes three independent planes: a register file
// configured through a locally held mirror and pushed in batches, a
// continuous UDP push of rendered frames, and managed data-logging sessions
// that record to device storage or stream live samples back to the client.
//
// Instrument ties the planes together for one device. Concrete instruments
// (Phasemeter) embed it and define their register fields with the regs
// package. The control connection itself stays behind the Device interface;
// this package never dictates the management transport.
package moku
