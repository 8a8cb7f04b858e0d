// Package sim provides simulated IO devices for development and tests.
//
// A Connector registers any number of simulated boards and implements
// both protocol.Connector and protocol.Discoverer, so the daemon can be
// pointed at it instead of real hardware. The Device handle returned by
// Add stays valid across connect cycles and exposes input drivers
// (SetInput, SetAnalogInput, StepEncoder) and fault injection
// (SetReadError, SetWriteError) for exercising failure paths.
package sim
