// Package central manages the lifecycle of BLE peripherals on behalf of a host
// application.
//
// A Manager owns the scan/connect/reconnect state machine for every peripheral it
// has observed. Link events reported by a LinkDriver and commands issued by the
// host are funnelled through a single ordered loop, so transitions for a peripheral
// are never processed concurrently. The loop re-emits normalized events that a
// dispatcher delivers, in order, to the host's CentralListener and
// PeripheralListener.
//
// Policy:
//   - A link that drops unexpectedly is re-established automatically after
//     Options.ReconnectDelay using the driver's auto-connect primitive.
//   - Failed connection attempts and host-initiated disconnects are never retried.
//   - After a link comes up, services are discovered first and the payload size
//     negotiated second; the peripheral is Ready only after both steps.
package central
