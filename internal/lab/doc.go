// Package lab talks to the liquid-handling apparatus that dispenses dye
// drops into plate wells and reads back the resulting colour.
//
// Two implementations of Lab are provided:
//
//   - Client: HTTP client for a remote Lab API
//     (POST /well/{x}/{y}/add_dyes, GET /well/{x}/{y}/color, POST /clear_plate)
//   - VirtualLab: in-process simulated plate, also servable over HTTP with
//     NewHandler so that Client can be exercised end to end
//
// Neither implementation retries. A failed call is returned to the caller,
// which stops the experiment rather than risk desynchronising the plate.
package lab
