// Package server hosts the Fiber control API the player UI talks to. NewApp
// builds the application with the shared middleware chain (panic recovery,
// request IDs, access logging) and the /-/ diagnostics endpoints; the routes
// subpackage registers the task, cache, and media handlers on top of it.
package server
