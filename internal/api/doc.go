// Package api exposes the DocMCP HTTP interface: synchronous tool calls,
// asynchronous task submission, task polling and cancellation, and the
// terminal task history.
package api
