// Package websocket carries realtime sessions over gorilla/websocket
// connections. Each connection gets a read pump that dispatches inbound
// frames and a write pump that drains the session's outbound queue.
package websocket
