// Package fetch performs HTTP/1.1 requests over connections made by the
// dialer package, writing the request text and parsing the response by hand.
//
// A Transaction owns one logical request: it connects, sends, parses the
// status line and headers, follows redirects on fresh connections, and
// finally exposes the (possibly decompressed) body. Every request is sent with
// "Connection: Close"; the body ends when the server closes the connection,
// when Content-Length is exhausted, or at the last chunk.
package fetch
