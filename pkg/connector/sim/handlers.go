package sim

import (
	"bufio"
	"io"
	"net"
)

// Echo writes back everything it reads.
func Echo(conn net.Conn) {
	defer conn.Close()
	io.Copy(conn, conn)
}

// Silent accepts the connection and never sends anything. It returns when the local side closes.
func Silent(conn net.Conn) {
	defer conn.Close()
	io.Copy(io.Discard, conn)
}

// Hangup accepts the connection and immediately closes it.
func Hangup(conn net.Conn) {
	conn.Close()
}

// Lines answers each newline terminated request with reply(request). A nil reply from the function
// sends nothing for that request.
func Lines(reply func(line string) []byte) Handler {
	return func(conn net.Conn) {
		defer conn.Close()
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			if out := reply(scanner.Text()); out != nil {
				if _, err := conn.Write(out); err != nil {
					return
				}
			}
		}
	}
}

// Greeting sends message as soon as the connection opens, then behaves like next.
func Greeting(message []byte, next Handler) Handler {
	return func(conn net.Conn) {
		if _, err := conn.Write(message); err != nil {
			conn.Close()
			return
		}
		if next == nil {
			next = Echo
		}
		next(conn)
	}
}
