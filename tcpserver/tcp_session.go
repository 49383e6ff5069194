package tcpserver

// TCPServerSession is implemented by each connection session. The server
// runs Handle in its own goroutine and drops the session from its registry
// when Handle returns.
type TCPServerSession interface {
	// ID returns the identifier assigned by the server.
	//
	// Returns:
	//   - The session ID (uint32)
	ID() uint32

	// Handle runs the session until the connection ends. It must release
	// every resource the session holds before returning.
	Handle()

	// Close asks the session to end from another goroutine, unblocking
	// Handle. It must be safe to call multiple times and after Handle has
	// returned.
	//
	// Returns:
	//   - An error if closing the connection failed
	Close() error
}
