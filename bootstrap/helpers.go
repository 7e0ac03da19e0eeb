package bootstrap

import (
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ClassifyBindError explains why the listener could not bind addr.
func ClassifyBindError(err error, addr string) string {
	if err == nil {
		return ""
	}

	errStr := err.Error()

	if errors.Is(err, syscall.EADDRINUSE) || containsIgnoreCase(errStr, "address already in use") ||
		containsIgnoreCase(errStr, "only one usage of each socket address") {
		return fmt.Sprintf("Address %s is already in use.\n"+
			"  Remediation:\n"+
			"  - Find the process holding the port: lsof -i %s\n"+
			"  - Choose another port with PORT or WEBSERVER_SERVER_PORT", addr, addr)
	}

	if errors.Is(err, syscall.EACCES) || containsIgnoreCase(errStr, "permission denied") {
		return fmt.Sprintf("Permission denied binding %s.\n"+
			"  Ports below 1024 usually need elevated privileges.\n"+
			"  Remediation:\n"+
			"  - Use a port above 1024 and put a reverse proxy in front\n"+
			"  - Or grant the binary CAP_NET_BIND_SERVICE", addr)
	}

	if containsIgnoreCase(errStr, "cannot assign requested address") {
		return fmt.Sprintf("Host in %s is not an address of this machine.\n"+
			"  Remediation:\n"+
			"  - Set HOSTNAME_BIND to 127.0.0.1 or 0.0.0.0", addr)
	}

	if containsIgnoreCase(errStr, "no such host") || containsIgnoreCase(errStr, "lookup") {
		return fmt.Sprintf("Cannot resolve the host in %s.\n"+
			"  Remediation:\n"+
			"  - Verify HOSTNAME_BIND\n"+
			"  - Try using an IP address (127.0.0.1) instead of a hostname", addr)
	}

	return fmt.Sprintf("Failed to bind %s: %v", addr, err)
}

// ClassifyConnectionError provides specific error messages based on the type of database connection failure.
func ClassifyConnectionError(err error, addr string) string {
	if err == nil {
		return ""
	}

	errStr := err.Error()

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Sprintf("Connection to MongoDB at %s timed out.\n"+
			"  Possible causes:\n"+
			"  - MongoDB is starting up (the driver keeps retrying)\n"+
			"  - Network latency or firewall blocking the connection\n"+
			"  Remediation:\n"+
			"  - Verify network connectivity to the host in DATABASE", addr)
	}

	if errors.Is(err, syscall.ECONNREFUSED) || containsIgnoreCase(errStr, "connection refused") ||
		containsIgnoreCase(errStr, "actively refused") {
		return fmt.Sprintf("Connection refused by MongoDB at %s.\n"+
			"  This usually means MongoDB is not running.\n"+
			"  Remediation:\n"+
			"  - Start MongoDB: docker run -d -p 27017:27017 mongo:7\n"+
			"  - Verify the DATABASE connection string", addr)
	}

	if containsIgnoreCase(errStr, "no such host") || containsIgnoreCase(errStr, "lookup") {
		return fmt.Sprintf("Cannot resolve hostname in MongoDB address %s.\n"+
			"  Remediation:\n"+
			"  - Verify the hostname is correct\n"+
			"  - Check DNS configuration", addr)
	}

	if containsIgnoreCase(errStr, "authentication") || containsIgnoreCase(errStr, "auth error") {
		return fmt.Sprintf("Authentication failed for MongoDB at %s.\n"+
			"  Remediation:\n"+
			"  - Verify the username and password in DATABASE\n"+
			"  - Check the authSource option", addr)
	}

	if containsIgnoreCase(errStr, "server selection") {
		return fmt.Sprintf("No reachable MongoDB server at %s: %v\n"+
			"  Remediation:\n"+
			"  - Ensure MongoDB is running and accessible\n"+
			"  - Check replica set and TLS options in DATABASE", addr, err)
	}

	return fmt.Sprintf("Failed to connect to MongoDB at %s: %v", addr, err)
}

// containsIgnoreCase checks if a string contains a substring (case-insensitive).
func containsIgnoreCase(s, substr string) bool {
	if len(substr) == 0 {
		return true
	}
	if len(s) < len(substr) {
		return false
	}
	for i := 0; i <= len(s)-len(substr); i++ {
		if equalFoldAt(s, substr, i) {
			return true
		}
	}
	return false
}

func equalFoldAt(s, substr string, start int) bool {
	for i := 0; i < len(substr); i++ {
		c1, c2 := s[start+i], substr[i]
		if c1 == c2 {
			continue
		}
		if 'A' <= c1 && c1 <= 'Z' {
			c1 += 'a' - 'A'
		}
		if 'A' <= c2 && c2 <= 'Z' {
			c2 += 'a' - 'A'
		}
		if c1 != c2 {
			return false
		}
	}
	return true
}
