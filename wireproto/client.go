package wireproto

import (
	"bufio"
	"fmt"
	"net"
	"time"
)

// Client drives one strictly-serialized request/response connection to a
// brick server. Parallel requests require separate connections /
// separate Client instances.
type Client struct {
	conn net.Conn
	r    *bufio.Reader
}

// Dial opens a new connection to a brick server at addr.
func Dial(addr string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, Timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return &Client{conn: conn, r: bufio.NewReader(conn)}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// List requests the server's dataset listing.
func (c *Client) List() ([]DatasetInfo, error) {
	if err := writeLine(c.conn, "LIST"); err != nil {
		return nil, err
	}
	c.conn.SetReadDeadline(time.Now().Add(Timeout))
	var body []byte
	for {
		line, err := c.r.ReadString('\n')
		if err != nil {
			return nil, asTimeout(fmt.Errorf("%w: %v", ErrConnectionFailed, err))
		}
		if line == "\n" {
			break
		}
		body = append(body, line...)
	}
	return parseListBody(string(body))
}

// Open requests the BORGVR metadata block for dataset id.
func (c *Client) Open(id int) ([]byte, error) {
	if err := writeLine(c.conn, fmt.Sprintf("OPEN %d", id)); err != nil {
		return nil, err
	}
	return readFramed(c.r, c.conn)
}

// GetBrick requests the raw (possibly compressed) payload of brick
// index, as stored on the server.
func (c *Client) GetBrick(index uint32) ([]byte, error) {
	if err := writeLine(c.conn, fmt.Sprintf("GETBRICK %d", index)); err != nil {
		return nil, err
	}
	return readFramed(c.r, c.conn)
}
