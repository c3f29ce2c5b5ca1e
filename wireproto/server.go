package wireproto

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/gekko3d/borgvr/logging"
)

// Dataset is the server-side view of one bricked volume: its metadata
// block bytes (as they appear on disk) and raw per-brick payload
// access, as stored (the caller decompresses).
type Dataset interface {
	Description() string
	MetadataBlock() []byte
	BrickPayload(index uint32) ([]byte, error)
}

// Server serves LIST/OPEN/GETBRICK over accepted connections. Unknown
// commands close the connection; errors are reported by connection
// close rather than an error response line.
type Server struct {
	datasets []Dataset
	log      logging.Logger
}

// NewServer creates a Server exposing datasets in LIST order (their
// index is their dataset id).
func NewServer(datasets []Dataset, log logging.Logger) *Server {
	return &Server{datasets: datasets, log: logging.OrNop(log)}
}

// Serve handles one accepted connection until it issues an unknown
// command, closes, or errors. It returns when the connection is done.
func (s *Server) Serve(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if !s.handle(conn, line) {
			return
		}
	}
}

func (s *Server) handle(conn net.Conn, line string) bool {
	switch {
	case line == "LIST":
		return s.handleList(conn) == nil
	case strings.HasPrefix(line, "OPEN "):
		return s.handleOpen(conn, strings.TrimPrefix(line, "OPEN ")) == nil
	case strings.HasPrefix(line, "GETBRICK "):
		return s.handleGetBrick(conn, strings.TrimPrefix(line, "GETBRICK ")) == nil
	default:
		s.log.Warnf("wireproto: unknown command %q, closing connection", line)
		return false
	}
}

func (s *Server) handleList(conn net.Conn) error {
	var sb strings.Builder
	for i, ds := range s.datasets {
		fmt.Fprintf(&sb, "%d %s\n", i, ds.Description())
	}
	sb.WriteString("\n")
	return writeLine(conn, strings.TrimSuffix(sb.String(), "\n"))
}

func (s *Server) handleOpen(conn net.Conn, arg string) error {
	id, err := strconv.Atoi(arg)
	if err != nil || id < 0 || id >= len(s.datasets) {
		return fmt.Errorf("wireproto: bad OPEN argument %q", arg)
	}
	return writeFramed(conn, s.datasets[id].MetadataBlock())
}

func (s *Server) handleGetBrick(conn net.Conn, arg string) error {
	// GETBRICK always reads from datasets[0]. The server keeps no
	// per-connection state, so the dataset chosen by an earlier OPEN on
	// this connection does not select which dataset GETBRICK reads.
	index, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		return fmt.Errorf("wireproto: bad GETBRICK argument %q", arg)
	}
	if len(s.datasets) == 0 {
		return fmt.Errorf("wireproto: no datasets configured")
	}
	payload, err := s.datasets[0].BrickPayload(uint32(index))
	if err != nil {
		return err
	}
	return writeFramed(conn, payload)
}
