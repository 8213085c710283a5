package xmpp

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"
)

// Defaults for application-level liveness (whitespace keepalive).
const (
	DefaultKeepaliveInterval = 60 * time.Second
	DefaultReadTimeout       = 180 * time.Second
)

// Node is one parsed XML element subtree. The stream parser accumulates
// tokens until a top-level stanza closes, then hands the subtree to the
// stanza engine. Text is the concatenated character data directly inside
// the element.
type Node struct {
	XMLName  xml.Name
	Attrs    []xml.Attr
	Children []*Node
	Text     string
}

// Attr returns the value of a (namespace-less) attribute, or "".
func (n *Node) Attr(name string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// Child returns the first child with the given local name, or nil.
func (n *Node) Child(local string) *Node {
	for _, c := range n.Children {
		if c.XMLName.Local == local {
			return c
		}
	}
	return nil
}

// ChildNS returns the first child matching local name and namespace.
func (n *Node) ChildNS(local, space string) *Node {
	for _, c := range n.Children {
		if c.XMLName.Local == local && c.XMLName.Space == space {
			return c
		}
	}
	return nil
}

// StreamHeader carries the attributes of the server's <stream:stream>
// response. The component handshake needs the stream ID.
type StreamHeader struct {
	ID      string
	From    string
	Version string
}

// deadlineReader arms a read deadline before every read so a silent peer
// eventually fails the transport instead of blocking forever.
type deadlineReader struct {
	conn net.Conn
	t    *Transport
}

func (r *deadlineReader) Read(p []byte) (int, error) {
	if timeout := r.t.ReadTimeout; timeout > 0 {
		if err := r.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return 0, err
		}
	}
	n, err := r.conn.Read(p)
	if err != nil && errors.Is(err, os.ErrDeadlineExceeded) {
		return n, ErrKeepaliveLost
	}
	return n, err
}

// Transport owns the bidirectional byte channel to the server: framing of
// outbound XML fragments, the inbound token stream, optional STARTTLS
// upgrade, and whitespace keepalive. Only the writer goroutine calls Send;
// only the reader goroutine calls the Read* methods.
type Transport struct {
	writeMu   sync.Mutex
	conn      net.Conn
	dec       *xml.Decoder
	reader    *deadlineReader
	lastWrite time.Time

	KeepaliveInterval time.Duration
	ReadTimeout       time.Duration
}

// Dial opens a TCP connection to host:port.
func Dial(ctx context.Context, host string, port int) (*Transport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
	if err != nil {
		return nil, fmt.Errorf("xmpp: dial: %w", err)
	}
	t := &Transport{
		conn:              conn,
		KeepaliveInterval: DefaultKeepaliveInterval,
		ReadTimeout:       DefaultReadTimeout,
	}
	t.resetParser()
	return t, nil
}

// NewTransport wraps an existing connection. Used by tests with
// net.Pipe and by the session establishers.
func NewTransport(conn net.Conn) *Transport {
	t := &Transport{
		conn:              conn,
		KeepaliveInterval: DefaultKeepaliveInterval,
		ReadTimeout:       DefaultReadTimeout,
	}
	t.resetParser()
	return t
}

// resetParser discards all parser state and starts a fresh token stream.
// Called at construction, after STARTTLS, and after SASL (both require a
// new <stream:stream>).
func (t *Transport) resetParser() {
	t.reader = &deadlineReader{conn: t.conn, t: t}
	dec := xml.NewDecoder(t.reader)
	// Entity expansion is limited to the XML built-ins; external DTD
	// references are never resolved.
	dec.Strict = true
	dec.Entity = nil
	t.dec = dec
}

// StartTLS swaps the underlying byte stream for a TLS-wrapped one. The
// parser is reset: buffered plaintext is never re-parsed through the
// upgraded stream, and the caller must send a fresh stream prolog.
func (t *Transport) StartTLS(cfg *tls.Config) error {
	tlsConn := tls.Client(t.conn, cfg)
	if err := tlsConn.Handshake(); err != nil {
		return fmt.Errorf("xmpp: tls handshake: %w", err)
	}
	t.writeMu.Lock()
	t.conn = tlsConn
	t.writeMu.Unlock()
	t.resetParser()
	return nil
}

// RestartStream resets the parser for a stream reopen (post-SASL).
func (t *Transport) RestartStream() {
	t.resetParser()
}

// Send writes a full XML fragment to the stream.
func (t *Transport) Send(fragment string) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := io.WriteString(t.conn, fragment); err != nil {
		return fmt.Errorf("xmpp: write: %w", err)
	}
	t.lastWrite = time.Now()
	return nil
}

// Keepalive writes a single whitespace byte if no outbound traffic has
// occurred for the keepalive interval. The engine calls this from a
// ticker; servers treat top-level whitespace as a no-op.
func (t *Transport) Keepalive() error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if time.Since(t.lastWrite) < t.KeepaliveInterval {
		return nil
	}
	if _, err := io.WriteString(t.conn, " "); err != nil {
		return fmt.Errorf("xmpp: keepalive write: %w", err)
	}
	t.lastWrite = time.Now()
	return nil
}

// Close tears the connection down. The closing </stream:stream> is
// optional per RFC 6120; the peer may close the socket unilaterally.
func (t *Transport) Close() error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, _ = io.WriteString(t.conn, "</stream:stream>")
	return t.conn.Close()
}

// ReadStreamHeader consumes tokens until the <stream:stream> start
// element and returns its attributes.
func (t *Transport) ReadStreamHeader() (*StreamHeader, error) {
	for {
		tok, err := t.dec.Token()
		if err != nil {
			return nil, wrapReadErr(err)
		}
		switch el := tok.(type) {
		case xml.StartElement:
			if el.Name.Local != "stream" || el.Name.Space != nsStream {
				return nil, fmt.Errorf("xmpp: expected stream header, got <%s>", el.Name.Local)
			}
			h := &StreamHeader{}
			for _, a := range el.Attr {
				switch a.Name.Local {
				case "id":
					h.ID = a.Value
				case "from":
					h.From = a.Value
				case "version":
					h.Version = a.Value
				}
			}
			return h, nil
		case xml.ProcInst, xml.CharData, xml.Comment:
			// XML declaration, keepalive whitespace.
		}
	}
}

// NextStanza reads one complete top-level element (a stanza, a features
// element, a negotiation element, or a <stream:error>). Stream errors are
// decoded and returned as *StreamError; </stream:stream> returns
// ErrStreamClosed.
func (t *Transport) NextStanza() (*Node, error) {
	for {
		tok, err := t.dec.Token()
		if err != nil {
			return nil, wrapReadErr(err)
		}
		switch el := tok.(type) {
		case xml.StartElement:
			node, err := t.readSubtree(el)
			if err != nil {
				return nil, err
			}
			if node.XMLName.Local == "error" && node.XMLName.Space == nsStream {
				return nil, streamErrorFromNode(node)
			}
			return node, nil
		case xml.EndElement:
			// Only the stream element itself can close at depth zero.
			return nil, ErrStreamClosed
		case xml.CharData, xml.Comment, xml.ProcInst:
			// Keepalive whitespace between stanzas.
		}
	}
}

// readSubtree accumulates the element opened by start into a Node tree.
func (t *Transport) readSubtree(start xml.StartElement) (*Node, error) {
	return readSubtree(t.dec, start)
}

func readSubtree(dec *xml.Decoder, start xml.StartElement) (*Node, error) {
	node := &Node{XMLName: start.Name, Attrs: start.Attr}
	var text strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, wrapReadErr(err)
		}
		switch el := tok.(type) {
		case xml.StartElement:
			child, err := readSubtree(dec, el)
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, child)
		case xml.EndElement:
			node.Text = text.String()
			return node, nil
		case xml.CharData:
			text.Write(el)
		}
	}
}

// ParseFragment decodes a standalone XML fragment into a Node. Used by
// tests and by the round-trip property checks.
func ParseFragment(fragment string) (*Node, error) {
	dec := xml.NewDecoder(strings.NewReader(fragment))
	dec.Strict = true
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, wrapReadErr(err)
		}
		if start, ok := tok.(xml.StartElement); ok {
			return readSubtree(dec, start)
		}
	}
}

func wrapReadErr(err error) error {
	switch {
	case errors.Is(err, ErrKeepaliveLost):
		return ErrKeepaliveLost
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return ErrStreamClosed
	default:
		var syntax *xml.SyntaxError
		if errors.As(err, &syntax) {
			return fmt.Errorf("xmpp: parse error at line %d: %w", syntax.Line, err)
		}
		return fmt.Errorf("xmpp: read: %w", err)
	}
}

func streamErrorFromNode(node *Node) *StreamError {
	se := &StreamError{Condition: "undefined-condition"}
	for _, c := range node.Children {
		if c.XMLName.Local == "text" {
			se.Text = strings.TrimSpace(c.Text)
			continue
		}
		se.Condition = c.XMLName.Local
	}
	return se
}
