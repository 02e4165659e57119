package comm

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"net"
	"sync"
	"time"
)

// frame is the unit of exchange on a network connection. Exactly one of
// Floats/Blob is set, mirroring message in the in-process implementation.
type frame struct {
	Src    int
	Tag    int
	Floats []float64
	Blob   []byte
}

// hello identifies the dialing rank during connection setup.
type hello struct {
	Rank int
}

// peer is one established connection to another rank. Writes are
// serialized by mu; reads happen on a single demux goroutine.
type peer struct {
	conn net.Conn
	mu   sync.Mutex
	enc  *gob.Encoder
}

func (p *peer) write(f frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enc.Encode(f)
}

// Network is a Communicator whose ranks are separate OS processes
// connected pairwise over TCP. addrs[i] is the listen address of rank i;
// every rank must be started with the same address list.
//
// Connection setup follows the usual pairwise scheme: rank i dials every
// rank j < i and accepts connections from every rank j > i, so each pair
// has exactly one connection. A demux goroutine per peer decodes frames
// and routes them into per-(src, tag) mailboxes.
type Network struct {
	rank  int
	addrs []string

	ln    net.Listener
	peers []*peer // indexed by rank; nil at our own index

	mu    sync.Mutex
	boxes map[boxKey]chan message

	closeOnce sync.Once
	closeErr  error
}

// dialRetryWindow bounds how long a rank keeps retrying a peer that has
// not opened its listener yet.
const dialRetryWindow = 30 * time.Second

// NewNetwork establishes the communicator for one rank of a TCP run.
// It blocks until connections to all peers exist.
func NewNetwork(rank int, addrs []string) (*Network, error) {
	if len(addrs) < 1 {
		return nil, fmt.Errorf("comm: empty address list")
	}
	if err := checkPeer(rank, len(addrs), "local"); err != nil {
		return nil, err
	}
	n := &Network{
		rank:  rank,
		addrs: addrs,
		peers: make([]*peer, len(addrs)),
		boxes: make(map[boxKey]chan message),
	}
	if err := n.connect(); err != nil {
		n.Close()
		return nil, err
	}
	return n, nil
}

func (n *Network) connect() error {
	ln, err := net.Listen("tcp", n.addrs[n.rank])
	if err != nil {
		return fmt.Errorf("comm: rank %d listen on %s: %w", n.rank, n.addrs[n.rank], err)
	}
	n.ln = ln

	// Dial lower ranks; their listeners may not be up yet, so retry.
	for r := 0; r < n.rank; r++ {
		conn, err := dialWithRetry(n.addrs[r])
		if err != nil {
			return fmt.Errorf("comm: rank %d dial rank %d at %s: %w", n.rank, r, n.addrs[r], err)
		}
		p := &peer{conn: conn, enc: gob.NewEncoder(conn)}
		if err := p.write(frame{Src: n.rank, Blob: mustEncode(hello{Rank: n.rank})}); err != nil {
			return fmt.Errorf("comm: rank %d handshake with rank %d: %w", n.rank, r, err)
		}
		n.peers[r] = p
	}

	// Accept higher ranks; the handshake frame tells us who dialed.
	for accepted := 0; accepted < len(n.addrs)-1-n.rank; accepted++ {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("comm: rank %d accept: %w", n.rank, err)
		}
		dec := gob.NewDecoder(conn)
		var f frame
		if err := dec.Decode(&f); err != nil {
			return fmt.Errorf("comm: rank %d handshake decode: %w", n.rank, err)
		}
		var h hello
		if err := gob.NewDecoder(bytes.NewReader(f.Blob)).Decode(&h); err != nil {
			return fmt.Errorf("comm: rank %d handshake decode: %w", n.rank, err)
		}
		if err := checkPeer(h.Rank, len(n.addrs), "handshake"); err != nil {
			return err
		}
		n.peers[h.Rank] = &peer{conn: conn, enc: gob.NewEncoder(conn)}
		go n.demux(h.Rank, dec)
	}

	// Demux goroutines for the connections we dialed.
	for r := 0; r < n.rank; r++ {
		go n.demux(r, gob.NewDecoder(n.peers[r].conn))
	}
	return nil
}

func dialWithRetry(addr string) (net.Conn, error) {
	deadline := time.Now().Add(dialRetryWindow)
	for {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			return conn, nil
		}
		if time.Now().After(deadline) {
			return nil, err
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func mustEncode(v any) []byte {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		panic(fmt.Sprintf("comm: encode: %v", err))
	}
	return buf.Bytes()
}

// demux routes incoming frames from one peer into mailboxes. It exits
// when the connection breaks; pending receivers then block forever, which
// matches the engine's no-timeout liveness model for a dead peer.
func (n *Network) demux(src int, dec *gob.Decoder) {
	for {
		var f frame
		if err := dec.Decode(&f); err != nil {
			return
		}
		n.box(src, n.rank, f.Tag) <- message{floats: f.Floats, blob: f.Blob}
	}
}

func (n *Network) box(src, dst, tag int) chan message {
	n.mu.Lock()
	defer n.mu.Unlock()
	k := boxKey{src: src, dst: dst, tag: tag}
	ch, ok := n.boxes[k]
	if !ok {
		// Buffered so the demux goroutine never stalls on the engine's
		// one-in-flight-per-tag traffic.
		ch = make(chan message, 4)
		n.boxes[k] = ch
	}
	return ch
}

func (n *Network) Rank() int { return n.rank }
func (n *Network) Size() int { return len(n.addrs) }

func (n *Network) Isend(data []float64, dst, tag int) (*Request, error) {
	if err := checkPeer(dst, len(n.addrs), "destination"); err != nil {
		return nil, err
	}
	snap := make([]float64, len(data))
	copy(snap, data)

	req := newRequest()
	if dst == n.rank {
		// Self-sends short-circuit through the local mailbox.
		go func() {
			n.box(n.rank, n.rank, tag) <- message{floats: snap}
			req.complete(nil)
		}()
		return req, nil
	}
	p := n.peers[dst]
	go func() {
		if err := p.write(frame{Src: n.rank, Tag: tag, Floats: snap}); err != nil {
			req.complete(fmt.Errorf("comm: send to rank %d tag %d: %w", dst, tag, err))
			return
		}
		req.complete(nil)
	}()
	return req, nil
}

func (n *Network) Irecv(buf []float64, src, tag int) (*Request, error) {
	if err := checkPeer(src, len(n.addrs), "source"); err != nil {
		return nil, err
	}
	req := newRequest()
	ch := n.box(src, n.rank, tag)
	go func() {
		msg := <-ch
		if len(msg.floats) != len(buf) {
			req.complete(fmt.Errorf("comm: recv from %d tag %d: payload length %d != buffer length %d",
				src, tag, len(msg.floats), len(buf)))
			return
		}
		copy(buf, msg.floats)
		req.complete(nil)
	}()
	return req, nil
}

func (n *Network) Send(v any, dst, tag int) error {
	if err := checkPeer(dst, len(n.addrs), "destination"); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("comm: encode for rank %d tag %d: %w", dst, tag, err)
	}
	if dst == n.rank {
		n.box(n.rank, n.rank, tag) <- message{blob: buf.Bytes()}
		return nil
	}
	if err := n.peers[dst].write(frame{Src: n.rank, Tag: tag, Blob: buf.Bytes()}); err != nil {
		return fmt.Errorf("comm: send to rank %d tag %d: %w", dst, tag, err)
	}
	return nil
}

func (n *Network) Recv(v any, src, tag int) error {
	if err := checkPeer(src, len(n.addrs), "source"); err != nil {
		return err
	}
	msg := <-n.box(src, n.rank, tag)
	if msg.blob == nil {
		return fmt.Errorf("comm: recv from %d tag %d: vector payload on typed receive", src, tag)
	}
	if err := gob.NewDecoder(bytes.NewReader(msg.blob)).Decode(v); err != nil {
		return fmt.Errorf("comm: decode from rank %d tag %d: %w", src, tag, err)
	}
	return nil
}

func (n *Network) Bcast(v any, root int) error {
	if err := checkPeer(root, len(n.addrs), "root"); err != nil {
		return err
	}
	if n.rank == root {
		for r := 0; r < len(n.addrs); r++ {
			if r == root {
				continue
			}
			if err := n.Send(v, r, bcastTag); err != nil {
				return err
			}
		}
		return nil
	}
	return n.Recv(v, root, bcastTag)
}

// Close shuts the listener and every peer connection. Safe to call more
// than once.
func (n *Network) Close() error {
	n.closeOnce.Do(func() {
		if n.ln != nil {
			n.closeErr = n.ln.Close()
		}
		for _, p := range n.peers {
			if p != nil {
				p.conn.Close()
			}
		}
	})
	return n.closeErr
}
