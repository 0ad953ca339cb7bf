package instrument

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DefaultTimeout is the response timeout applied to every query.
const DefaultTimeout = 5 * time.Second

// maxReadTimeoutMS is the largest ++read_tmo_ms the controller accepts.
const maxReadTimeoutMS = 3000

// maxStaleBytes bounds how much late output is discarded before giving up.
const maxStaleBytes = 4096

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// Prologix drives a Prologix GPIB-ETHERNET or GPIB-USB controller in
// controller mode. Every exchange selects the target address first, so one
// controller serves both source-measure units.
type Prologix struct {
	mu      sync.Mutex
	rw      io.ReadWriteCloser
	r       *bufio.Reader
	timeout time.Duration
	addr    int
	// dirty is set when an exchange failed part way. A reply the
	// controller delivers late must not be taken as the next response.
	dirty bool
}

// DialPrologix connects to a GPIB-ETHERNET controller, usually on port 1234.
func DialPrologix(address string, timeout time.Duration) (*Prologix, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to prologix at %s", address)
	}
	p, err := NewPrologix(conn, timeout)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

// NewPrologix configures a controller reachable through rw.
func NewPrologix(rw io.ReadWriteCloser, timeout time.Duration) (*Prologix, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	p := &Prologix{
		rw:      rw,
		r:       bufio.NewReader(rw),
		timeout: timeout,
		addr:    -1,
	}

	tmo := int(timeout / time.Millisecond)
	if tmo > maxReadTimeoutMS {
		tmo = maxReadTimeoutMS
	}
	setup := []string{
		"++mode 1",
		"++auto 0",
		"++eoi 1",
		"++eos 2",
		fmt.Sprintf("++read_tmo_ms %d", tmo),
	}
	for _, cmd := range setup {
		if err := p.send(cmd); err != nil {
			return nil, errors.Wrap(err, "configure prologix")
		}
	}

	log.Debug().Dur("timeout", timeout).Msg("Prologix controller configured")
	return p, nil
}

// Write sends cmd to the instrument at addr.
func (p *Prologix) Write(addr int, cmd string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.discardStale()
	if err := p.selectAddr(addr); err != nil {
		return err
	}
	if err := p.send(escape(cmd)); err != nil {
		p.markDirty()
		return errors.Wrapf(err, "write %q", cmd)
	}
	return nil
}

// Query sends cmd to the instrument at addr and returns its response line.
func (p *Prologix) Query(addr int, cmd string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.discardStale()
	if err := p.selectAddr(addr); err != nil {
		return "", err
	}
	if err := p.send(escape(cmd)); err != nil {
		p.markDirty()
		return "", errors.Wrapf(err, "write %q", cmd)
	}
	if err := p.send("++read eoi"); err != nil {
		p.markDirty()
		return "", errors.Wrap(err, "request read")
	}

	if d, ok := p.rw.(readDeadliner); ok {
		if err := d.SetReadDeadline(time.Now().Add(p.timeout)); err != nil {
			return "", errors.Wrap(err, "set read deadline")
		}
	}
	line, err := p.r.ReadString('\n')
	if err != nil {
		p.markDirty()
		return "", errors.Wrapf(err, "read response to %q", cmd)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Close closes the underlying connection.
func (p *Prologix) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rw.Close()
}

func (p *Prologix) selectAddr(addr int) error {
	if addr == p.addr {
		return nil
	}
	if err := p.send(fmt.Sprintf("++addr %d", addr)); err != nil {
		p.markDirty()
		return errors.Wrapf(err, "select address %d", addr)
	}
	p.addr = addr
	return nil
}

// markDirty forgets the selected address and schedules a drain before the
// next exchange.
func (p *Prologix) markDirty() {
	p.dirty = true
	p.addr = -1
}

// discardStale drops buffered input and anything the controller sends
// within one timeout window after a failed exchange. Transports without read
// deadlines only lose what is already buffered.
func (p *Prologix) discardStale() {
	if !p.dirty {
		return
	}
	p.dirty = false
	p.addr = -1
	p.r.Reset(p.rw)

	d, ok := p.rw.(readDeadliner)
	if !ok {
		return
	}
	buf := make([]byte, 256)
	for dropped := 0; dropped < maxStaleBytes; {
		if err := d.SetReadDeadline(time.Now().Add(p.timeout)); err != nil {
			break
		}
		n, err := p.rw.Read(buf)
		if n > 0 {
			dropped += n
			log.Debug().Str("data", strings.TrimRight(string(buf[:n]), "\r\n")).Msg("Discarded stale controller output")
		}
		if err != nil {
			break
		}
	}
	d.SetReadDeadline(time.Time{})
}

func (p *Prologix) send(line string) error {
	_, err := io.WriteString(p.rw, line+"\n")
	return err
}

// escape prefixes bytes the controller would otherwise interpret (CR, LF,
// ESC and '+') with ESC so they reach the instrument verbatim.
func escape(cmd string) string {
	if !strings.ContainsAny(cmd, "\r\n\x1b+") {
		return cmd
	}
	var b strings.Builder
	for i := 0; i < len(cmd); i++ {
		switch c := cmd[i]; c {
		case '\r', '\n', 0x1b, '+':
			b.WriteByte(0x1b)
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
